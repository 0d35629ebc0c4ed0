package output

// LintReport is the JSON payload for lint results.
type LintReport struct {
	File        string           `json:"file"`
	Summary     LintSummary      `json:"summary"`
	Diagnostics []LintDiagnostic `json:"diagnostics,omitempty"`
}

// LintSummary aggregates diagnostic counts by severity.
type LintSummary struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
	Hints    int `json:"hints"`
}

// LintDiagnostic is one lint finding in JSON output.
type LintDiagnostic struct {
	RuleID   string `json:"ruleId"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Key      string `json:"key,omitempty"`
}
