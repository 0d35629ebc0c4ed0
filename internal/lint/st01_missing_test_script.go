package lint

import (
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(MissingTestScript)
}

// MissingTestScript flags pipelines with no test phase at all.
var MissingTestScript = RuleDef{
	ID:          "ST01",
	Name:        "steps.missing_test_script",
	Group:       "steps",
	Description: "Pipeline defines no test_script.",
	Severity:    core.SeverityWarning,
	Check:       checkMissingTestScript,
	Rationale: "A build that installs and compiles but never tests gives a " +
		"green check for code that was never exercised.",
	Fix: "Add a test_script phase, or disable this rule for deploy-only pipelines.",
}

func checkMissingTestScript(cfg *schema.Config) []Diagnostic {
	if len(cfg.TestScript) > 0 {
		return nil
	}
	return []Diagnostic{{
		RuleID:   "ST01",
		Severity: core.SeverityWarning,
		Message:  "no test_script defined",
		Key:      "test_script",
	}}
}
