// Package lint provides advisory checks for pipeline definitions.
//
// Rules are organized by group:
//   - matrix: build matrix hygiene (MX01-MX03)
//   - steps: script phase hygiene (ST01-ST03)
//   - environment: variable hygiene (EN01-EN02)
//   - version: version format hygiene (VR01)
//
// Unlike schema validation, lint findings never block a run. They flag
// configurations that are legal but probably not what the author meant.
package lint

import (
	"sort"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

// Diagnostic represents a lint finding. Key names the configuration
// location, e.g. "environment.matrix[1]" or "build_script".
type Diagnostic struct {
	RuleID   string        `json:"ruleId"`
	Severity core.Severity `json:"severity"`
	Message  string        `json:"message"`
	Key      string        `json:"key,omitempty"`
}

// CheckFunc analyzes a parsed pipeline and returns diagnostics.
// Rules are stateless; all context arrives through the config.
type CheckFunc func(cfg *schema.Config) []Diagnostic

// RuleDef is a data-driven rule definition.
type RuleDef struct {
	ID          string        // Unique identifier, e.g. "MX01"
	Name        string        // Human-readable name, e.g. "matrix.unreferenced_variable"
	Group       string        // Category, e.g. "matrix", "steps"
	Description string        // Human-readable description
	Severity    core.Severity // Default severity
	Check       CheckFunc     // The check function

	// Documentation fields for richer rule documentation
	Rationale   string // Why this rule exists, what problems it prevents
	BadExample  string // Config showing the anti-pattern
	GoodExample string // Config showing the correct pattern
	Fix         string // How to fix violations (when not obvious)
}

// GetRuleInfo extracts metadata from a rule for documentation/tooling.
func GetRuleInfo(def RuleDef) core.RuleInfo {
	return core.RuleInfo{
		ID:              def.ID,
		Name:            def.Name,
		Group:           def.Group,
		Description:     def.Description,
		DefaultSeverity: def.Severity,
	}
}

// Options controls a lint pass.
type Options struct {
	// Disable lists rule IDs that should not run.
	Disable []string
	// Threshold drops diagnostics less severe than this level.
	// The zero value reports only errors; use core.SeverityHint for
	// everything.
	Threshold core.Severity
}

// Check runs all registered rules against a parsed pipeline and returns
// the surviving diagnostics in a stable order.
func Check(cfg *schema.Config, opts Options) []Diagnostic {
	disabled := make(map[string]bool, len(opts.Disable))
	for _, id := range opts.Disable {
		disabled[id] = true
	}

	var diagnostics []Diagnostic
	for _, rule := range All() {
		if disabled[rule.ID] || rule.Check == nil {
			continue
		}
		for _, d := range rule.Check(cfg) {
			if d.Severity > opts.Threshold {
				continue
			}
			diagnostics = append(diagnostics, d)
		}
	}

	sort.Slice(diagnostics, func(i, j int) bool {
		if diagnostics[i].RuleID != diagnostics[j].RuleID {
			return diagnostics[i].RuleID < diagnostics[j].RuleID
		}
		if diagnostics[i].Key != diagnostics[j].Key {
			return diagnostics[i].Key < diagnostics[j].Key
		}
		return diagnostics[i].Message < diagnostics[j].Message
	})
	return diagnostics
}

// HasSeverity reports whether any diagnostic is at least as severe as
// the given level.
func HasSeverity(diagnostics []Diagnostic, level core.Severity) bool {
	for _, d := range diagnostics {
		if d.Severity <= level {
			return true
		}
	}
	return false
}
