package lint

import (
	"fmt"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(RedundantOverride)
}

// RedundantOverride flags matrix rows that restate a global variable with
// the same value.
var RedundantOverride = RuleDef{
	ID:          "EN01",
	Name:        "environment.redundant_override",
	Group:       "environment",
	Description: "Matrix row redefines a global variable without changing its value.",
	Severity:    core.SeverityHint,
	Check:       checkRedundantOverride,
	Rationale: "Restating a global in a row is noise until the values drift, " +
		"at which point it becomes a trap: editing the global no longer " +
		"affects that row.",
	Fix: "Drop the row entry and let the global apply.",
}

func checkRedundantOverride(cfg *schema.Config) []Diagnostic {
	if len(cfg.Environment.Global) == 0 {
		return nil
	}

	var diagnostics []Diagnostic
	for i, row := range cfg.Environment.Matrix {
		for _, name := range row.Names {
			global, isGlobal := cfg.Environment.Global[name]
			if !isGlobal {
				continue
			}
			v := row.Vars[name]
			if v.IsSecure() || global.IsSecure() {
				continue
			}
			if v.Value == global.Value {
				diagnostics = append(diagnostics, Diagnostic{
					RuleID:   "EN01",
					Severity: core.SeverityHint,
					Message:  fmt.Sprintf("%s restates the global value %q", name, global.Value),
					Key:      fmt.Sprintf("environment.matrix[%d]", i),
				})
			}
		}
	}
	return diagnostics
}
