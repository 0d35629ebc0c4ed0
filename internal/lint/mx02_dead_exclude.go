package lint

import (
	"fmt"

	"github.com/rdmontgomery/exa/internal/matrix"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(DeadExclude)
}

// DeadExclude flags exclude selectors that match no job in the matrix.
var DeadExclude = RuleDef{
	ID:          "MX02",
	Name:        "matrix.dead_exclude",
	Group:       "matrix",
	Description: "Exclude selector matches no job in the expanded matrix.",
	Severity:    core.SeverityWarning,
	Check:       checkDeadExclude,
	Rationale: "An exclude that matches nothing is dead configuration. It " +
		"usually means a variable value drifted, so a job the author meant to " +
		"skip is silently running again.",
}

func checkDeadExclude(cfg *schema.Config) []Diagnostic {
	if len(cfg.Matrix.Exclude) == 0 {
		return nil
	}

	// Expand without excludes so each selector is tested against the
	// full matrix.
	full := *cfg
	full.Matrix.Exclude = nil
	jobs := matrix.Expand(&full)

	var diagnostics []Diagnostic
	for i, sel := range cfg.Matrix.Exclude {
		matched := false
		for _, job := range jobs {
			if matrix.Matches(job, sel) {
				matched = true
				break
			}
		}
		if !matched {
			diagnostics = append(diagnostics, Diagnostic{
				RuleID:   "MX02",
				Severity: core.SeverityWarning,
				Message:  "exclude selector matches no job",
				Key:      fmt.Sprintf("matrix.exclude[%d]", i),
			})
		}
	}
	return diagnostics
}
