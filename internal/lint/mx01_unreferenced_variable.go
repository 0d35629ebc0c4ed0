package lint

import (
	"fmt"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/internal/vars"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(UnreferencedVariable)
}

// UnreferencedVariable flags matrix variables that nothing in the
// pipeline references.
var UnreferencedVariable = RuleDef{
	ID:          "MX01",
	Name:        "matrix.unreferenced_variable",
	Group:       "matrix",
	Description: "Matrix variable is not referenced by any step, filter, or other variable.",
	Severity:    core.SeverityInfo,
	Check:       checkUnreferencedVariable,
	Rationale: "A matrix variable that no step or filter reads usually means a " +
		"renamed variable left behind, so the matrix runs more jobs than the " +
		"pipeline can distinguish. Variables read by the tested program itself " +
		"are invisible to this check, hence the low severity.",
	BadExample:  "environment:\n  matrix:\n    - PYTHON: C:\\Python27\n      OLD_PYTHON_HOME: C:\\Python26\ninstall:\n  - \"%PYTHON%\\\\python.exe --version\"",
	GoodExample: "environment:\n  matrix:\n    - PYTHON: C:\\Python27\ninstall:\n  - \"%PYTHON%\\\\python.exe --version\"",
}

func checkUnreferencedVariable(cfg *schema.Config) []Diagnostic {
	referenced := make(map[string]bool)
	note := func(texts ...string) {
		for _, text := range texts {
			for _, name := range vars.References(text) {
				referenced[name] = true
			}
		}
	}

	note(cfg.Version, cfg.CloneFolder)
	for _, phase := range core.AllPhases {
		for _, step := range cfg.StepsFor(phase) {
			note(step.Command)
		}
	}
	for _, v := range cfg.Environment.Global {
		note(v.Value)
	}
	for _, row := range cfg.Environment.Matrix {
		for _, name := range row.Names {
			note(row.Vars[name].Value)
		}
	}
	for _, a := range cfg.Artifacts {
		note(a.Path, a.Name)
	}
	for _, entry := range cfg.Cache {
		note(entry.Path, entry.KeyFile)
	}
	for _, n := range cfg.Notifications {
		note(n.URL)
	}

	// Selector keys count as references: the variable steers the matrix.
	for _, sel := range cfg.Matrix.Exclude {
		for key := range sel {
			referenced[key] = true
		}
	}
	for _, sel := range cfg.Matrix.AllowFailures {
		for key := range sel {
			referenced[key] = true
		}
	}

	var diagnostics []Diagnostic
	for i, row := range cfg.Environment.Matrix {
		for _, name := range row.Names {
			if referenced[name] {
				continue
			}
			diagnostics = append(diagnostics, Diagnostic{
				RuleID:   "MX01",
				Severity: core.SeverityInfo,
				Message:  fmt.Sprintf("matrix variable %s is never referenced", name),
				Key:      fmt.Sprintf("environment.matrix[%d]", i),
			})
		}
	}
	return diagnostics
}
