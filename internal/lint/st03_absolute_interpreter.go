package lint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(AbsoluteInterpreter)
}

var windowsAbsPath = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// AbsoluteInterpreter flags steps that invoke a hardcoded absolute path.
var AbsoluteInterpreter = RuleDef{
	ID:          "ST03",
	Name:        "steps.absolute_interpreter",
	Group:       "steps",
	Description: "Step invokes an interpreter by absolute path instead of a matrix variable.",
	Severity:    core.SeverityInfo,
	Check:       checkAbsoluteInterpreter,
	Rationale: "A hardcoded path like C:\\Python27\\python.exe pins every " +
		"matrix cell to the same interpreter, which defeats the point of " +
		"varying PYTHON per row.",
	BadExample:  "test_script:\n  - C:\\Python27\\python.exe -m pytest",
	GoodExample: "test_script:\n  - \"%PYTHON%\\\\python.exe -m pytest\"",
	Fix:         "Reference the interpreter through a matrix variable.",
}

func checkAbsoluteInterpreter(cfg *schema.Config) []Diagnostic {
	var diagnostics []Diagnostic
	for _, phase := range core.AllPhases {
		for i, step := range cfg.StepsFor(phase) {
			token := firstToken(step.Command)
			if token == "" {
				continue
			}
			if windowsAbsPath.MatchString(token) || strings.HasPrefix(token, "/") {
				diagnostics = append(diagnostics, Diagnostic{
					RuleID:   "ST03",
					Severity: core.SeverityInfo,
					Message:  fmt.Sprintf("step invokes absolute path %s", token),
					Key:      fmt.Sprintf("%s[%d]", phase, i),
				})
			}
		}
	}
	return diagnostics
}

func firstToken(command string) string {
	command = strings.TrimSpace(command)
	command = strings.TrimPrefix(command, `"`)
	token, _, _ := strings.Cut(command, " ")
	return strings.TrimSuffix(token, `"`)
}
