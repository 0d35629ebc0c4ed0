package lint

import (
	"fmt"
	"strings"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/internal/vars"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(PlaintextSecret)
}

// credentialMarkers are name fragments that suggest a variable carries a
// credential.
var credentialMarkers = []string{
	"PASSWORD", "PASSWD", "SECRET", "TOKEN", "APIKEY", "API_KEY",
	"PRIVATE_KEY", "CREDENTIAL", "AUTH",
}

// PlaintextSecret flags credential-looking variables stored in plaintext.
var PlaintextSecret = RuleDef{
	ID:          "EN02",
	Name:        "environment.plaintext_secret",
	Group:       "environment",
	Description: "Variable looks like a credential but is not stored as a secure value.",
	Severity:    core.SeverityWarning,
	Check:       checkPlaintextSecret,
	Rationale: "Pipeline files live in version control. A plaintext token " +
		"in one is effectively published to everyone with repository access " +
		"and to every fork.",
	BadExample:  "environment:\n  DEPLOY_TOKEN: ghp_live1234567890",
	GoodExample: "environment:\n  DEPLOY_TOKEN:\n    secure: YXNkZjEyMzQ...",
	Fix:         "Encrypt the value with `exa encrypt` and use the secure form.",
}

func checkPlaintextSecret(cfg *schema.Config) []Diagnostic {
	var diagnostics []Diagnostic

	flag := func(name string, v schema.EnvValue, key string) {
		if v.IsSecure() || v.Value == "" {
			return
		}
		// A value that is itself a reference carries no credential.
		if len(vars.References(v.Value)) > 0 {
			return
		}
		upper := strings.ToUpper(name)
		for _, marker := range credentialMarkers {
			if strings.Contains(upper, marker) {
				diagnostics = append(diagnostics, Diagnostic{
					RuleID:   "EN02",
					Severity: core.SeverityWarning,
					Message:  fmt.Sprintf("%s looks like a credential but is stored in plaintext", name),
					Key:      key,
				})
				return
			}
		}
	}

	for name, v := range cfg.Environment.Global {
		flag(name, v, "environment."+name)
	}
	for i, row := range cfg.Environment.Matrix {
		for _, name := range row.Names {
			flag(name, row.Vars[name], fmt.Sprintf("environment.matrix[%d].%s", i, name))
		}
	}
	return diagnostics
}
