package lint

import (
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(IgnoredBuildScript)
}

// IgnoredBuildScript flags build_script steps that build: false silences.
var IgnoredBuildScript = RuleDef{
	ID:          "ST02",
	Name:        "steps.ignored_build_script",
	Group:       "steps",
	Description: "build: false disables the build phase, so build_script never runs.",
	Severity:    core.SeverityWarning,
	Check:       checkIgnoredBuildScript,
	Rationale: "The runner skips build_script entirely when build is turned " +
		"off. Keeping both around means the file says one thing and the build " +
		"does another.",
	BadExample:  "build: false\nbuild_script:\n  - python setup.py build",
	GoodExample: "build_script:\n  - python setup.py build",
	Fix:         "Remove build: false, or delete the build_script phase.",
}

func checkIgnoredBuildScript(cfg *schema.Config) []Diagnostic {
	if !cfg.Build.Disabled() || len(cfg.BuildScript) == 0 {
		return nil
	}
	return []Diagnostic{{
		RuleID:   "ST02",
		Severity: core.SeverityWarning,
		Message:  "build_script is defined but build: false keeps it from running",
		Key:      "build_script",
	}}
}
