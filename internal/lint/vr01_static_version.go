package lint

import (
	"strings"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(StaticVersion)
}

// StaticVersion flags version formats that produce the same version for
// every build.
var StaticVersion = RuleDef{
	ID:          "VR01",
	Name:        "version.static_format",
	Group:       "version",
	Description: "version format lacks {build}, so every build gets the same version.",
	Severity:    core.SeverityWarning,
	Check:       checkStaticVersion,
	Rationale: "Build versions double as artifact labels. Without {build} " +
		"two builds of the same branch are indistinguishable.",
	BadExample:  "version: 1.0.0",
	GoodExample: "version: 1.0.{build}",
}

func checkStaticVersion(cfg *schema.Config) []Diagnostic {
	if cfg.Version == "" || strings.Contains(cfg.Version, "{build}") {
		return nil
	}
	return []Diagnostic{{
		RuleID:   "VR01",
		Severity: core.SeverityWarning,
		Message:  "version format does not include {build}",
		Key:      "version",
	}}
}
