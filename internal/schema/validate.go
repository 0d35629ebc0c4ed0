package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var versionPlaceholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// knownVersionPlaceholders are the substitutions allowed in the version
// format string.
var knownVersionPlaceholders = map[string]bool{
	"build":   true,
	"branch":  true,
	"version": true,
}

// knownSelectorDimensions are the non-variable keys a matrix selector may
// reference.
var knownSelectorDimensions = map[string]bool{
	"platform":      true,
	"configuration": true,
}

// Validate checks the pipeline definition for structural problems beyond
// what the YAML codec enforces. All findings are aggregated so a single
// pass reports everything.
func (c *Config) Validate() error {
	var errs []error

	if c.Version != "" {
		for _, m := range versionPlaceholder.FindAllStringSubmatch(c.Version, -1) {
			if !knownVersionPlaceholders[m[1]] {
				errs = append(errs, fmt.Errorf("version: unknown placeholder {%s}", m[1]))
			}
		}
	}

	errs = append(errs, c.validateSteps()...)
	errs = append(errs, c.validateMatrix()...)

	if c.SkipCommits.Message != "" {
		if _, err := regexp.Compile(c.SkipCommits.Message); err != nil {
			errs = append(errs, fmt.Errorf("skip_commits.message: %w", err))
		}
	}

	for i, a := range c.Artifacts {
		if strings.TrimSpace(a.Path) == "" {
			errs = append(errs, fmt.Errorf("artifacts[%d]: path is required", i))
		}
	}

	for i, entry := range c.Cache {
		if entry.Path == "" {
			errs = append(errs, fmt.Errorf("cache[%d]: path is required", i))
		}
	}

	for i, n := range c.Notifications {
		switch strings.ToLower(n.Provider) {
		case "webhook":
			if n.URL == "" {
				errs = append(errs, fmt.Errorf("notifications[%d]: webhook provider requires a url", i))
			}
		case "":
			errs = append(errs, fmt.Errorf("notifications[%d]: provider is required", i))
		default:
			errs = append(errs, fmt.Errorf("notifications[%d]: unknown provider %q", i, n.Provider))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateSteps() []error {
	var errs []error
	phases := map[string][]Step{
		"init":         c.Init,
		"install":      c.Install,
		"before_build": c.BeforeBuild,
		"build_script": c.BuildScript,
		"after_build":  c.AfterBuild,
		"before_test":  c.BeforeTest,
		"test_script":  c.TestScript,
		"after_test":   c.AfterTest,
		"on_success":   c.OnSuccess,
		"on_failure":   c.OnFailure,
		"on_finish":    c.OnFinish,
	}
	for phase, steps := range phases {
		for i, s := range steps {
			if strings.TrimSpace(s.Command) == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: step command is empty", phase, i))
			}
		}
	}
	return errs
}

func (c *Config) validateMatrix() []error {
	var errs []error

	known := make(map[string]bool)
	for name := range c.Environment.Global {
		known[name] = true
	}
	for _, row := range c.Environment.Matrix {
		for name := range row.Vars {
			known[name] = true
		}
	}

	check := func(kind string, selectors []Selector) {
		for i, sel := range selectors {
			if len(sel) == 0 {
				errs = append(errs, fmt.Errorf("matrix.%s[%d]: selector is empty", kind, i))
				continue
			}
			for key := range sel {
				if !knownSelectorDimensions[key] && !known[key] {
					errs = append(errs, fmt.Errorf("matrix.%s[%d]: %s matches no dimension or declared variable", kind, i, key))
				}
			}
		}
	}
	check("exclude", c.Matrix.Exclude)
	check("allow_failures", c.Matrix.AllowFailures)

	return errs
}
