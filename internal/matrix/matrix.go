// Package matrix expands a pipeline definition into its job list: the
// cross product of environment matrix rows, platforms, and
// configurations, with exclusions and allowed failures applied.
package matrix

import (
	"fmt"
	"strings"

	"github.com/rdmontgomery/exa/internal/schema"
)

// Job is one expanded matrix cell. Env carries the merged environment
// declarations (globals overlaid by the matrix row); secure values are
// still sealed at this point.
type Job struct {
	Name          string
	Platform      string
	Configuration string
	RowNames      []string
	Env           map[string]schema.EnvValue
	AllowFailure  bool
}

// Expand produces the ordered job list for a pipeline. Matrix rows vary
// slowest, then platform, then configuration, matching declaration order
// in the file. An empty dimension contributes a single empty value, so a
// pipeline with no matrix yields exactly one job.
func Expand(cfg *schema.Config) []Job {
	rows := cfg.Environment.Matrix
	if len(rows) == 0 {
		rows = []schema.MatrixRow{{}}
	}
	platforms := cfg.Platform
	if len(platforms) == 0 {
		platforms = schema.StringList{""}
	}
	configurations := cfg.Configuration
	if len(configurations) == 0 {
		configurations = schema.StringList{""}
	}

	var jobs []Job
	for _, row := range rows {
		for _, platform := range platforms {
			for _, configuration := range configurations {
				job := Job{
					Platform:      platform,
					Configuration: configuration,
					RowNames:      row.Names,
					Env:           mergeEnv(cfg.Environment.Global, row),
				}
				job.Name = jobName(row, platform, configuration)
				if matchesAny(job, cfg.Matrix.Exclude) {
					continue
				}
				job.AllowFailure = matchesAny(job, cfg.Matrix.AllowFailures)
				jobs = append(jobs, job)
			}
		}
	}
	return jobs
}

// Matches reports whether the selector matches the job: every key/value
// pair must match a dimension or the job's merged environment. Secure
// values never match; their plaintext is not available during expansion.
func Matches(job Job, sel schema.Selector) bool {
	if len(sel) == 0 {
		return false
	}
	for key, want := range sel {
		var got string
		switch key {
		case "platform":
			got = job.Platform
		case "configuration":
			got = job.Configuration
		default:
			v, ok := job.Env[key]
			if !ok || v.IsSecure() {
				return false
			}
			got = v.Value
		}
		if got != want {
			return false
		}
	}
	return true
}

func matchesAny(job Job, selectors []schema.Selector) bool {
	for _, sel := range selectors {
		if Matches(job, sel) {
			return true
		}
	}
	return false
}

func mergeEnv(global map[string]schema.EnvValue, row schema.MatrixRow) map[string]schema.EnvValue {
	merged := make(map[string]schema.EnvValue, len(global)+len(row.Vars))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range row.Vars {
		merged[k] = v
	}
	return merged
}

// jobName builds the display name from the row variables in declaration
// order, then the non-empty dimensions.
func jobName(row schema.MatrixRow, platform, configuration string) string {
	parts := make([]string, 0, len(row.Names))
	for _, name := range row.Names {
		v := row.Vars[name]
		if v.IsSecure() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, v.Value))
	}
	name := strings.Join(parts, ", ")

	var dims []string
	if platform != "" {
		dims = append(dims, "platform="+platform)
	}
	if configuration != "" {
		dims = append(dims, "configuration="+configuration)
	}
	if len(dims) > 0 {
		if name != "" {
			name += "; "
		}
		name += strings.Join(dims, ", ")
	}
	if name == "" {
		name = "default"
	}
	return name
}
