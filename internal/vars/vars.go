// Package vars implements environment merging and variable expansion for
// pipeline steps. Steps reference variables as ${NAME} or %NAME%; both
// forms resolve against the job environment before the shell sees the
// command.
package vars

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	bracePattern   = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	percentPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)
)

// Env is a mutable set of environment variables. Keys are case-sensitive.
type Env map[string]string

// Merge layers envs over the receiver, later arguments winning, and
// returns a new Env. Nil receivers and arguments are allowed.
func (e Env) Merge(layers ...Env) Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// Expand replaces ${NAME} and %NAME% references in s with values from e.
// Unresolved references are left intact for the shell to interpret.
func (e Env) Expand(s string) string {
	s = bracePattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := e[name]; ok {
			return v
		}
		return m
	})
	return percentPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := e[name]; ok {
			return v
		}
		return m
	})
}

// Unresolved returns the sorted variable names referenced by s that e
// cannot resolve.
func (e Env) Unresolved(s string) []string {
	seen := make(map[string]bool)
	for _, m := range bracePattern.FindAllStringSubmatch(s, -1) {
		if _, ok := e[m[1]]; !ok {
			seen[m[1]] = true
		}
	}
	for _, m := range percentPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := e[m[1]]; !ok {
			seen[m[1]] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// References returns the sorted variable names referenced by s in either
// form, whether or not they resolve.
func References(s string) []string {
	return Env(nil).Unresolved(s)
}

// Environ renders e as sorted KEY=value pairs for exec.Cmd.
func (e Env) Environ() []string {
	out := make([]string, 0, len(e))
	for k, v := range e {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ParseEnviron builds an Env from KEY=value pairs as produced by
// os.Environ or an environment snapshot. Malformed entries are skipped.
func ParseEnviron(pairs []string) Env {
	env := make(Env, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// FormatVersion substitutes {build}, {branch}, and {version} placeholders
// in a version format string.
func FormatVersion(format string, build int64, branch, version string) string {
	r := strings.NewReplacer(
		"{build}", fmt.Sprintf("%d", build),
		"{branch}", branch,
		"{version}", version,
	)
	return r.Replace(format)
}
