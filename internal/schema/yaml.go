package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a step from either a bare scalar (platform-default
// shell) or a single-key mapping selecting the shell: {cmd: ...},
// {ps: ...}, {sh: ...}.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Command = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: step mapping must have exactly one key", node.Line)
		}
		key, val := node.Content[0], node.Content[1]
		switch key.Value {
		case ShellCmd, ShellPowershell, ShellPosix:
			if val.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: %s step must be a string", val.Line, key.Value)
			}
			s.Shell = key.Value
			s.Command = val.Value
			return nil
		default:
			return fmt.Errorf("line %d: unknown step form %q (want cmd, ps, or sh)", key.Line, key.Value)
		}
	default:
		return fmt.Errorf("line %d: step must be a string or a cmd/ps/sh mapping", node.Line)
	}
}

// UnmarshalYAML decodes an environment value from a scalar or from a
// {secure: ...} mapping. Scalars keep their source text, so numeric-looking
// values like 2.7 survive as written.
func (v *EnvValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v.Value = node.Value
		return nil
	case yaml.MappingNode:
		var m struct {
			Secure string `yaml:"secure"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		if m.Secure == "" {
			return fmt.Errorf("line %d: environment value mapping must carry a secure key", node.Line)
		}
		v.Secure = m.Secure
		return nil
	default:
		return fmt.Errorf("line %d: environment value must be a scalar or a secure block", node.Line)
	}
}

// UnmarshalYAML decodes the environment block. The matrix and global keys
// are structural; every other key declares a global variable.
func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: environment must be a mapping", node.Line)
	}
	e.Global = make(map[string]EnvValue)
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "matrix":
			if err := val.Decode(&e.Matrix); err != nil {
				return fmt.Errorf("environment.matrix: %w", err)
			}
		case "global":
			var global map[string]EnvValue
			if err := val.Decode(&global); err != nil {
				return fmt.Errorf("environment.global: %w", err)
			}
			for name, v := range global {
				e.Global[name] = v
			}
		default:
			var v EnvValue
			if err := val.Decode(&v); err != nil {
				return fmt.Errorf("environment.%s: %w", key.Value, err)
			}
			e.Global[key.Value] = v
		}
	}
	return nil
}

// UnmarshalYAML decodes a matrix row, preserving variable declaration
// order for job naming.
func (r *MatrixRow) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix row must be a mapping of variables", node.Line)
	}
	r.Vars = make(map[string]EnvValue, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var v EnvValue
		if err := val.Decode(&v); err != nil {
			return fmt.Errorf("matrix row %s: %w", key.Value, err)
		}
		if _, dup := r.Vars[key.Value]; dup {
			return fmt.Errorf("line %d: matrix row repeats variable %s", key.Line, key.Value)
		}
		r.Names = append(r.Names, key.Value)
		r.Vars[key.Value] = v
	}
	return nil
}

// UnmarshalYAML decodes a scalar into a one-element list, or a sequence
// into its scalar elements.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: list entries must be strings", item.Line)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or list of strings", node.Line)
	}
}

// UnmarshalYAML decodes the build key: false/off disables the build
// phase. Mappings are rejected; scripted builds use build_script.
func (m *BuildMode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: build accepts only true, false, on, or off; use build_script for scripted builds", node.Line)
	}
	m.set = true
	switch strings.ToLower(node.Value) {
	case "false", "off":
		m.off = true
	case "true", "on":
		m.off = false
	default:
		return fmt.Errorf("line %d: build accepts only true, false, on, or off", node.Line)
	}
	return nil
}

// UnmarshalYAML decodes a job selector: a flat mapping of dimension or
// variable names to scalar values.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix selector must be a mapping", node.Line)
	}
	out := make(Selector, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: selector value for %s must be a scalar", val.Line, key.Value)
		}
		out[key.Value] = val.Value
	}
	*s = out
	return nil
}

// UnmarshalYAML decodes a cache entry. The scalar form supports the
// "path -> key file" dependency syntax.
func (c *CacheEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: cache entry must be a string", node.Line)
	}
	path, keyFile, found := strings.Cut(node.Value, "->")
	c.Path = strings.TrimSpace(path)
	if found {
		c.KeyFile = strings.TrimSpace(keyFile)
	}
	return nil
}

// UnmarshalYAML decodes an artifact from the {path, name} mapping or the
// bare-path scalar shorthand.
func (a *Artifact) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		a.Path = node.Value
		return nil
	case yaml.MappingNode:
		type plain Artifact
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*a = Artifact(p)
		return nil
	default:
		return fmt.Errorf("line %d: artifact must be a path or a {path, name} mapping", node.Line)
	}
}
