package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default pipeline file names, probed in order.
var DefaultFileNames = []string{"build.yml", "build.yaml"}

// ErrNoPipelineFile is returned when no pipeline definition exists in the
// searched directory.
var ErrNoPipelineFile = errors.New("no pipeline file found (build.yml or build.yaml)")

// Parse decodes a pipeline definition. Unknown top-level keys are
// rejected so typos fail loudly instead of being silently ignored.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("pipeline file is empty")
		}
		return nil, err
	}
	return &cfg, nil
}

// ParseFile reads and parses the pipeline definition at path.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FindFile locates the pipeline definition in dir, probing the default
// file names in order.
func FindFile(dir string) (string, error) {
	for _, name := range DefaultFileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s: %w", dir, ErrNoPipelineFile)
}

// Load resolves and parses the pipeline definition: an explicit path is
// used as-is, otherwise dir is searched for the default file names.
func Load(path, dir string) (*Config, string, error) {
	if path == "" {
		found, err := FindFile(dir)
		if err != nil {
			return nil, "", err
		}
		path = found
	}
	cfg, err := ParseFile(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
