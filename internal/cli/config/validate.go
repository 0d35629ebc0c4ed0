package config

import (
	"fmt"
	"os"
)

// validOutputFormats are the renderer modes accepted by --output.
var validOutputFormats = map[string]bool{
	"auto":     true,
	"text":     true,
	"markdown": true,
	"json":     true,
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Pipeline == "" {
		return fmt.Errorf("pipeline is required")
	}
	if c.OutputFormat != "" && !validOutputFormats[c.OutputFormat] {
		return fmt.Errorf("invalid output format %q (valid: auto, text, markdown, json)", c.OutputFormat)
	}
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative, got %d", c.Jobs)
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("job_timeout must not be negative, got %s", c.JobTimeout)
	}
	if c.BuildTimeout < 0 {
		return fmt.Errorf("build_timeout must not be negative, got %s", c.BuildTimeout)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative, got %s", c.GracePeriod)
	}

	// Pipeline file existence is checked separately so help and init
	// work without one
	return nil
}

// ValidatePipelineFile checks that the pipeline file exists.
func (c *Config) ValidatePipelineFile() error {
	if _, err := os.Stat(c.Pipeline); os.IsNotExist(err) {
		return fmt.Errorf("pipeline file does not exist: %s\nHint: Run 'exa init' to scaffold one or use --file to specify a different path", c.Pipeline)
	}
	return nil
}
