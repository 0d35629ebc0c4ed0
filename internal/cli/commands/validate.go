package commands

import (
	"fmt"

	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/rdmontgomery/exa/internal/matrix"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate the pipeline file",
		Long: `Parse the pipeline file and check it against the schema rules.

Validation covers YAML structure, unknown keys, matrix dimensions and
exclude references, environment values, and script phase shapes. A
valid pipeline is reported with the size of its expanded matrix.`,
		Example: `  # Validate the default pipeline file
  exa validate

  # Validate a specific file
  exa validate ci.yml`,
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	if len(args) > 0 {
		cfg.Pipeline = args[0]
	}

	pipeline, path, err := loadPipeline(cfg)
	if err != nil {
		return err
	}

	type report struct {
		File  string   `json:"file"`
		Valid bool     `json:"valid"`
		Jobs  []string `json:"jobs,omitempty"`
		Error string   `json:"error,omitempty"`
	}

	if err := pipeline.Validate(); err != nil {
		if r.EffectiveMode() == output.ModeJSON {
			_ = r.JSON(report{File: path, Error: err.Error()})
		}
		return fmt.Errorf("%s: %w", path, err)
	}

	jobs := matrix.Expand(pipeline)
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(report{File: path, Valid: true, Jobs: names})
	}

	r.Success(fmt.Sprintf("%s is valid", path))
	r.Printf("Matrix expands to %d %s\n", len(jobs), pluralize(len(jobs), "job", "jobs"))
	for _, name := range names {
		r.Println("  " + r.Styles().JobName.Render(name))
	}

	if pipeline.HasSecureValues() && cfg.SecretIdentity == "" {
		r.Warning("pipeline has secure values but no identity file is configured; they will stay encrypted")
	}
	return nil
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
