package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new exa project",
		Long: `Initialize a new exa project with a starter pipeline.

This creates:
  - build.yml pipeline with a small build matrix
  - exa.yaml project settings
  - .gitignore covering exa's working state`,
		Example: `  # Initialize in current directory
  exa init

  # Initialize in a new directory
  exa init my-project

  # Overwrite existing files
  exa init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			r := NewCommandContextWithoutEngine(cmd).Renderer
			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	pipelinePath := filepath.Join(dir, "build.yml")
	if _, err := os.Stat(pipelinePath); err == nil && !force {
		return fmt.Errorf("build.yml already exists. Use --force to overwrite")
	}

	if err := copyTemplate("minimal", dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	files, _ := listTemplateFiles("minimal")
	for _, f := range files {
		r.StatusLine(f, "success", "")
	}

	r.Println("")
	r.Success("exa project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Edit build.yml to define your matrix and scripts")
	r.Println("  2. Run 'exa validate' to check the pipeline")
	r.Println("  3. Run 'exa run' to execute the build")
	r.Println("  4. Run 'exa history' to see recorded builds")

	return nil
}
