package commands

import (
	"fmt"
	"strings"

	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/rdmontgomery/exa/internal/lint"
	"github.com/rdmontgomery/exa/pkg/core"
	"github.com/spf13/cobra"
)

// LintOptions holds options for the lint command.
type LintOptions struct {
	Path     string   // Pipeline file path
	Format   string   // Output format: text, markdown, json
	Disable  []string // Rule IDs to disable
	Severity string   // Minimum severity: error, warning, info, hint
}

// NewLintCommand creates the lint command.
func NewLintCommand() *cobra.Command {
	opts := &LintOptions{}
	cmd := &cobra.Command{
		Use:   "lint [file]",
		Short: "Run lint rules on the pipeline file",
		Long: `Analyze the pipeline definition for likely mistakes.

Runs advisory rules against the pipeline: matrix variables nothing
references, excludes that match no cell, values that look like
plaintext secrets. Findings never block a run; they flag configuration
that is legal but probably not what the author meant.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Lint the default pipeline file
  exa lint

  # Lint a specific file
  exa lint ci.yml

  # Output as JSON
  exa lint --format json

  # Disable specific rules
  exa lint --disable MX01,EN02

  # Report everything down to hints
  exa lint --severity hint`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.Path = args[0]
			}
			return runLint(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json")
	cmd.Flags().StringSliceVar(&opts.Disable, "disable", nil, "Rule IDs to disable")
	cmd.Flags().StringVar(&opts.Severity, "severity", "warning", "Minimum severity: error, warning, info, hint")

	return cmd
}

func runLint(cmd *cobra.Command, opts *LintOptions) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	// Override renderer if format flag is set
	if opts.Format != "" {
		r = output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(opts.Format))
	}

	if opts.Path != "" {
		cfg.Pipeline = opts.Path
	}

	pipeline, path, err := loadPipeline(cfg)
	if err != nil {
		return err
	}

	threshold, ok := core.ParseSeverity(opts.Severity)
	if !ok {
		return fmt.Errorf("invalid severity %q (expected error, warning, info, or hint)", opts.Severity)
	}

	disable := make([]string, 0, len(opts.Disable))
	for _, id := range opts.Disable {
		disable = append(disable, strings.TrimSpace(id))
	}

	diags := lint.Check(pipeline, lint.Options{
		Disable:   disable,
		Threshold: threshold,
	})

	if hasIssues := renderLintResults(r, path, diags); hasIssues {
		return fmt.Errorf("lint issues found")
	}
	return nil
}

// renderLintResults writes diagnostics in the renderer's mode and
// reports whether any were found.
func renderLintResults(r *output.Renderer, path string, diags []lint.Diagnostic) bool {
	summary := output.LintSummary{Total: len(diags)}
	for _, d := range diags {
		switch d.Severity {
		case core.SeverityError:
			summary.Errors++
		case core.SeverityWarning:
			summary.Warnings++
		case core.SeverityInfo:
			summary.Info++
		case core.SeverityHint:
			summary.Hints++
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		report := output.LintReport{File: path, Summary: summary}
		for _, d := range diags {
			report.Diagnostics = append(report.Diagnostics, output.LintDiagnostic{
				RuleID:   d.RuleID,
				Severity: d.Severity.String(),
				Message:  d.Message,
				Key:      d.Key,
			})
		}
		_ = r.JSON(report)
		return len(diags) > 0
	}

	if len(diags) == 0 {
		r.Success("No lint issues found")
		return false
	}

	r.Println(r.Styles().Bold.Render(path))
	for _, d := range diags {
		line := fmt.Sprintf("  %s  %s  %s",
			severityStyle(r, d.Severity),
			r.Styles().Bold.Render(d.RuleID),
			d.Message,
		)
		if d.Key != "" {
			line += "  " + r.Styles().Muted.Render("("+d.Key+")")
		}
		r.Println(line)
	}
	r.Println("")

	summaryParts := []string{fmt.Sprintf("%d issues", summary.Total)}
	if summary.Errors > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d errors", summary.Errors))
	}
	if summary.Warnings > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d warnings", summary.Warnings))
	}
	if summary.Info > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d info", summary.Info))
	}
	if summary.Hints > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d hints", summary.Hints))
	}
	r.Printf("Summary: %s\n", strings.Join(summaryParts, ", "))

	return true
}

func severityStyle(r *output.Renderer, sev core.Severity) string {
	switch sev {
	case core.SeverityError:
		return r.Styles().Error.Render("error  ")
	case core.SeverityWarning:
		return r.Styles().Warning.Render("warning")
	case core.SeverityInfo:
		return r.Styles().Info.Render("info   ")
	case core.SeverityHint:
		return r.Styles().Muted.Render("hint   ")
	default:
		return r.Styles().Muted.Render("unknown")
	}
}
