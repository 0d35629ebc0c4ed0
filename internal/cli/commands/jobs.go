package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/rdmontgomery/exa/internal/matrix"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/spf13/cobra"
)

// NewJobsCommand creates the jobs command.
func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs [file]",
		Short: "Show the expanded build matrix",
		Long: `Expand the pipeline's build matrix and list the resulting jobs
without running anything.

Each row is one job: a matrix row combined with a platform and a
configuration, after excludes are applied. Secure variable values are
shown masked.

Use --output to override the format: auto, text, markdown, json`,
		Example: `  # Show the matrix for the default pipeline file
  exa jobs

  # Show the matrix for a specific file
  exa jobs ci.yml

  # Machine-readable listing
  exa jobs --output json`,
		Aliases: []string{"matrix"},
		Args:    cobra.MaximumNArgs(1),
		RunE:    runJobs,
	}
	return cmd
}

func runJobs(cmd *cobra.Command, args []string) error {
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
	if err := pipeline.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	jobs := matrix.Expand(pipeline)

	if r.EffectiveMode() == output.ModeJSON {
		return jobsJSON(r, path, jobs)
	}
	return jobsTable(r, path, jobs)
}

// jobsTable renders the matrix as a table, markdown-flavored when piped.
func jobsTable(r *output.Renderer, path string, jobs []matrix.Job) error {
	r.Header(1, fmt.Sprintf("Matrix for %s (%d %s)", path, len(jobs), pluralize(len(jobs), "job", "jobs")))

	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Job", "Platform", "Configuration", "Variables", "Allow Failure"})

	for i, job := range jobs {
		allowFailure := ""
		if job.AllowFailure {
			allowFailure = "yes"
		}
		t.AppendRow(table.Row{
			i + 1,
			job.Name,
			job.Platform,
			job.Configuration,
			formatJobVariables(job),
			allowFailure,
		})
	}

	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}
	return nil
}

// jobsJSON renders the matrix as a JSON document.
func jobsJSON(r *output.Renderer, path string, jobs []matrix.Job) error {
	type jobInfo struct {
		Name          string            `json:"name"`
		Platform      string            `json:"platform,omitempty"`
		Configuration string            `json:"configuration,omitempty"`
		Variables     map[string]string `json:"variables,omitempty"`
		AllowFailure  bool              `json:"allowFailure,omitempty"`
	}
	type matrixReport struct {
		File string    `json:"file"`
		Jobs []jobInfo `json:"jobs"`
	}

	report := matrixReport{File: path, Jobs: make([]jobInfo, 0, len(jobs))}
	for _, job := range jobs {
		vars := make(map[string]string, len(job.Env))
		for k, v := range job.Env {
			vars[k] = displayEnvValue(v)
		}
		report.Jobs = append(report.Jobs, jobInfo{
			Name:          job.Name,
			Platform:      job.Platform,
			Configuration: job.Configuration,
			Variables:     vars,
			AllowFailure:  job.AllowFailure,
		})
	}
	return r.JSON(report)
}

// formatJobVariables joins the job's merged environment in a stable
// order, matrix row variables first.
func formatJobVariables(job matrix.Job) string {
	seen := make(map[string]bool, len(job.RowNames))
	parts := make([]string, 0, len(job.Env))
	for _, name := range job.RowNames {
		if v, ok := job.Env[name]; ok {
			parts = append(parts, name+"="+displayEnvValue(v))
			seen[name] = true
		}
	}

	rest := make([]string, 0, len(job.Env))
	for name := range job.Env {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		parts = append(parts, name+"="+displayEnvValue(job.Env[name]))
	}
	return strings.Join(parts, "\n")
}

// displayEnvValue masks sealed values in listings.
func displayEnvValue(v schema.EnvValue) string {
	if v.IsSecure() {
		return "[secure]"
	}
	return v.Value
}
