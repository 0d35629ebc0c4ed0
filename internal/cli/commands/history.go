package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/rdmontgomery/exa/pkg/core"
	"github.com/spf13/cobra"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}
	cmd := &cobra.Command{
		Use:   "history [build-number]",
		Short: "Show recent builds from the history store",
		Long: `List the project's recent builds, newest first.

With a build number, show that build and its matrix jobs instead.

Use --output to override the format: auto, text, markdown, json`,
		Example: `  # Recent builds for the current project
  exa history

  # The last fifty builds
  exa history --limit 50

  # One build with its jobs
  exa history 17

  # Machine-readable listing
  exa history --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum number of builds to list")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer
	store := cmdCtx.Engine.Store()

	if len(args) > 0 {
		number, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build number %q", args[0])
		}
		return showBuild(r, store, cfg.Account, cfg.Project, number)
	}

	builds, err := store.ListBuilds(cfg.Account, cfg.Project, opts.Limit)
	if err != nil {
		return fmt.Errorf("failed to list builds: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(builds)
	}

	if len(builds) == 0 {
		r.Println("No builds recorded yet. Run 'exa run' to start one.")
		return nil
	}

	r.Header(1, fmt.Sprintf("Builds for %s/%s", cfg.Account, cfg.Project))

	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Status", "Version", "Branch", "Commit", "Started", "Duration"})
	for _, b := range builds {
		t.AppendRow(table.Row{
			b.Number,
			styledStatus(r, string(b.Status)),
			b.Version,
			b.Branch,
			shortCommit(b.Commit),
			b.StartedAt.Local().Format("2006-01-02 15:04"),
			buildDuration(b),
		})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}
	return nil
}

// showBuild renders one build with its matrix jobs.
func showBuild(r *output.Renderer, store core.Store, account, project string, number int64) error {
	build, err := store.GetBuildByNumber(account, project, number)
	if err != nil {
		return fmt.Errorf("build #%d: %w", number, err)
	}
	jobs, err := store.GetJobsForBuild(build.ID)
	if err != nil {
		return fmt.Errorf("failed to load jobs for build #%d: %w", number, err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(struct {
			Build *core.Build `json:"build"`
			Jobs  []*core.Job `json:"jobs"`
		}{build, jobs})
	}

	r.Header(1, fmt.Sprintf("Build #%d %s", build.Number, build.Version))
	r.StatusLine("status", string(build.Status), "")
	if build.Branch != "" {
		r.Printf("  branch  %s\n", build.Branch)
	}
	if build.Commit != "" {
		r.Printf("  commit  %s\n", shortCommit(build.Commit))
	}
	if build.PullRequest != "" {
		r.Printf("  pr      #%s\n", build.PullRequest)
	}
	if build.Error != "" {
		r.Printf("  note    %s\n", build.Error)
	}
	r.Println("")

	if len(jobs) == 0 {
		r.Println(r.Styles().Muted.Render("No jobs recorded."))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Job", "Status", "Duration", "Error"})
	for _, j := range jobs {
		t.AppendRow(table.Row{
			j.Name,
			styledStatus(r, string(j.Status)),
			formatDurationMS(j.DurationMS),
			j.Error,
		})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}
	return nil
}

func styledStatus(r *output.Renderer, status string) string {
	if r.EffectiveMode() != output.ModeText {
		return status
	}
	return r.Styles().StatusStyle(status).Render(status)
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

func buildDuration(b *core.Build) string {
	if b.CompletedAt == nil {
		return ""
	}
	return b.CompletedAt.Sub(b.StartedAt).Round(100 * time.Millisecond).String()
}
