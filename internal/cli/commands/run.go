package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rdmontgomery/exa/internal/cli/config"
	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/rdmontgomery/exa/internal/engine"
	"github.com/rdmontgomery/exa/internal/tui"
	"github.com/rdmontgomery/exa/internal/watch"
	"github.com/rdmontgomery/exa/pkg/core"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Job     string // Matrix job name filter
	Jobs    int    // Parallel job count
	Branch  string
	Commit  string
	Message string
	Tag     string
	PR      string
	JSON    bool // Stream events as JSON lines
	TUI     bool // Live terminal progress
	Watch   bool // Rerun on source changes
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline's build matrix",
		Long: `Execute the pipeline: expand the build matrix and run every job
through its script phases.

Each matrix job runs in its own workspace with its own environment.
Jobs run sequentially by default; use --jobs to run cells in parallel.
Every build and its jobs are recorded in the history store.

Branch and commit metadata default to the source tree's git state and
feed the skip-commit and rolling-builds checks.`,
		Example: `  # Run the pipeline in build.yml
  exa run

  # Run only matrix jobs matching a name fragment
  exa run --job py312

  # Run matrix jobs four at a time with live progress
  exa run --jobs 4 --tui

  # Simulate a pull request build
  exa run --pr 142 --branch feature/cache

  # Stream machine-readable events for CI integration
  exa run --json

  # Rerun on every source change
  exa run --watch`,
		Aliases: []string{"build"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Job, "job", "", "Run only matrix jobs whose name contains this string")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 0, "Number of matrix jobs to run in parallel")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "Branch under build (default: detected from git)")
	cmd.Flags().StringVar(&opts.Commit, "commit", "", "Commit under build (default: detected from git)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "Commit message consulted by skip directives (default: detected from git)")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Tag name for tag builds")
	cmd.Flags().StringVar(&opts.PR, "pr", "", "Pull request number for PR builds")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Stream build events as JSON lines")
	cmd.Flags().BoolVar(&opts.TUI, "tui", false, "Show live build progress in the terminal")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Rerun the build when source files change")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	if opts.TUI && opts.JSON {
		return fmt.Errorf("--tui and --json cannot be combined")
	}
	if opts.TUI && opts.Watch {
		return fmt.Errorf("--tui and --watch cannot be combined")
	}

	cmdCtx := NewCommandContextWithoutEngine(cmd)
	cfg := cmdCtx.Cfg
	logger := cmdCtx.Logger
	r := cmdCtx.Renderer

	// Local flags are not wired into the config layers, so the override
	// happens here
	if cmd.Flags().Changed("jobs") {
		cfg.Jobs = opts.Jobs
	}

	fillGitDefaults(opts, cfg.SrcDir, logger)

	runOnce := func(ctx context.Context) error {
		return executeBuild(ctx, cmd, cfg, logger, r, opts)
	}

	if opts.Watch {
		return runWithWatch(cmd.Context(), cfg, logger, r, runOnce)
	}
	return runOnce(cmd.Context())
}

// executeBuild runs one build of the pipeline with output wired for the
// selected mode.
func executeBuild(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, r *output.Renderer, opts *RunOptions) error {
	pipeline, path, err := loadPipeline(cfg)
	if err != nil {
		return err
	}
	if err := pipeline.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	jsonMode := opts.JSON || r.EffectiveMode() == output.ModeJSON

	engOpts := engineOptions{
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}

	var ui *tui.UI
	var mu sync.Mutex
	switch {
	case jsonMode:
		// Step output moves to stderr so stdout stays a clean event stream
		engOpts.stdout = cmd.ErrOrStderr()
		engOpts.events = func(ev engine.Event) {
			mu.Lock()
			defer mu.Unlock()
			_ = r.JSONLine(ev)
		}
	case opts.TUI:
		ui = tui.New(fmt.Sprintf("%s/%s", cfg.Account, cfg.Project))
		engOpts.stdout = io.Discard
		engOpts.stderr = io.Discard
		engOpts.events = ui.Send
	default:
		engOpts.events = progressEvents(r, &mu)
	}

	eng, err := createEngine(cfg, logger, engOpts)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	runOpts := engine.RunOptions{
		Branch:        opts.Branch,
		Commit:        opts.Commit,
		CommitMessage: opts.Message,
		Tag:           opts.Tag,
		PullRequest:   opts.PR,
		JobFilter:     opts.Job,
	}

	var build *core.Build
	var runErr error
	if ui != nil {
		runErr = ui.Run(ctx, func(ctx context.Context) error {
			var innerErr error
			build, innerErr = eng.Run(ctx, pipeline, runOpts)
			return innerErr
		})
	} else {
		build, runErr = eng.Run(ctx, pipeline, runOpts)
	}

	if build != nil && ui == nil && !jsonMode {
		renderBuildSummary(r, build)
	}
	return runErr
}

// progressEvents renders per-job progress lines as the build advances.
// The engine emits events from job goroutines, so rendering takes a lock.
func progressEvents(r *output.Renderer, mu *sync.Mutex) func(engine.Event) {
	return func(ev engine.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch ev.Kind {
		case engine.EventBuildStarted:
			title := fmt.Sprintf("Build #%d %s", ev.Build.Number, ev.Build.Version)
			if ev.Build.Branch != "" {
				title += " (" + ev.Build.Branch + ")"
			}
			r.Header(1, title)
		case engine.EventJobStarted:
			r.StatusLine(ev.Job.Name, "running", "")
		case engine.EventJobFinished:
			r.StatusLine(ev.Job.Name, string(ev.Job.Status), jobDetail(ev.Job))
		}
	}
}

// jobDetail summarizes a finished job for its status line.
func jobDetail(job *core.Job) string {
	detail := formatDurationMS(job.DurationMS)
	if job.Status == core.JobStatusFailed && job.Error != "" {
		detail += ", " + job.Error
	}
	return detail
}

func formatDurationMS(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(10 * time.Millisecond).String()
}

// renderBuildSummary prints the terminal status after a text-mode run.
// Failures surface through the returned error, so only non-error
// outcomes get a closing line here.
func renderBuildSummary(r *output.Renderer, build *core.Build) {
	duration := ""
	if build.CompletedAt != nil {
		duration = " in " + build.CompletedAt.Sub(build.StartedAt).Round(100*time.Millisecond).String()
	}

	switch build.Status {
	case core.BuildStatusSuccess:
		r.Println("")
		r.Success(fmt.Sprintf("Build #%d %s succeeded%s", build.Number, build.Version, duration))
	case core.BuildStatusSkipped:
		r.Println("")
		r.Warning(fmt.Sprintf("Build #%d skipped: %s", build.Number, build.Error))
	}
}

// runWithWatch reruns the build whenever the source tree changes. Builds
// are serialized; changes arriving mid-build collapse into one follow-up
// run.
func runWithWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, r *output.Renderer, runOnce func(context.Context) error) error {
	watcher, err := watch.New(watch.Config{
		Dirs:   []string{cfg.SrcDir},
		Ignore: []string{cfg.WorkDir, cfg.ArtifactDir, cfg.CacheDir},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	trigger := make(chan struct{}, 1)

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return watcher.Run(egctx, func(changed []string) {
			logger.Info("source changed", "files", len(changed))
			select {
			case trigger <- struct{}{}:
			default:
			}
		})
	})
	eg.Go(func() error {
		for {
			if err := runOnce(egctx); err != nil && !errors.Is(err, context.Canceled) {
				r.Warning(fmt.Sprintf("build failed: %v", err))
			}
			r.Println("")
			r.Println(r.Styles().Muted.Render("Watching for changes... (ctrl-c to stop)"))

			select {
			case <-egctx.Done():
				return egctx.Err()
			case <-trigger:
			}
		}
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// fillGitDefaults fills trigger metadata from the source tree's git state
// for any value the flags left empty.
func fillGitDefaults(opts *RunOptions, srcDir string, logger *slog.Logger) {
	if opts.Branch != "" && opts.Commit != "" && opts.Message != "" {
		return
	}
	if _, err := exec.LookPath("git"); err != nil {
		return
	}

	if opts.Branch == "" {
		// A detached HEAD reports the literal string "HEAD"; the branch
		// stays empty in that case
		if out, err := gitOutput(srcDir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && out != "HEAD" {
			opts.Branch = out
		}
	}
	if opts.Commit == "" {
		if out, err := gitOutput(srcDir, "rev-parse", "HEAD"); err == nil {
			opts.Commit = out
		}
	}
	if opts.Message == "" {
		if out, err := gitOutput(srcDir, "log", "-1", "--pretty=%B"); err == nil {
			opts.Message = out
		}
	}

	if opts.Branch != "" || opts.Commit != "" {
		logger.Debug("detected git metadata", "branch", opts.Branch, "commit", opts.Commit)
	}
}

func gitOutput(dir string, args ...string) (string, error) {
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
