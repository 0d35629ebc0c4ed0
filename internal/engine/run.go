package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rdmontgomery/exa/internal/matrix"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/internal/supersede"
	"github.com/rdmontgomery/exa/internal/vars"
	"github.com/rdmontgomery/exa/pkg/core"
)

// defaultVersionFormat applies when the pipeline declares no version.
const defaultVersionFormat = "1.0.{build}"

// RunOptions carries the trigger metadata for one build.
type RunOptions struct {
	// Branch, Commit, and CommitMessage describe the commit under build.
	Branch        string
	Commit        string
	CommitMessage string
	// Tag is the tag name when the build was triggered by a tag push.
	Tag string
	// PullRequest is the pull request number for PR builds, empty
	// otherwise.
	PullRequest string
	// ChangedFiles lists the files the commit touched, consulted by the
	// skip_commits.files filter. Empty means unknown and disables that
	// filter.
	ChangedFiles []string
	// JobFilter restricts execution to matrix jobs whose name contains
	// the filter, case-insensitively. Empty runs every job.
	JobFilter string
}

// preparedJob pairs a recorded job row with its expanded matrix cell.
// err is the terminal error set by the executor, nil for a clean job.
type preparedJob struct {
	job  *core.Job
	cell matrix.Job
	err  error
}

// createBuildAttempts bounds re-allocation when concurrent runners race
// for the same build number.
const createBuildAttempts = 5

// createBuild allocates the next build number and inserts the build
// record. The number read and the insert are separate statements, so a
// concurrent runner sharing the store can take the number first; the
// unique constraint catches that and the allocation retries.
func (e *Engine) createBuild(format string, opts RunOptions) (*core.Build, error) {
	for attempt := 1; ; attempt++ {
		number, err := e.store.NextBuildNumber(e.account, e.project)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate build number: %w", err)
		}
		build := &core.Build{
			Account:     e.account,
			Project:     e.project,
			Number:      number,
			Version:     vars.FormatVersion(format, number, opts.Branch, ""),
			Branch:      opts.Branch,
			Commit:      opts.Commit,
			PullRequest: opts.PullRequest,
			Status:      core.BuildStatusRunning,
		}
		err = e.store.CreateBuild(build)
		if err == nil {
			return build, nil
		}
		if errors.Is(err, core.ErrDuplicate) && attempt < createBuildAttempts {
			e.logger.Debug("build number taken, re-allocating",
				"number", number, "attempt", attempt)
			continue
		}
		return nil, fmt.Errorf("failed to record build: %w", err)
	}
}

// Run executes one build of the pipeline and returns its final record.
// The error is non-nil when the build failed or was cancelled; a skipped
// build returns a nil error.
func (e *Engine) Run(ctx context.Context, cfg *schema.Config, opts RunOptions) (*core.Build, error) {
	format := cfg.Version
	if format == "" {
		format = defaultVersionFormat
	}
	build, err := e.createBuild(format, opts)
	if err != nil {
		return nil, err
	}

	e.logger.Info("build started",
		"build", build.Number, "version", build.Version,
		"branch", build.Branch, "pull_request", build.PullRequest)
	e.emit(buildEvent(EventBuildStarted, build))

	if reason := e.skipReason(cfg, opts); reason != "" {
		e.logger.Info("build skipped", "build", build.Number, "reason", reason)
		_ = e.store.CompleteBuild(build.ID, core.BuildStatusSkipped, reason)
		build.Status = core.BuildStatusSkipped
		build.Error = reason
		final := e.reload(build)
		e.emit(buildEvent(EventBuildSkipped, final))
		return final, nil
	}

	// Secure values need the identity before any job starts; failing one
	// job at a time over the same missing file helps nobody.
	if cfg.HasSecureValues() && e.decrypter == nil {
		err := errors.New("pipeline declares secure variables but no secret identity is configured")
		return e.abort(build, err)
	}

	cells := matrix.Expand(cfg)
	if opts.JobFilter != "" {
		cells = filterCells(cells, opts.JobFilter)
		if len(cells) == 0 {
			return e.abort(build, fmt.Errorf("no matrix job matches %q", opts.JobFilter))
		}
	}
	if len(cells) == 0 {
		return e.abort(build, errors.New("matrix expansion produced no jobs"))
	}

	// Phase 1: record every job as queued before anything runs, so the
	// history API shows the full matrix from the start.
	prepared, err := e.prepareJobs(build, cells)
	if err != nil {
		return e.abort(build, err)
	}

	// Phase 2: execute.
	e.executeJobs(ctx, build, cfg, prepared)

	return e.finishBuild(ctx, build, cfg, prepared)
}

// abort records a build that failed before its jobs could run.
func (e *Engine) abort(build *core.Build, err error) (*core.Build, error) {
	e.logger.Error("build aborted", "build", build.Number, "error", err)
	_ = e.store.CompleteBuild(build.ID, core.BuildStatusFailed, err.Error())
	build.Status = core.BuildStatusFailed
	build.Error = err.Error()
	final := e.reload(build)
	e.emit(buildEvent(EventBuildFinished, final))
	return final, err
}

// prepareJobs records the expanded matrix as queued jobs. Preparation
// problems are collected so one pass reports them all; any failure marks
// the jobs that did get recorded as skipped.
func (e *Engine) prepareJobs(build *core.Build, cells []matrix.Job) ([]*preparedJob, error) {
	prepared := make([]*preparedJob, 0, len(cells))
	var errs []error

	for i, cell := range cells {
		job := &core.Job{
			BuildID:       build.ID,
			Ordinal:       i,
			Name:          cell.Name,
			Platform:      cell.Platform,
			Configuration: cell.Configuration,
			Variables:     plainVars(cell.Env),
			AllowFailure:  cell.AllowFailure,
			Status:        core.JobStatusQueued,
		}
		if err := e.store.RecordJob(job); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", cell.Name, err))
			continue
		}
		e.logger.Debug("job queued", "job", job.Name, "platform", job.Platform)
		prepared = append(prepared, &preparedJob{job: job, cell: cell})
	}

	if len(errs) > 0 {
		for _, pj := range prepared {
			_ = e.store.UpdateJob(pj.job.ID, core.JobStatusSkipped, 0, "build aborted during preparation")
		}
		return nil, errors.Join(errs...)
	}
	return prepared, nil
}

// executeJobs runs the prepared jobs through a bounded worker pool. Job
// failures are recorded on the preparedJob entries, not returned: which
// failures fail the build is decided afterwards.
func (e *Engine) executeJobs(ctx context.Context, build *core.Build, cfg *schema.Config, prepared []*preparedJob) {
	if e.buildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.buildTimeout,
			&timeoutError{scope: "build", limit: e.buildTimeout})
		defer cancel()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var g errgroup.Group
	g.SetLimit(e.workers)

	for _, pj := range prepared {
		g.Go(func() error {
			if ctx.Err() != nil {
				e.markCancelled(ctx, pj)
				return nil
			}
			e.runJob(ctx, build, cfg, pj)

			switch {
			case errors.Is(pj.err, supersede.ErrSuperseded):
				cancel(pj.err)
			case pj.job.Status == core.JobStatusFailed && !pj.job.AllowFailure && cfg.Matrix.FastFinish:
				cancel(fmt.Errorf("fast_finish: job %q failed", pj.job.Name))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// markCancelled records a job that never got to run.
func (e *Engine) markCancelled(ctx context.Context, pj *preparedJob) {
	msg := "build cancelled"
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		msg = cause.Error()
	}
	pj.job.Status = core.JobStatusCancelled
	pj.job.Error = msg
	_ = e.store.UpdateJob(pj.job.ID, core.JobStatusCancelled, 0, msg)
	e.emit(jobEvent(EventJobFinished, pj.job))
	e.logger.Info("job cancelled", "job", pj.job.Name, "reason", msg)
}

// finishBuild aggregates job outcomes into the build's terminal status,
// records it, and delivers notifications.
func (e *Engine) finishBuild(ctx context.Context, build *core.Build, cfg *schema.Config, prepared []*preparedJob) (*core.Build, error) {
	var failures []string
	var cancelled int
	var superseded error

	for _, pj := range prepared {
		switch pj.job.Status {
		case core.JobStatusFailed:
			if !pj.job.AllowFailure {
				failures = append(failures, pj.job.Name)
			}
		case core.JobStatusCancelled:
			cancelled++
			if errors.Is(pj.err, supersede.ErrSuperseded) {
				superseded = pj.err
			}
		}
	}

	var status core.BuildStatus
	var msg string
	var err error
	switch {
	case superseded != nil:
		status, msg, err = core.BuildStatusCancelled, superseded.Error(), superseded
	case len(failures) == 1:
		msg = fmt.Sprintf("job %q failed", failures[0])
		status, err = core.BuildStatusFailed, errors.New(msg)
	case len(failures) > 1:
		msg = fmt.Sprintf("%d of %d jobs failed", len(failures), len(prepared))
		status, err = core.BuildStatusFailed, errors.New(msg)
	case cancelled > 0:
		msg = "build cancelled"
		if cause := context.Cause(ctx); cause != nil {
			msg = cause.Error()
		}
		status, err = core.BuildStatusCancelled, errors.New(msg)
	default:
		status = core.BuildStatusSuccess
	}

	if cerr := e.store.CompleteBuild(build.ID, status, msg); cerr != nil {
		e.logger.Warn("failed to record build completion", "build", build.Number, "error", cerr)
	}
	build.Status = status
	build.Error = msg

	final := e.reload(build)
	e.notifyCompletion(ctx, cfg, final)
	e.emit(buildEvent(EventBuildFinished, final))
	e.logger.Info("build finished",
		"build", final.Number, "status", final.Status, "jobs", len(prepared))
	return final, err
}

// reload returns the stored build record, falling back to the in-memory
// copy when the store read fails.
func (e *Engine) reload(build *core.Build) *core.Build {
	stored, err := e.store.GetBuild(build.ID)
	if err != nil {
		return build
	}
	return stored
}

// notifyCompletion delivers completion notifications. Delivery problems
// are logged, never fatal, and a cancelled build still notifies.
func (e *Engine) notifyCompletion(ctx context.Context, cfg *schema.Config, build *core.Build) {
	if len(cfg.Notifications) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := e.notifier.BuildCompleted(nctx, cfg.Notifications, build); err != nil {
		e.logger.Warn("notification delivery failed", "build", build.Number, "error", err)
	}
}

// filterCells keeps the matrix cells whose name contains the filter.
func filterCells(cells []matrix.Job, filter string) []matrix.Job {
	needle := strings.ToLower(filter)
	var out []matrix.Job
	for _, cell := range cells {
		if strings.Contains(strings.ToLower(cell.Name), needle) {
			out = append(out, cell)
		}
	}
	return out
}

// plainVars renders a job's environment declarations for the history
// record. Secure values are never stored in plaintext.
func plainVars(env map[string]schema.EnvValue) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for name, v := range env {
		if v.IsSecure() {
			out[name] = "[secure]"
			continue
		}
		out[name] = v.Value
	}
	return out
}
