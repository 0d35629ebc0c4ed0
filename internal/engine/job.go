package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rdmontgomery/exa/internal/artifact"
	"github.com/rdmontgomery/exa/internal/cache"
	"github.com/rdmontgomery/exa/internal/matrix"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/internal/secret"
	"github.com/rdmontgomery/exa/internal/shell"
	"github.com/rdmontgomery/exa/internal/state"
	"github.com/rdmontgomery/exa/internal/supersede"
	"github.com/rdmontgomery/exa/internal/vars"
	"github.com/rdmontgomery/exa/pkg/core"
)

const notifyTimeout = 30 * time.Second

// timeoutError marks job and build deadline causes so an interrupted
// step reports as a failure rather than a cancellation.
type timeoutError struct {
	scope string
	limit time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.scope, e.limit)
}

// jobRun is the mutable execution state of one job. env carries forward
// across steps so variable assignments persist within the job.
type jobRun struct {
	build     *core.Build
	job       *core.Job
	cfg       *schema.Config
	workspace string
	scriptDir string
	env       vars.Env
	masker    *secret.Masker
	stdout    io.Writer
	stderr    io.Writer
	steps     int
}

// runJob executes one prepared job and records its outcome.
func (e *Engine) runJob(ctx context.Context, build *core.Build, cfg *schema.Config, pj *preparedJob) {
	job := pj.job
	start := time.Now()

	job.Status = core.JobStatusRunning
	_ = e.store.UpdateJob(job.ID, core.JobStatusRunning, 0, "")
	e.logger.Info("job started", "build", build.Number, "job", job.Name)
	e.emit(jobEvent(EventJobStarted, job))

	if e.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.jobTimeout,
			&timeoutError{scope: "job", limit: e.jobTimeout})
		defer cancel()
	}

	status, err := e.executeJob(ctx, build, cfg, pj)

	duration := time.Since(start)
	job.Status = status
	job.DurationMS = duration.Milliseconds()
	if err != nil {
		job.Error = err.Error()
	}
	pj.err = err

	_ = e.store.UpdateJob(job.ID, status, job.DurationMS, job.Error)
	e.emit(jobEvent(EventJobFinished, job))
	e.logger.Info("job finished",
		"job", job.Name, "status", status, "duration", duration.Round(time.Millisecond))
}

// executeJob runs the job's phases and classifies the outcome.
func (e *Engine) executeJob(ctx context.Context, build *core.Build, cfg *schema.Config, pj *preparedJob) (core.JobStatus, error) {
	workspace, err := e.prepareWorkspace(build, cfg, pj.job, jobCountHint(cfg))
	if err != nil {
		return core.JobStatusFailed, err
	}

	scriptDir, err := os.MkdirTemp("", "exa-steps-*")
	if err != nil {
		return core.JobStatusFailed, fmt.Errorf("failed to create script directory: %w", err)
	}
	defer os.RemoveAll(scriptDir)

	env, masker, err := e.jobEnvironment(build, pj.job, pj.cell)
	if err != nil {
		return core.JobStatusFailed, err
	}

	run := &jobRun{
		build:     build,
		job:       pj.job,
		cfg:       cfg,
		workspace: workspace,
		scriptDir: scriptDir,
		env:       env,
		masker:    masker,
		stdout:    &secret.MaskWriter{W: e.stdout, Masker: masker},
		stderr:    &secret.MaskWriter{W: e.stderr, Masker: masker},
	}

	failErr := e.runPhases(ctx, run)
	if failErr == nil {
		failErr = e.collectArtifacts(run)
	}
	if failErr == nil {
		e.saveCaches(run)
	}

	status, jobErr := jobOutcome(ctx, failErr)

	// Outcome hooks. Cancelled jobs skip them, as does any job whose
	// context is already dead. A failing on_success step fails the job;
	// on_failure and on_finish problems are logged only.
	switch status {
	case core.JobStatusSuccess:
		if err := e.runPhase(ctx, run, core.PhaseOnSuccess); err != nil {
			status, jobErr = jobOutcome(ctx, err)
		}
	case core.JobStatusFailed:
		if ctx.Err() == nil {
			if err := e.runPhase(ctx, run, core.PhaseOnFailure); err != nil {
				e.logger.Warn("on_failure hook failed", "job", run.job.Name, "error", err)
			}
		}
	}
	if status != core.JobStatusCancelled && ctx.Err() == nil {
		if err := e.runPhase(ctx, run, core.PhaseOnFinish); err != nil {
			e.logger.Warn("on_finish hook failed", "job", run.job.Name, "error", err)
		}
	}

	return status, jobErr
}

// runPhases walks the scripted phases in order. The superseded check and
// cache restore sit between init and install, so a superseded build
// gives up before its expensive phases.
func (e *Engine) runPhases(ctx context.Context, run *jobRun) error {
	for _, phase := range core.Phases {
		if phase == core.PhaseInstall {
			if err := e.checkSuperseded(ctx, run); err != nil {
				return err
			}
			e.restoreCaches(run)
		}
		if err := e.runPhase(ctx, run, phase); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runPhase(ctx context.Context, run *jobRun, phase string) error {
	steps := run.cfg.StepsFor(phase)
	if len(steps) == 0 {
		return nil
	}
	e.logger.Debug("phase started", "job", run.job.Name, "phase", phase)
	for _, step := range steps {
		if err := e.runStep(ctx, run, phase, step); err != nil {
			return err
		}
	}
	return nil
}

// runStep executes a single step and records its result. The step's
// environment snapshot, when taken, becomes the environment of the next
// step.
func (e *Engine) runStep(ctx context.Context, run *jobRun, phase string, step schema.Step) error {
	shellName := step.Shell
	if shellName == "" {
		shellName = shell.Default()
	}

	result := &core.StepResult{
		JobID:   run.job.ID,
		Phase:   phase,
		Ordinal: run.steps,
		Command: step.Command,
		Shell:   shellName,
		Status:  core.JobStatusRunning,
	}
	run.steps++
	e.emit(stepEvent(EventStepStarted, run.job, result))

	start := time.Now()
	var res shell.Result
	sh, err := shell.New(shellName, e.logger)
	if err == nil {
		res, err = sh.Run(ctx, shell.RunSpec{
			Command:     run.env.Expand(step.Command),
			Dir:         run.workspace,
			Env:         run.env.Environ(),
			ScriptDir:   run.scriptDir,
			CaptureEnv:  true,
			GracePeriod: e.gracePeriod,
			Stdout:      run.stdout,
			Stderr:      run.stderr,
		})
	}

	result.DurationMS = time.Since(start).Milliseconds()
	switch {
	case err != nil:
		result.Status = core.JobStatusFailed
		result.ExitCode = -1
		result.Error = run.masker.Mask(err.Error())
	case res.ExitCode != 0:
		result.Status = core.JobStatusFailed
		result.ExitCode = res.ExitCode
		result.Error = fmt.Sprintf("command exited with code %d", res.ExitCode)
	default:
		result.Status = core.JobStatusSuccess
	}

	if res.Env != nil {
		run.env = vars.ParseEnviron(res.Env)
	}

	_ = e.store.RecordStepResult(result)
	e.emit(stepEvent(EventStepFinished, run.job, result))

	if err != nil {
		return fmt.Errorf("%s: %w", phase, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s: %q exited with code %d", phase, shortCommand(step.Command), res.ExitCode)
	}
	return nil
}

// storeHistory adapts the engine's own store to the history interface,
// so the rolling-builds check works without a remote API: concurrent
// runners sharing a state DSN see each other's builds.
type storeHistory struct {
	store state.Store
}

func (s storeHistory) History(_ context.Context, account, project string, records int) ([]*core.Build, error) {
	return s.store.ListBuilds(account, project, records)
}

// checkSuperseded aborts a rolling pull-request build when newer work
// for the same pull request is already in the history. With no history
// API configured the engine's own store is consulted instead. A check
// that cannot reach the API logs and continues; it is an optimization,
// not a gate.
func (e *Engine) checkSuperseded(ctx context.Context, run *jobRun) error {
	if !run.cfg.RollingBuilds || !run.build.IsPullRequest() {
		return nil
	}
	var lister supersede.HistoryLister = storeHistory{store: e.store}
	if e.history != nil {
		lister = e.history
	}

	err := supersede.Check(ctx, lister, run.build)
	if err == nil || errors.Is(err, supersede.ErrSuperseded) || ctx.Err() != nil {
		return err
	}
	e.logger.Warn("superseded check failed; continuing", "build", run.build.Number, "error", err)
	return nil
}

func (e *Engine) restoreCaches(run *jobRun) {
	for _, entry := range run.cfg.Cache {
		hit, err := cache.Restore(run.workspace, e.cacheDir, entry)
		if err != nil {
			e.logger.Warn("cache restore failed", "path", entry.Path, "error", err)
			continue
		}
		if hit {
			e.logger.Debug("cache restored", "job", run.job.Name, "path", entry.Path)
		}
	}
}

// saveCaches archives cache entries after a successful job. Save
// problems are logged; the cache never fails a build.
func (e *Engine) saveCaches(run *jobRun) {
	for _, entry := range run.cfg.Cache {
		if err := cache.Save(run.workspace, e.cacheDir, entry); err != nil {
			e.logger.Warn("cache save failed", "path", entry.Path, "error", err)
		}
	}
}

// collectArtifacts copies declared outputs from the workspace into the
// per-job artifact directory.
func (e *Engine) collectArtifacts(run *jobRun) error {
	if len(run.cfg.Artifacts) == 0 {
		return nil
	}
	dest := e.jobArtifactDir(run.build, run.job)
	manifest, err := artifact.Collect(run.workspace, dest, run.cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to collect artifacts: %w", err)
	}
	e.logger.Info("artifacts collected",
		"job", run.job.Name, "files", len(manifest.Files), "dir", dest)
	return nil
}

func (e *Engine) jobArtifactDir(build *core.Build, job *core.Job) string {
	return jobDir(e.artifactDir, build, job)
}

// jobEnvironment assembles the job's starting environment: the runner's
// process environment, then the injected build variables, then the
// pipeline declarations with the matrix row overlaying the globals.
// Secure values are decrypted here and registered with the masker.
// Declared values may reference the process environment, injected
// variables, and declarations earlier in name order.
func (e *Engine) jobEnvironment(build *core.Build, job *core.Job, cell matrix.Job) (vars.Env, *secret.Masker, error) {
	injected := vars.Env{
		"CI":                "true",
		"EXA_BUILD_ID":      build.ID,
		"EXA_BUILD_NUMBER":  strconv.FormatInt(build.Number, 10),
		"EXA_BUILD_VERSION": build.Version,
		"EXA_JOB_ID":        job.ID,
		"EXA_JOB_NAME":      job.Name,
		"EXA_ACCOUNT_NAME":  build.Account,
		"EXA_PROJECT_SLUG":  build.Project,
		"EXA_REPO_BRANCH":   build.Branch,
		"EXA_REPO_COMMIT":   build.Commit,
	}
	if build.IsPullRequest() {
		injected["EXA_PULL_REQUEST_NUMBER"] = build.PullRequest
	}
	if job.Platform != "" {
		injected["PLATFORM"] = job.Platform
	}
	if job.Configuration != "" {
		injected["CONFIGURATION"] = job.Configuration
	}

	env := vars.ParseEnviron(os.Environ()).Merge(injected)
	masker := secret.NewMasker(nil)

	names := make([]string, 0, len(cell.Env))
	for name := range cell.Env {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := cell.Env[name]
		if !v.IsSecure() {
			env[name] = env.Expand(v.Value)
			continue
		}
		plaintext, err := e.decrypter.Decrypt(v.Secure)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrypt variable %s: %w", name, err)
		}
		env[name] = plaintext
		masker.Add(plaintext)
	}

	return env, masker, nil
}

// jobOutcome maps the first failure of a job to its terminal status.
// Timeouts count as failures; everything else that killed the context
// cancels the job.
func jobOutcome(ctx context.Context, err error) (core.JobStatus, error) {
	if err == nil {
		return core.JobStatusSuccess, nil
	}
	if errors.Is(err, supersede.ErrSuperseded) {
		return core.JobStatusCancelled, err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cause := context.Cause(ctx)
		var timeout *timeoutError
		if errors.As(cause, &timeout) {
			return core.JobStatusFailed, timeout
		}
		if cause != nil && !errors.Is(cause, context.Canceled) {
			return core.JobStatusCancelled, cause
		}
		return core.JobStatusCancelled, errors.New("job cancelled")
	}
	return core.JobStatusFailed, err
}

// jobCountHint is the number of workspaces the build needs, before the
// job filter is known to the workspace layer.
func jobCountHint(cfg *schema.Config) int {
	return len(matrix.Expand(cfg))
}

// shortCommand renders a step command for error messages: first line
// only, truncated.
func shortCommand(command string) string {
	line := command
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}
