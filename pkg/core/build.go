package core

import "time"

// BuildStatus represents the status of a build.
type BuildStatus string

// Build status constants.
const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSuccess   BuildStatus = "success"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
	BuildStatusSkipped   BuildStatus = "skipped"
)

// Finished reports whether the status is terminal.
func (s BuildStatus) Finished() bool {
	switch s {
	case BuildStatusSuccess, BuildStatusFailed, BuildStatusCancelled, BuildStatusSkipped:
		return true
	}
	return false
}

// Build represents one execution of a pipeline across its full matrix.
type Build struct {
	ID          string      `json:"buildId"`
	Account     string      `json:"accountName"`
	Project     string      `json:"projectSlug"`
	Number      int64       `json:"buildNumber"`
	Version     string      `json:"version"`
	Branch      string      `json:"branch"`
	Commit      string      `json:"commitId"`
	PullRequest string      `json:"pullRequestId,omitempty"`
	Status      BuildStatus `json:"status"`
	StartedAt   time.Time   `json:"started"`
	CompletedAt *time.Time  `json:"finished,omitempty"`
	Error       string      `json:"message,omitempty"`
}

// IsPullRequest reports whether the build was triggered by a pull request.
func (b *Build) IsPullRequest() bool {
	return b.PullRequest != ""
}

// JobStatus represents the status of a single matrix job.
type JobStatus string

// Job status constants.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusSkipped   JobStatus = "skipped"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled, JobStatusSkipped:
		return true
	}
	return false
}

// Job represents one matrix cell of a build. Ordinal preserves matrix
// declaration order across storage round-trips.
type Job struct {
	ID            string            `json:"jobId"`
	BuildID       string            `json:"buildId"`
	Ordinal       int               `json:"-"`
	Name          string            `json:"name"`
	Platform      string            `json:"platform,omitempty"`
	Configuration string            `json:"configuration,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	AllowFailure  bool              `json:"allowFailure,omitempty"`
	Status        JobStatus         `json:"status"`
	StartedAt     time.Time         `json:"started"`
	CompletedAt   *time.Time        `json:"finished,omitempty"`
	Error         string            `json:"message,omitempty"`
	DurationMS    int64             `json:"durationMs"`
}

// StepResult records the outcome of one executed step within a job.
type StepResult struct {
	ID         string    `json:"-"`
	JobID      string    `json:"-"`
	Phase      string    `json:"phase"`
	Ordinal    int       `json:"ordinal"`
	Command    string    `json:"command"`
	Shell      string    `json:"shell"`
	ExitCode   int       `json:"exitCode"`
	Status     JobStatus `json:"status"`
	DurationMS int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}

// Phase names in execution order. OnSuccess and OnFailure are mutually
// exclusive; OnFinish always runs last.
const (
	PhaseInit        = "init"
	PhaseInstall     = "install"
	PhaseBeforeBuild = "before_build"
	PhaseBuild       = "build_script"
	PhaseAfterBuild  = "after_build"
	PhaseBeforeTest  = "before_test"
	PhaseTest        = "test_script"
	PhaseAfterTest   = "after_test"
	PhaseOnSuccess   = "on_success"
	PhaseOnFailure   = "on_failure"
	PhaseOnFinish    = "on_finish"
)

// Phases lists the scripted phases in execution order, excluding the
// outcome hooks.
var Phases = []string{
	PhaseInit,
	PhaseInstall,
	PhaseBeforeBuild,
	PhaseBuild,
	PhaseAfterBuild,
	PhaseBeforeTest,
	PhaseTest,
	PhaseAfterTest,
}

// AllPhases includes the outcome hooks as well.
var AllPhases = []string{
	PhaseInit,
	PhaseInstall,
	PhaseBeforeBuild,
	PhaseBuild,
	PhaseAfterBuild,
	PhaseBeforeTest,
	PhaseTest,
	PhaseAfterTest,
	PhaseOnSuccess,
	PhaseOnFailure,
	PhaseOnFinish,
}
