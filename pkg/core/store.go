package core

import "errors"

// ErrNotFound is wrapped by store lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is wrapped by inserts that collide with an existing row,
// such as two runners racing for the same build number. Callers may
// re-allocate and retry.
var ErrDuplicate = errors.New("already exists")

// Store defines the interface for build history persistence.
type Store interface {
	Open(dsn string) error
	Close() error
	InitSchema() error

	// Build operations
	CreateBuild(b *Build) error
	GetBuild(id string) (*Build, error)
	GetBuildByNumber(account, project string, number int64) (*Build, error)
	CompleteBuild(id string, status BuildStatus, errMsg string) error
	ListBuilds(account, project string, limit int) ([]*Build, error)
	NextBuildNumber(account, project string) (int64, error)

	// Job operations
	RecordJob(j *Job) error
	UpdateJob(id string, status JobStatus, durationMS int64, errMsg string) error
	GetJobsForBuild(buildID string) ([]*Job, error)

	// Step operations
	RecordStepResult(r *StepResult) error
	GetStepResultsForJob(jobID string) ([]*StepResult, error)
}
