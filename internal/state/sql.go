package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rdmontgomery/exa/pkg/core"
)

// SQLStore implements core.Store on database/sql. Queries are written in
// SQLite placeholder style and rebound for PostgreSQL at execution time.
type SQLStore struct {
	db      *sql.DB
	dsn     string
	dialect Dialect
}

// Open opens a connection for the given DSN. Use ":memory:" for an
// in-memory SQLite database.
func (s *SQLStore) Open(dsn string) error {
	s.dialect = DialectFor(dsn)

	var driver string
	switch s.dialect {
	case DialectPostgres:
		driver = "pgx"
	default:
		driver = "sqlite"
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", s.dialect, err)
	}
	if s.dialect == DialectSQLite {
		// A single connection sidesteps table locks and keeps
		// ":memory:" databases from splitting per connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping %s database: %w", s.dialect, err)
	}

	s.db = db
	s.dsn = dsn
	return nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	if path == ":memory:" {
		return ":memory:?_pragma=foreign_keys(1)"
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitSchema brings the schema up to date by running pending migrations.
func (s *SQLStore) InitSchema() error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	return s.Migrate()
}

// rebind converts ? placeholders to $1..$N for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func generateID() string {
	return uuid.New().String()
}

// isUniqueViolation matches unique constraint failures from both
// drivers: SQLite reports "UNIQUE constraint failed", PostgreSQL
// SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value")
}

// --- Build operations ---

// CreateBuild inserts a new build record. Missing identity fields are
// filled in: ID, queued status, and start time. A build number already
// taken for the project returns core.ErrDuplicate so the caller can
// re-allocate.
func (s *SQLStore) CreateBuild(b *core.Build) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if b.ID == "" {
		b.ID = generateID()
	}
	if b.Status == "" {
		b.Status = core.BuildStatusQueued
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(s.rebind(
		`INSERT INTO builds (id, account, project, number, version, branch, commit_id, pull_request, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.Account, b.Project, b.Number, b.Version, b.Branch, b.Commit, b.PullRequest, b.Status, b.StartedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("build %s/%s #%d: %w", b.Account, b.Project, b.Number, core.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}
	return nil
}

const buildColumns = `id, account, project, number, version, branch, commit_id, pull_request, status, started_at, completed_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*core.Build, error) {
	b := &core.Build{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(&b.ID, &b.Account, &b.Project, &b.Number, &b.Version, &b.Branch,
		&b.Commit, &b.PullRequest, &b.Status, &b.StartedAt, &completedAt, &errMsg)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	if errMsg.Valid {
		b.Error = errMsg.String
	}
	return b, nil
}

// GetBuild retrieves a build by ID.
func (s *SQLStore) GetBuild(id string) (*core.Build, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	b, err := scanBuild(s.db.QueryRow(s.rebind(
		`SELECT `+buildColumns+` FROM builds WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("build %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return b, nil
}

// GetBuildByNumber retrieves a build by its per-project number.
func (s *SQLStore) GetBuildByNumber(account, project string, number int64) (*core.Build, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	b, err := scanBuild(s.db.QueryRow(s.rebind(
		`SELECT `+buildColumns+` FROM builds WHERE account = ? AND project = ? AND number = ?`),
		account, project, number))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("build %s/%s #%d: %w", account, project, number, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return b, nil
}

// CompleteBuild marks a build as finished with the given status.
func (s *SQLStore) CompleteBuild(id string, status core.BuildStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(s.rebind(
		`UPDATE builds SET status = ?, completed_at = ?, error = ? WHERE id = ?`),
		status, now, errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete build: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("build %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// ListBuilds returns the most recent builds for a project, newest first.
// A limit of 0 or less means no limit.
func (s *SQLStore) ListBuilds(account, project string, limit int) ([]*core.Build, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 1<<31 - 1
	}

	rows, err := s.db.Query(s.rebind(
		`SELECT `+buildColumns+` FROM builds
		 WHERE account = ? AND project = ?
		 ORDER BY number DESC LIMIT ?`),
		account, project, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var builds []*core.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate builds: %w", err)
	}
	return builds, nil
}

// NextBuildNumber returns the next build number for a project, starting
// from 1.
func (s *SQLStore) NextBuildNumber(account, project string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	var next int64
	err := s.db.QueryRow(s.rebind(
		`SELECT COALESCE(MAX(number), 0) + 1 FROM builds WHERE account = ? AND project = ?`),
		account, project,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next build number: %w", err)
	}
	return next, nil
}

// --- Job operations ---

// RecordJob inserts a job record. Missing identity fields are filled in.
func (s *SQLStore) RecordJob(j *core.Job) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if j.ID == "" {
		j.ID = generateID()
	}
	if j.Status == "" {
		j.Status = core.JobStatusQueued
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now().UTC()
	}

	variables, err := json.Marshal(j.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode job variables: %w", err)
	}

	_, err = s.db.Exec(s.rebind(
		`INSERT INTO jobs (id, build_id, ordinal, name, platform, configuration, variables, allow_failure, status, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		j.ID, j.BuildID, j.Ordinal, j.Name, j.Platform, j.Configuration, string(variables),
		j.AllowFailure, j.Status, j.StartedAt, j.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// UpdateJob transitions a job to a new status. Terminal statuses also set
// the completion time.
func (s *SQLStore) UpdateJob(id string, status core.JobStatus, durationMS int64, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var completedAt *time.Time
	if status.Finished() {
		now := time.Now().UTC()
		completedAt = &now
	}
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(s.rebind(
		`UPDATE jobs SET status = ?, completed_at = ?, duration_ms = ?, error = ? WHERE id = ?`),
		status, completedAt, durationMS, errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// GetJobsForBuild returns all jobs of a build in matrix order.
func (s *SQLStore) GetJobsForBuild(buildID string) ([]*core.Job, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(s.rebind(
		`SELECT id, build_id, ordinal, name, platform, configuration, variables, allow_failure, status, started_at, completed_at, error, duration_ms
		 FROM jobs WHERE build_id = ? ORDER BY ordinal`),
		buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		j := &core.Job{}
		var variables sql.NullString
		var completedAt sql.NullTime
		var errMsg sql.NullString

		err := rows.Scan(&j.ID, &j.BuildID, &j.Ordinal, &j.Name, &j.Platform, &j.Configuration,
			&variables, &j.AllowFailure, &j.Status, &j.StartedAt, &completedAt, &errMsg, &j.DurationMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		if variables.Valid && variables.String != "" && variables.String != "null" {
			if err := json.Unmarshal([]byte(variables.String), &j.Variables); err != nil {
				return nil, fmt.Errorf("failed to decode job variables: %w", err)
			}
		}
		if completedAt.Valid {
			t := completedAt.Time
			j.CompletedAt = &t
		}
		if errMsg.Valid {
			j.Error = errMsg.String
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// --- Step operations ---

// RecordStepResult inserts the outcome of one executed step.
func (s *SQLStore) RecordStepResult(r *core.StepResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if r.ID == "" {
		r.ID = generateID()
	}

	var errorPtr *string
	if r.Error != "" {
		errorPtr = &r.Error
	}

	_, err := s.db.Exec(s.rebind(
		`INSERT INTO step_results (id, job_id, phase, ordinal, command, shell, exit_code, status, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.JobID, r.Phase, r.Ordinal, r.Command, r.Shell, r.ExitCode, r.Status, r.DurationMS, errorPtr,
	)
	if err != nil {
		return fmt.Errorf("failed to record step result: %w", err)
	}
	return nil
}

// GetStepResultsForJob returns a job's step results in execution order.
func (s *SQLStore) GetStepResultsForJob(jobID string) ([]*core.StepResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(s.rebind(
		`SELECT id, job_id, phase, ordinal, command, shell, exit_code, status, duration_ms, error
		 FROM step_results WHERE job_id = ? ORDER BY ordinal`),
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list step results: %w", err)
	}
	defer rows.Close()

	var results []*core.StepResult
	for rows.Next() {
		r := &core.StepResult{}
		var errMsg sql.NullString

		err := rows.Scan(&r.ID, &r.JobID, &r.Phase, &r.Ordinal, &r.Command, &r.Shell,
			&r.ExitCode, &r.Status, &r.DurationMS, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		if errMsg.Valid {
			r.Error = errMsg.String
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step results: %w", err)
	}
	return results, nil
}
