// Package engine runs pipeline builds. It expands the build matrix into
// jobs, executes each job's phases through platform shells, and records
// builds, jobs, and step results to the history store.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rdmontgomery/exa/internal/history"
	"github.com/rdmontgomery/exa/internal/notify"
	"github.com/rdmontgomery/exa/internal/secret"
	"github.com/rdmontgomery/exa/internal/state"
	"github.com/rdmontgomery/exa/pkg/core"
)

// Engine orchestrates the execution of matrix builds.
type Engine struct {
	logger    *slog.Logger
	store     state.Store
	history   *history.Client
	notifier  *notify.Notifier
	decrypter *secret.Decrypter

	account string
	project string

	workDir     string
	sourceDir   string
	artifactDir string
	cacheDir    string

	workers      int
	jobTimeout   time.Duration
	buildTimeout time.Duration
	gracePeriod  time.Duration

	stdout io.Writer
	stderr io.Writer
	events func(Event)
}

// Config holds engine configuration.
type Config struct {
	// Account and Project identify the pipeline in the history store.
	Account string
	Project string

	// StateDSN is the history store connection string: a SQLite path or a
	// postgres:// URL.
	StateDSN string

	// WorkDir is the root under which job workspaces, artifacts, and the
	// cache live by default. Empty uses a directory under os.TempDir.
	WorkDir string
	// SourceDir is copied into each job workspace before any step runs.
	// Empty means jobs start from an empty workspace.
	SourceDir string
	// ArtifactDir receives collected artifacts, one directory per job.
	// Empty defaults to WorkDir/artifacts.
	ArtifactDir string
	// CacheDir holds cache archives shared across builds. Empty defaults
	// to WorkDir/cache.
	CacheDir string

	// IdentityFile is the age identity used to decrypt secure values.
	IdentityFile string

	// HistoryURL is the build-history API consulted by the rolling_builds
	// check. Empty falls back to the engine's own store.
	HistoryURL string

	// Workers bounds the number of concurrently running jobs. Values
	// below one mean sequential execution.
	Workers int
	// JobTimeout and BuildTimeout bound execution time. Zero means no
	// limit. A timed-out job records as failed.
	JobTimeout   time.Duration
	BuildTimeout time.Duration
	// GracePeriod is how long a cancelled step gets between SIGTERM and
	// SIGKILL.
	GracePeriod time.Duration

	// Stdout and Stderr receive step output. Nil falls back to the
	// process streams.
	Stdout io.Writer
	Stderr io.Writer

	// Events receives lifecycle events. It is called from job goroutines
	// and must be safe for concurrent use. May be nil.
	Events func(Event)

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// New creates an engine and opens its history store.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger.Debug("initializing engine",
		"account", cfg.Account, "project", cfg.Project, "state_dsn", cfg.StateDSN)

	store, err := state.OpenStore(cfg.StateDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	var decrypter *secret.Decrypter
	if cfg.IdentityFile != "" {
		decrypter, err = secret.LoadIdentityFile(cfg.IdentityFile)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load secret identity: %w", err)
		}
	}

	var client *history.Client
	if cfg.HistoryURL != "" {
		client = history.NewClient(cfg.HistoryURL, history.WithLogger(logger))
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "exa")
	}
	artifactDir := cfg.ArtifactDir
	if artifactDir == "" {
		artifactDir = filepath.Join(workDir, "artifacts")
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(workDir, "cache")
	}

	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	return &Engine{
		logger:       logger,
		store:        store,
		history:      client,
		notifier:     notify.New(notify.WithLogger(logger)),
		decrypter:    decrypter,
		account:      cfg.Account,
		project:      cfg.Project,
		workDir:      workDir,
		sourceDir:    cfg.SourceDir,
		artifactDir:  artifactDir,
		cacheDir:     cacheDir,
		workers:      max(1, cfg.Workers),
		jobTimeout:   cfg.JobTimeout,
		buildTimeout: cfg.BuildTimeout,
		gracePeriod:  cfg.GracePeriod,
		stdout:       stdout,
		stderr:       stderr,
		events:       cfg.Events,
	}, nil
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("failed to close history store: %w", err)
	}
	return nil
}

// Store returns the history store the engine records to.
func (e *Engine) Store() core.Store {
	return e.store
}

func (e *Engine) emit(ev Event) {
	if e.events != nil {
		e.events(ev)
	}
}
