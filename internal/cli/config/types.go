// Package config provides configuration management for the exa CLI.
//
// Configuration is layered from four sources with increasing precedence:
// built-in defaults, an exa.yaml project file, EXA_-prefixed environment
// variables, and command-line flags. Relative paths in the result are
// resolved against the project root so commands behave the same from any
// working directory inside the project.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	// Pipeline is the pipeline file executed by run. Relative paths are
	// resolved against the project root.
	Pipeline string `koanf:"pipeline"`

	// Account and Project identify builds in the history store.
	// Project defaults to the project root's directory name.
	Account string `koanf:"account"`
	Project string `koanf:"project"`

	// StateDSN locates the history store: a SQLite file path or a
	// postgres:// URL.
	StateDSN string `koanf:"state_dsn"`

	// SrcDir is the source tree cloned into each job workspace.
	SrcDir string `koanf:"src_dir"`

	// WorkDir is the scratch root for job workspaces. ArtifactDir and
	// CacheDir default to subdirectories of it when empty.
	WorkDir     string `koanf:"work_dir"`
	ArtifactDir string `koanf:"artifact_dir"`
	CacheDir    string `koanf:"cache_dir"`

	// SecretIdentity is the age identity file used to decrypt secure
	// variable values.
	SecretIdentity string `koanf:"secret_identity"`

	// HistoryURL points the rolling-builds check at a remote build
	// history API. Empty means the local store is consulted directly.
	HistoryURL string `koanf:"history_url"`

	// Jobs bounds how many matrix jobs run at once.
	Jobs int `koanf:"jobs"`

	// JobTimeout and BuildTimeout bound execution time. Zero disables
	// the corresponding limit.
	JobTimeout   time.Duration `koanf:"job_timeout"`
	BuildTimeout time.Duration `koanf:"build_timeout"`

	// GracePeriod is how long a cancelled step gets between SIGTERM and
	// SIGKILL.
	GracePeriod time.Duration `koanf:"grace_period"`

	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`

	Serve *ServeConfig `koanf:"serve"`

	// ProjectRoot is the inferred project directory. It is derived
	// during loading, never read from a config source.
	ProjectRoot string `koanf:"-"`
}

// ServeConfig holds configuration for the history API server.
type ServeConfig struct {
	Addr string `koanf:"addr"`
}

// GetServeConfig returns the serve config with defaults applied for any
// unset values.
func (c *Config) GetServeConfig() *ServeConfig {
	if c.Serve == nil {
		return &ServeConfig{Addr: DefaultServeAddr}
	}
	s := c.Serve
	if s.Addr == "" {
		s.Addr = DefaultServeAddr
	}
	return s
}

// Default configuration values.
const (
	DefaultPipelineFile = "build.yml"
	DefaultStateFile    = ".exa/state.db"
	DefaultWorkDir      = ".exa/work"
	DefaultAccount      = "local"
	DefaultJobs         = 1
	DefaultJobTimeout   = time.Hour
	DefaultGracePeriod  = 10 * time.Second
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultServeAddr    = ":8642"
)
