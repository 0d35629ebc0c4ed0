package commands

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rdmontgomery/exa/internal/cli/config"
	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/rdmontgomery/exa/internal/engine"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with engine and renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())

	eng, err := createEngine(cfg, logger, engineOptions{
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}

	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	cleanup := func() {
		_ = eng.Close()
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Engine:   eng,
		Renderer: r,
	}, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that don't need the history store.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// Helper functions shared across commands

// getConfig returns the current configuration.
// It uses config.GetCurrentConfig() if available, otherwise falls back to environment variables.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}

	// Fallback: read from environment with defaults
	pipeline := getEnvOrDefault("EXA_PIPELINE", config.DefaultPipelineFile)
	account := getEnvOrDefault("EXA_ACCOUNT", config.DefaultAccount)
	project := os.Getenv("EXA_PROJECT")
	stateDSN := getEnvOrDefault("EXA_STATE_DSN", config.DefaultStateFile)
	verbose := os.Getenv("EXA_VERBOSE") == "true"
	outputFormat := os.Getenv("EXA_OUTPUT")

	return &config.Config{
		Pipeline:     pipeline,
		Account:      account,
		Project:      project,
		StateDSN:     stateDSN,
		SrcDir:       ".",
		Jobs:         config.DefaultJobs,
		JobTimeout:   config.DefaultJobTimeout,
		GracePeriod:  config.DefaultGracePeriod,
		Verbose:      verbose,
		OutputFormat: outputFormat,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// engineOptions carries per-command engine wiring that is not part of the
// loaded configuration.
type engineOptions struct {
	stdout io.Writer
	stderr io.Writer
	events func(engine.Event)
}

func createEngine(cfg *config.Config, logger *slog.Logger, opts engineOptions) (*engine.Engine, error) {
	// Ensure the state directory exists for file-backed stores
	if dsn := cfg.StateDSN; dsn != "" && dsn != ":memory:" &&
		!strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		stateDir := filepath.Dir(dsn)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0750); err != nil {
				return nil, err
			}
		}
	}

	engineCfg := engine.Config{
		Account:      cfg.Account,
		Project:      cfg.Project,
		StateDSN:     cfg.StateDSN,
		WorkDir:      cfg.WorkDir,
		SourceDir:    cfg.SrcDir,
		ArtifactDir:  cfg.ArtifactDir,
		CacheDir:     cfg.CacheDir,
		IdentityFile: cfg.SecretIdentity,
		HistoryURL:   cfg.HistoryURL,
		Workers:      cfg.Jobs,
		JobTimeout:   cfg.JobTimeout,
		BuildTimeout: cfg.BuildTimeout,
		GracePeriod:  cfg.GracePeriod,
		Stdout:       opts.stdout,
		Stderr:       opts.stderr,
		Events:       opts.events,
		Logger:       logger,
	}

	return engine.New(engineCfg)
}

// loadPipeline parses the configured pipeline file. When the configured
// path is the untouched default and missing, the default file names are
// probed so both build.yml and build.yaml work out of the box.
func loadPipeline(cfg *config.Config) (*schema.Config, string, error) {
	if filepath.Base(cfg.Pipeline) == config.DefaultPipelineFile {
		if _, err := os.Stat(cfg.Pipeline); os.IsNotExist(err) {
			return schema.Load("", filepath.Dir(cfg.Pipeline))
		}
	}
	return schema.Load(cfg.Pipeline, "")
}
