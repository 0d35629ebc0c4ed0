package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
// This key is shared with root.go via both using the same type.
type loggerKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config // Stores the loaded config for access by commands
)

// findConfigFile finds the config file to use.
// Priority: explicit path > exa.yaml > exa.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("exa.yaml"); err == nil {
		return "exa.yaml"
	}
	if _, err := os.Stat("exa.yml"); err == nil {
		return "exa.yml"
	}
	return ""
}

// configExistsIn checks if an exa config file exists in the directory.
func configExistsIn(dir string) bool {
	for _, name := range []string{"exa.yaml", "exa.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// findProjectRootUpward searches upward from startDir for an exa config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// inferProjectRoot determines the project root from CLI flags and filesystem.
// Priority:
//  1. Explicit --src flag
//  2. Parent directory of an explicit --file pipeline path
//  3. Search upward from CWD for exa.yaml
//  4. Current working directory
func inferProjectRoot(flags *pflag.FlagSet) string {
	// 1. Check explicit --src
	if flags != nil {
		if srcDir, _ := flags.GetString("src"); srcDir != "" && flags.Changed("src") {
			abs, err := filepath.Abs(srcDir)
			if err == nil {
				return abs
			}
			return filepath.Clean(srcDir)
		}
	}

	// 2. Infer from --file: the pipeline sits at the project root
	if flags != nil {
		if pipeline, _ := flags.GetString("file"); pipeline != "" && flags.Changed("file") {
			if absPipeline, err := filepath.Abs(pipeline); err == nil {
				return filepath.Dir(absPipeline)
			}
		}
	}

	// 3. Search upward from CWD for exa.yaml
	if cwd, err := os.Getwd(); err == nil {
		if root := findProjectRootUpward(cwd); root != "" {
			return root
		}
	}

	// 4. Default to CWD
	cwd, _ := os.Getwd()
	if cwd == "" {
		cwd = "."
	}
	return cwd
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// isFileDSN reports whether a state DSN is a SQLite file path rather than
// a server URL or the in-memory store.
func isFileDSN(dsn string) bool {
	if dsn == "" || dsn == ":memory:" {
		return false
	}
	return !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://")
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")

	// Infer project root from flags before loading config
	// This enables the "anchor pattern" where --file ci/build.yml
	// implies project root is ci/
	projectRoot := inferProjectRoot(flags)

	// Track paths that were explicitly provided as flags (already relative to CWD).
	// These will be converted to absolute paths before the normal resolution step,
	// to prevent double-resolution when project root was inferred from them.
	var flagPipeline, flagSrcDir, flagStateDSN, flagIdentity string
	if flags != nil {
		if flags.Changed("file") {
			if v, _ := flags.GetString("file"); v != "" {
				flagPipeline, _ = filepath.Abs(v)
			}
		}
		if flags.Changed("src") {
			if v, _ := flags.GetString("src"); v != "" {
				flagSrcDir, _ = filepath.Abs(v)
			}
		}
		if flags.Changed("state") {
			if v, _ := flags.GetString("state"); v != "" {
				// The DSN can be a postgres URL or :memory:, not only a file path
				if isFileDSN(v) {
					flagStateDSN, _ = filepath.Abs(v)
				} else {
					flagStateDSN = v
				}
			}
		}
		if flags.Changed("identity") {
			if v, _ := flags.GetString("identity"); v != "" {
				flagIdentity, _ = filepath.Abs(v)
			}
		}
	}

	// If an explicit config file is provided, use its directory as project root
	// (unless a more specific hint was given via flags)
	if cfgFile != "" && projectRoot == inferProjectRoot(nil) {
		// No flag-based inference happened, use config file's directory
		if absPath, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(absPath)
		}
	}

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"pipeline":     DefaultPipelineFile,
		"account":      DefaultAccount,
		"state_dsn":    DefaultStateFile,
		"src_dir":      ".",
		"work_dir":     DefaultWorkDir,
		"jobs":         DefaultJobs,
		"job_timeout":  DefaultJobTimeout,
		"grace_period": DefaultGracePeriod,
		"verbose":      false,
		"output":       DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	// Search in project root if no explicit config file provided
	if cfgFile == "" {
		// Look for config in inferred project root
		for _, name := range []string{"exa.yaml", "exa.yml"} {
			candidate := filepath.Join(projectRoot, name)
			if _, err := os.Stat(candidate); err == nil {
				cfgFile = candidate
				break
			}
		}
	}
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (EXA_ prefix)
	// Transform: EXA_STATE_DSN -> state_dsn
	if err := k.Load(env.Provider("EXA_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "EXA_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys
			key := strings.ReplaceAll(f.Name, "-", "_")

			// EXPLICIT MAPPING: the CLI flag names favor brevity while the
			// config keys favor clarity
			switch key {
			case "file":
				return "pipeline", posflag.FlagVal(flags, f)
			case "src":
				return "src_dir", posflag.FlagVal(flags, f)
			case "state":
				return "state_dsn", posflag.FlagVal(flags, f)
			case "identity":
				return "secret_identity", posflag.FlagVal(flags, f)
			}

			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	// The explicit decode hook lets duration fields accept "90m" strings
	// from the config file and environment
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Set project root and resolve relative paths
	// Use project root as base for all path resolution (not CWD)
	// so commands behave the same from anywhere inside the project
	cfg.ProjectRoot = projectRoot

	// For paths explicitly provided via flags, use the pre-computed absolute paths
	// (already computed relative to CWD at flag parse time).
	// For paths from config file or defaults, resolve relative to project root.
	if flagPipeline != "" {
		cfg.Pipeline = flagPipeline
	} else {
		cfg.Pipeline = resolvePathRelativeTo(cfg.Pipeline, projectRoot)
	}
	if flagSrcDir != "" {
		cfg.SrcDir = flagSrcDir
	} else {
		cfg.SrcDir = resolvePathRelativeTo(cfg.SrcDir, projectRoot)
	}
	if flagStateDSN != "" {
		cfg.StateDSN = flagStateDSN
	} else if isFileDSN(cfg.StateDSN) {
		cfg.StateDSN = resolvePathRelativeTo(cfg.StateDSN, projectRoot)
	}
	if flagIdentity != "" {
		cfg.SecretIdentity = flagIdentity
	} else {
		cfg.SecretIdentity = resolvePathRelativeTo(cfg.SecretIdentity, projectRoot)
	}
	cfg.WorkDir = resolvePathRelativeTo(cfg.WorkDir, projectRoot)
	cfg.ArtifactDir = resolvePathRelativeTo(cfg.ArtifactDir, projectRoot)
	cfg.CacheDir = resolvePathRelativeTo(cfg.CacheDir, projectRoot)

	// Project name defaults to the project root's directory name
	if cfg.Project == "" {
		cfg.Project = filepath.Base(projectRoot)
	}

	// Expand environment variables in values that commonly carry
	// credentials
	cfg.StateDSN = expandEnvVars(cfg.StateDSN)
	cfg.HistoryURL = expandEnvVars(cfg.HistoryURL)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Store config for access by commands
	currentConfig = &cfg

	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// This is available after LoadConfig is called.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	// Match ${VAR} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR}
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}
