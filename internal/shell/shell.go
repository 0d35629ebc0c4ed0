// Package shell runs pipeline steps through platform shells. Adapters
// register themselves at init time; the engine selects one per step by
// name. Each step runs in its own process group so cancellation kills
// the whole tree, and the shell writes an environment snapshot on exit
// so variable assignments persist to later steps in the same job.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// RunSpec describes one step execution.
type RunSpec struct {
	// Command is the step text, already variable-expanded.
	Command string
	// Dir is the working directory for the step.
	Dir string
	// Env is the complete environment as KEY=value pairs.
	Env []string
	// ScriptDir receives the transient script and snapshot files.
	ScriptDir string
	// CaptureEnv asks the shell to snapshot its environment on exit.
	CaptureEnv bool
	// GracePeriod is how long a cancelled step gets between SIGTERM and
	// SIGKILL. Zero kills immediately.
	GracePeriod time.Duration

	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of one step execution.
type Result struct {
	// ExitCode is the step's exit status. Zero on success.
	ExitCode int
	// Env is the captured environment, nil when the snapshot was not
	// requested or could not be taken (the caller keeps its previous
	// environment in that case).
	Env []string
}

// Shell executes step commands. Implementations are stateless; one
// instance serves many steps.
type Shell interface {
	// Name returns the registry name ("sh", "ps", "cmd").
	Name() string
	// Available reports whether the shell binary exists on this host.
	Available() bool
	// Run executes the command. A non-zero exit status is reported via
	// Result.ExitCode, not the error; errors mean the step could not be
	// run at all or was cancelled.
	Run(ctx context.Context, spec RunSpec) (Result, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Shell)
)

// Register adds a shell factory. Called from adapter init functions.
func Register(name string, factory func(*slog.Logger) Shell) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates the named shell. The logger may be nil.
func New(name string, logger *slog.Logger) (Shell, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, &UnknownShellError{Name: name, Available: Names()}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(logger), nil
}

// Names returns the registered shell names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownShellError is returned when a step names an unregistered shell.
type UnknownShellError struct {
	Name      string
	Available []string
}

func (e *UnknownShellError) Error() string {
	return fmt.Sprintf("unknown shell %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Default returns the platform-default shell name used for bare steps.
func Default() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "sh"
}

// internalVars are snapshot plumbing and shell bookkeeping variables that
// must not leak into the next step's environment.
var internalVars = map[string]bool{
	"EXA_STEP_SCRIPT":  true,
	"EXA_ENV_SNAPSHOT": true,
	"_":                true,
	"SHLVL":            true,
	"OLDPWD":           true,
}

// CleanSnapshot filters shell-internal variables out of a captured
// environment.
func CleanSnapshot(env []string) []string {
	out := make([]string, 0, len(env))
	for _, pair := range env {
		name, _, ok := strings.Cut(pair, "=")
		if !ok || internalVars[name] {
			continue
		}
		out = append(out, pair)
	}
	return out
}

// writeScript stores the step command as a script file in dir and
// returns its path.
func writeScript(dir, pattern, command string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create step script: %w", err)
	}
	if _, err := io.WriteString(f, command+"\n"); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write step script: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// snapshotPath reserves a file for the environment snapshot.
func snapshotPath(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "env-*.snapshot")
	if err != nil {
		return "", fmt.Errorf("create env snapshot: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return name, nil
}

// parseNullEnv splits NUL-separated KEY=value records (env -0 output).
func parseNullEnv(data []byte) []string {
	var out []string
	for _, rec := range strings.Split(string(data), "\x00") {
		if rec != "" && strings.Contains(rec, "=") {
			out = append(out, rec)
		}
	}
	return out
}

// parseLineEnv splits newline-separated KEY=value records. Values with
// embedded newlines are not representable in this form; continuation
// lines are dropped.
func parseLineEnv(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" && strings.Contains(line, "=") {
			out = append(out, line)
		}
	}
	return out
}
