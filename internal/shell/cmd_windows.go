//go:build windows

package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

func init() {
	Register("cmd", func(logger *slog.Logger) Shell {
		return &cmdShell{logger: logger}
	})
}

// cmdShell runs bare and cmd: steps through cmd.exe on Windows hosts.
// The wrapper calls the step script, saves its errorlevel, dumps the
// environment with set, and propagates the saved errorlevel.
type cmdShell struct {
	logger *slog.Logger
}

func (c *cmdShell) Name() string { return "cmd" }

func (c *cmdShell) Available() bool {
	_, err := exec.LookPath("cmd.exe")
	return err == nil
}

const cmdWrapper = `@call "%EXA_STEP_SCRIPT%"
@set EXA_STEP_RC=%ERRORLEVEL%
@if defined EXA_ENV_SNAPSHOT set > "%EXA_ENV_SNAPSHOT%"
@exit /b %EXA_STEP_RC%
`

func (c *cmdShell) Run(ctx context.Context, spec RunSpec) (Result, error) {
	var res Result

	script, err := writeScript(spec.ScriptDir, "step-*.cmd", spec.Command)
	if err != nil {
		return res, err
	}
	defer func() { _ = os.Remove(script) }()

	wrapper, err := writeScript(spec.ScriptDir, "wrapper-*.cmd", cmdWrapper)
	if err != nil {
		return res, err
	}
	defer func() { _ = os.Remove(wrapper) }()

	env := append([]string(nil), spec.Env...)
	env = append(env, "EXA_STEP_SCRIPT="+script)

	var snapshot string
	if spec.CaptureEnv {
		snapshot, err = snapshotPath(spec.ScriptDir)
		if err != nil {
			return res, err
		}
		defer func() { _ = os.Remove(snapshot) }()
		env = append(env, "EXA_ENV_SNAPSHOT="+snapshot)
	}

	cmd := exec.CommandContext(ctx, "cmd.exe", "/Q", "/C", wrapper)
	cmd.Dir = spec.Dir
	cmd.Env = env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	configureCancel(cmd, spec.GracePeriod)

	c.logger.Debug("running step", slog.String("shell", "cmd"), slog.String("script", script))

	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return res, fmt.Errorf("starting cmd.exe: %w", runErr)
		}
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return res, fmt.Errorf("step cancelled: %w", ctx.Err())
		}
	}

	if spec.CaptureEnv {
		if data, err := os.ReadFile(snapshot); err == nil && len(data) > 0 {
			res.Env = CleanSnapshot(parseLineEnv(data))
		}
	}
	return res, nil
}
