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
	Register("sh", func(logger *slog.Logger) Shell {
		return &posixShell{logger: logger}
	})
}

// posixShell runs steps through sh. Steps are sourced rather than run as
// child scripts so exported variables survive into the exit snapshot.
type posixShell struct {
	logger *slog.Logger
}

func (s *posixShell) Name() string { return "sh" }

func (s *posixShell) Available() bool {
	_, err := exec.LookPath("sh")
	return err == nil
}

func (s *posixShell) Run(ctx context.Context, spec RunSpec) (Result, error) {
	var res Result

	script, err := writeScript(spec.ScriptDir, "step-*.sh", spec.Command)
	if err != nil {
		return res, err
	}
	defer func() { _ = os.Remove(script) }()

	env := append([]string(nil), spec.Env...)
	env = append(env, "EXA_STEP_SCRIPT="+script)

	wrapper := `. "$EXA_STEP_SCRIPT"`
	var snapshot string
	if spec.CaptureEnv {
		snapshot, err = snapshotPath(spec.ScriptDir)
		if err != nil {
			return res, err
		}
		defer func() { _ = os.Remove(snapshot) }()
		env = append(env, "EXA_ENV_SNAPSHOT="+snapshot)
		wrapper = `. "$EXA_STEP_SCRIPT"; __exa_rc=$?; env -0 > "$EXA_ENV_SNAPSHOT"; exit $__exa_rc`
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", wrapper)
	cmd.Dir = spec.Dir
	cmd.Env = env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	configureCancel(cmd, spec.GracePeriod)

	s.logger.Debug("running step", slog.String("shell", "sh"), slog.String("script", script))

	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return res, fmt.Errorf("starting sh: %w", runErr)
		}
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return res, fmt.Errorf("step cancelled: %w", ctx.Err())
		}
	}

	if spec.CaptureEnv {
		if data, err := os.ReadFile(snapshot); err == nil && len(data) > 0 {
			res.Env = CleanSnapshot(parseNullEnv(data))
		}
	}
	return res, nil
}
