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
	Register("ps", func(logger *slog.Logger) Shell {
		return &powershell{logger: logger}
	})
}

// powershell runs ps steps. It prefers pwsh and falls back to the
// Windows PowerShell binary. A wrapper script dot-sources the step so
// $env: assignments reach the snapshot, and converts script failures and
// thrown exceptions into a non-zero exit code.
type powershell struct {
	logger *slog.Logger
}

func (p *powershell) Name() string { return "ps" }

func (p *powershell) binary() (string, error) {
	if path, err := exec.LookPath("pwsh"); err == nil {
		return path, nil
	}
	return exec.LookPath("powershell")
}

func (p *powershell) Available() bool {
	_, err := p.binary()
	return err == nil
}

const pwshWrapper = `$ErrorActionPreference = 'Stop'
$code = 0
try {
    . $env:EXA_STEP_SCRIPT
    if ($LASTEXITCODE -is [int] -and $LASTEXITCODE -ne 0) { $code = $LASTEXITCODE }
} catch {
    [Console]::Error.WriteLine($_.ToString())
    $code = 1
}
if ($env:EXA_ENV_SNAPSHOT) {
    Get-ChildItem env: | ForEach-Object { "$($_.Name)=$($_.Value)" } | Set-Content -LiteralPath $env:EXA_ENV_SNAPSHOT
}
exit $code
`

func (p *powershell) Run(ctx context.Context, spec RunSpec) (Result, error) {
	var res Result

	bin, err := p.binary()
	if err != nil {
		return res, fmt.Errorf("powershell not found: %w", err)
	}

	script, err := writeScript(spec.ScriptDir, "step-*.ps1", spec.Command)
	if err != nil {
		return res, err
	}
	defer func() { _ = os.Remove(script) }()

	wrapper, err := writeScript(spec.ScriptDir, "wrapper-*.ps1", pwshWrapper)
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

	cmd := exec.CommandContext(ctx, bin, "-NoProfile", "-NonInteractive", "-File", wrapper)
	cmd.Dir = spec.Dir
	cmd.Env = env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	configureCancel(cmd, spec.GracePeriod)

	p.logger.Debug("running step", slog.String("shell", "ps"), slog.String("script", script))

	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return res, fmt.Errorf("starting powershell: %w", runErr)
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
