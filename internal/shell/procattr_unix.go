//go:build unix

package shell

import (
	"os/exec"
	"syscall"
	"time"
)

// configureCancel places the step in its own process group and installs
// a cancel function that signals the whole group: SIGKILL immediately
// when no grace period is set, otherwise SIGTERM with a delayed SIGKILL
// for processes that ignore it.
func configureCancel(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := -cmd.Process.Pid
		if grace <= 0 {
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			return err
		}
		go func() {
			time.Sleep(grace)
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}()
		return nil
	}
}
