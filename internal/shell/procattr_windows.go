//go:build windows

package shell

import (
	"os/exec"
	"time"
)

// configureCancel keeps the default cancel behavior on Windows: Kill on
// the process handle. Grace-period escalation is a Unix signal concept.
func configureCancel(cmd *exec.Cmd, grace time.Duration) {
	_ = grace
}
