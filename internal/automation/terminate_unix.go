//go:build !windows

package automation

import (
	"os/exec"
	"syscall"
	"time"
)

// terminateProcess sends SIGTERM, then SIGKILL if the process lingers.
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	// Give npx-wrapped node processes a moment to unwind before the
	// hard kill.
	time.Sleep(200 * time.Millisecond)
	if err := cmd.Process.Signal(syscall.Signal(0)); err == nil {
		_ = cmd.Process.Kill()
	}
}
