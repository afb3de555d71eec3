//go:build windows

package automation

import (
	"os/exec"
	"strconv"
)

// terminateProcess kills the process tree; Windows has no graceful signal.
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	kill := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
	_ = kill.Run()
	_ = cmd.Process.Kill()
}
