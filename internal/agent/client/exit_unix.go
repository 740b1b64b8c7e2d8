//go:build !windows

package client

import (
	"os/exec"
	"syscall"
)

// inspectExit classifies a finished command's exit. Signal deaths report
// the negated signal number, matching the subprocess convention callers
// rely on when checking for SIGKILL (-9).
func inspectExit(cmd *exec.Cmd) (code int, sigKilled bool) {
	state := cmd.ProcessState
	if state == nil {
		return -1, false
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return -int(sig), sig == syscall.SIGKILL
	}
	return state.ExitCode(), false
}
