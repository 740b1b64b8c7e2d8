//go:build windows

package client

import "os/exec"

// inspectExit classifies a finished command's exit. Windows has no
// signals; forced termination surfaces as a plain exit code.
func inspectExit(cmd *exec.Cmd) (code int, sigKilled bool) {
	state := cmd.ProcessState
	if state == nil {
		return -1, false
	}
	return state.ExitCode(), false
}
