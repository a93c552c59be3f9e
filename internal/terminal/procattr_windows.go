//go:build windows

package terminal

import (
	"os/exec"
	"syscall"
)

// setProcessGroup is a no-op on Windows; interrupt delivery goes through the
// interpreter's input stream instead.
func setProcessGroup(cmd *exec.Cmd) {}

// hideConsole suppresses the console window popup for the spawned
// interpreter.
func hideConsole(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}

// signalInterrupt has no process-group equivalent here; the caller falls
// back to writing the interrupt byte.
func signalInterrupt(pid int) bool {
	return false
}
