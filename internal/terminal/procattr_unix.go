//go:build !windows

package terminal

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup places the child in its own process group so an interrupt
// can target the whole foreground job, not just the shell.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// hideConsole is a no-op outside Windows.
func hideConsole(cmd *exec.Cmd) {}

// signalInterrupt sends SIGINT to the process group rooted at pid.
func signalInterrupt(pid int) bool {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return false
	}
	return unix.Kill(-pgid, unix.SIGINT) == nil
}
