package terminal

import (
	"runtime"

	"github.com/termhost/termhost/internal/config"
	"github.com/termhost/termhost/internal/logging"
)

// NewBackend picks the best available backend for the host. Windows always
// gets PowerShell. Elsewhere tmux is preferred when the binary is on the
// path and not disabled, with the raw subprocess pipe as the fallback.
// sessionName scopes the tmux session so concurrent sessions never collide.
func NewBackend(cfg config.SessionConfig, sessionName, workDir, username string, logger *logging.Logger) Backend {
	if runtime.GOOS == "windows" {
		return NewPowerShellTerminal(cfg, workDir, logger)
	}
	if !cfg.DisableTmux && TmuxAvailable(cfg.TmuxBinary) {
		return NewTmuxTerminal(cfg, sessionName, workDir, username, logger)
	}
	return NewSubprocessTerminal(cfg, workDir, username, logger)
}
