package terminal

import (
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/termhost/termhost/internal/config"
	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/metadata"
)

// PowerShellTerminal runs commands through a persistent powershell.exe fed
// over anonymous pipes. There is no console window and no PTY, so typed
// input is never echoed back and interrupts are best-effort writes of the
// interrupt byte.
type PowerShellTerminal struct {
	executable string
	workDir    string
	logger     *logging.Logger

	proc           pipeProcess
	commandRunning atomic.Bool

	mu          sync.Mutex
	initialized bool
}

// NewPowerShellTerminal creates a pipe-based PowerShell backend rooted at
// workDir.
func NewPowerShellTerminal(cfg config.SessionConfig, workDir string, logger *logging.Logger) *PowerShellTerminal {
	t := &PowerShellTerminal{
		executable: "powershell.exe",
		workDir:    workDir,
		logger:     logger.WithBackend("powershell"),
	}
	t.proc.logger = t.logger
	t.proc.buffer = NewBuffer(cfg.HistoryLimit)
	return t
}

// Initialize starts the interpreter reading commands from stdin and waits,
// bounded, for the startup banner before clearing it away.
func (p *PowerShellTerminal) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	cmd := exec.Command(p.executable, "-NoLogo", "-NoProfile", "-Command", "-")
	if p.workDir != "" {
		cmd.Dir = p.workDir
	}
	hideConsole(cmd)

	if err := p.proc.start(cmd); err != nil {
		return err
	}
	p.logger.Info("powershell started",
		zap.Int("pid", p.proc.pid()), zap.String("work_dir", p.workDir))

	// Wait for the interpreter to produce its first output, then give it a
	// moment to settle and discard the banner.
	deadline := time.Now().Add(maxSetupWait)
	for time.Now().Before(deadline) {
		if p.proc.buffer.Len() > 0 {
			break
		}
		time.Sleep(setupPollInterval)
	}
	time.Sleep(postSetupDelay)
	p.proc.buffer.Drain(true)

	p.initialized = true
	return nil
}

// SendKeys writes text to the interpreter's stdin. Regular commands drain
// the buffer first and carry the completion-marker suffix.
func (p *PowerShellTerminal) SendKeys(text string, enter bool, internal bool) error {
	if isSpecialKey(text) {
		return p.proc.write(ctrlC)
	}
	if !internal && strings.TrimSpace(text) != "" {
		p.proc.buffer.Drain(true)
		p.commandRunning.Store(true)
		text = strings.TrimRight(text, " \t\r\n") + metadata.PowerShellSuffix()
	}
	if enter {
		text += "\n"
	}
	return p.proc.write(text)
}

// ReadScreen drains or peeks the accumulated interpreter output.
func (p *PowerShellTerminal) ReadScreen(clear bool) string {
	return p.proc.buffer.Drain(clear)
}

// ClearScreen issues Clear-Host, waits for it to land, and discards
// whatever is buffered.
func (p *PowerShellTerminal) ClearScreen() {
	if err := p.SendKeys("Clear-Host", true, true); err != nil {
		p.logger.Debug("clear-host failed", zap.Error(err))
	}
	time.Sleep(screenClearDelay)
	p.proc.buffer.Drain(true)
	p.commandRunning.Store(false)
}

// Interrupt writes the interrupt byte to stdin. Without a console there is
// no CTRL_C_EVENT to deliver, so this cannot stop a compiled child process.
func (p *PowerShellTerminal) Interrupt() bool {
	if !p.proc.alive() {
		return false
	}
	if err := p.proc.write(ctrlC); err != nil {
		p.logger.Error("failed to send interrupt", zap.Error(err))
		return false
	}
	p.commandRunning.Store(false)
	return true
}

// IsRunning reports whether a command is still executing.
func (p *PowerShellTerminal) IsRunning() bool {
	if !p.proc.alive() {
		p.commandRunning.Store(false)
		return false
	}
	if metadata.ContainsEnd(p.proc.buffer.Drain(false)) {
		p.commandRunning.Store(false)
		return false
	}
	return p.commandRunning.Load()
}

// Kind identifies this backend variant.
func (p *PowerShellTerminal) Kind() string { return "powershell" }

// WorkDir returns the directory the interpreter was started in.
func (p *PowerShellTerminal) WorkDir() string { return p.workDir }

// Close shuts the interpreter down, escalating from stream close to
// terminate to kill. Idempotent.
func (p *PowerShellTerminal) Close() {
	p.proc.shutdown()
}
