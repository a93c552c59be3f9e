package terminal

import (
	"os"
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

// readyToken is echoed through a fresh shell to detect readiness without an
// unbounded wait.
const readyToken = "__termhost_ready__"

// SubprocessTerminal drives a shell over raw pipes, with no pseudo-terminal.
// It is the fallback when no multiplexer is available. Accepted limitation:
// without a controlling terminal, job control is weak, so Interrupt degrades
// to signaling the process group and writing the interrupt byte, which may
// not stop a non-cooperating child.
type SubprocessTerminal struct {
	shell    string
	workDir  string
	username string
	logger   *logging.Logger

	proc           pipeProcess
	commandRunning atomic.Bool

	mu          sync.Mutex
	initialized bool
}

// NewSubprocessTerminal creates a raw-pipe backend rooted at workDir. When
// username is set the shell is entered through su, matching the managed-user
// setups this runs under.
func NewSubprocessTerminal(cfg config.SessionConfig, workDir, username string, logger *logging.Logger) *SubprocessTerminal {
	log := logger.WithBackend("subprocess")
	return &SubprocessTerminal{
		shell:    cfg.Shell,
		workDir:  workDir,
		username: username,
		logger:   log,
		proc: pipeProcess{
			logger: log,
			buffer: NewBuffer(cfg.HistoryLimit),
		},
	}
}

// Initialize starts the shell process and waits, bounded, for it to answer a
// readiness probe. Idempotent.
func (t *SubprocessTerminal) Initialize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return nil
	}

	argv := loginShellArgv(t.shell, t.username)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = t.workDir
	cmd.Env = append(os.Environ(), "PS1=", "TERM=dumb")
	setProcessGroup(cmd)

	if err := t.proc.start(cmd); err != nil {
		return err
	}

	if err := t.proc.write("echo '" + readyToken + "'\n"); err != nil {
		return err
	}
	deadline := time.Now().Add(maxSetupWait)
	for time.Now().Before(deadline) {
		if strings.Contains(t.proc.buffer.Drain(false), readyToken) {
			break
		}
		time.Sleep(setupPollInterval)
	}
	t.proc.buffer.Drain(true)

	t.initialized = true
	t.logger.Info("subprocess terminal started",
		zap.String("shell", t.shell), zap.String("work_dir", t.workDir))
	return nil
}

// SendKeys writes text to the shell's stdin. Regular commands get the
// completion-marker suffix appended and the stale buffer cleared first;
// interrupt keys and internal commands pass through untouched.
func (t *SubprocessTerminal) SendKeys(text string, enter bool, internal bool) error {
	if !t.proc.alive() {
		t.logger.Error("cannot send keys: terminal process is not running")
		return ErrNotRunning
	}

	if isSpecialKey(text) {
		return t.proc.write(ctrlC)
	}

	if !internal {
		t.proc.buffer.Drain(true)
		if strings.TrimSpace(text) != "" {
			t.commandRunning.Store(true)
			text = strings.TrimRight(text, " \t\r\n") + metadata.BashSuffix()
		}
	}
	if enter && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return t.proc.write(text)
}

// ReadScreen drains or peeks the output buffer.
func (t *SubprocessTerminal) ReadScreen(clear bool) string {
	return t.proc.buffer.Drain(clear)
}

// ClearScreen flushes the buffer and resets the command-running flag. With
// no terminal attached there is no screen to repaint, so flushing is the
// whole job.
func (t *SubprocessTerminal) ClearScreen() {
	t.proc.buffer.Drain(true)
	t.commandRunning.Store(false)
}

// Interrupt signals SIGINT to the shell's process group and writes the
// interrupt byte as a fallback. Best-effort: a child that ignores SIGINT
// keeps running.
func (t *SubprocessTerminal) Interrupt() bool {
	if !t.proc.alive() {
		return false
	}
	ok := signalInterrupt(t.proc.pid())
	if err := t.proc.write(ctrlC); err == nil {
		ok = true
	}
	t.commandRunning.Store(false)
	return ok
}

// IsRunning reports whether a command is in flight: the process is alive
// and no end marker has been observed since the last send.
func (t *SubprocessTerminal) IsRunning() bool {
	t.mu.Lock()
	initialized := t.initialized
	t.mu.Unlock()
	if !initialized || !t.proc.alive() {
		t.commandRunning.Store(false)
		return false
	}
	if metadata.ContainsEnd(t.proc.buffer.Drain(false)) {
		t.commandRunning.Store(false)
		return false
	}
	return t.commandRunning.Load()
}

// Kind identifies this backend variant.
func (t *SubprocessTerminal) Kind() string { return "subprocess" }

// WorkDir returns the directory the shell was started in.
func (t *SubprocessTerminal) WorkDir() string { return t.workDir }

// Close shuts the process down. Idempotent, best-effort, never panics on a
// second call.
func (t *SubprocessTerminal) Close() {
	t.proc.shutdown()
}
