package terminal

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/termhost/termhost/internal/config"
	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/metadata"
)

// sendKeysDebounce separates the literal paste from the Enter keypress so
// the Enter never races ahead of the paste inside tmux.
const sendKeysDebounce = 50 * time.Millisecond

// validSessionNameRe rejects names tmux silently mangles (dots, colons).
var validSessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// TmuxTerminal drives a named tmux session bound to a pseudo-terminal. The
// multiplexer owns the PTY and its scrollback, so the pane history is the
// output buffer: reads are capture-pane snapshots and clears are
// clear-history. The session survives the controlling process and delivers
// true job-control interrupts.
type TmuxTerminal struct {
	name     string
	binary   string
	shell    string
	workDir  string
	username string
	logger   *logging.Logger

	commandRunning atomic.Bool

	mu          sync.Mutex
	initialized bool
	closed      bool
}

// NewTmuxTerminal creates a multiplexer backend for the named session.
func NewTmuxTerminal(cfg config.SessionConfig, name, workDir, username string, logger *logging.Logger) *TmuxTerminal {
	return &TmuxTerminal{
		name:     name,
		binary:   cfg.TmuxBinary,
		shell:    cfg.Shell,
		workDir:  workDir,
		username: username,
		logger:   logger.WithBackend("tmux"),
	}
}

// TmuxAvailable reports whether the multiplexer binary is discoverable on
// the search path.
func TmuxAvailable(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// run executes a tmux command and returns trimmed stdout. The -u flag keeps
// tmux in UTF-8 mode regardless of locale.
func (t *TmuxTerminal) run(args ...string) (string, error) {
	cmd := exec.Command(t.binary, append([]string{"-u"}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("tmux %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Initialize creates the detached named session rooted at the work
// directory. Idempotent; waits, bounded, until tmux reports the session.
func (t *TmuxTerminal) Initialize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return nil
	}
	if !validSessionNameRe.MatchString(t.name) {
		return fmt.Errorf("invalid tmux session name %q", t.name)
	}

	shellCmd := strings.Join(loginShellArgv(t.shell, t.username), " ")

	// Extra-wide pane so long lines do not wrap through the completion
	// markers.
	args := []string{"new-session", "-d", "-s", t.name, "-x", "250", "-y", "50"}
	if t.workDir != "" {
		args = append(args, "-c", t.workDir)
	}
	args = append(args, shellCmd)
	if _, err := t.run(args...); err != nil {
		return err
	}
	if _, err := t.run("set-option", "-t", t.name, "history-limit", "100000"); err != nil {
		t.logger.Debug("could not raise history limit", zap.Error(err))
	}

	deadline := time.Now().Add(maxSetupWait)
	for time.Now().Before(deadline) {
		if t.hasSession() {
			break
		}
		time.Sleep(setupPollInterval)
	}

	t.initialized = true
	t.logger.Info("tmux session started",
		zap.String("session", t.name), zap.String("work_dir", t.workDir))
	return nil
}

func (t *TmuxTerminal) hasSession() bool {
	_, err := t.run("has-session", "-t", t.name)
	return err == nil
}

func (t *TmuxTerminal) alive() bool {
	t.mu.Lock()
	initialized, closed := t.initialized, t.closed
	t.mu.Unlock()
	return initialized && !closed && t.hasSession()
}

// SendKeys sends text into the pane. Regular commands are cleared-ahead and
// wrapped with the completion-marker suffix; the literal paste and the
// Enter keypress go as separate send-keys calls for reliability.
func (t *TmuxTerminal) SendKeys(text string, enter bool, internal bool) error {
	if !t.alive() {
		t.logger.Error("cannot send keys: tmux session is not running")
		return ErrNotRunning
	}

	if isSpecialKey(text) {
		_, err := t.run("send-keys", "-t", t.name, "C-c")
		return err
	}

	if !internal && strings.TrimSpace(text) != "" {
		t.ClearScreen()
		t.commandRunning.Store(true)
		text = strings.TrimRight(text, " \t\r\n") + metadata.BashSuffix()
	}

	if _, err := t.run("send-keys", "-t", t.name, "-l", text); err != nil {
		return err
	}
	if !enter {
		return nil
	}
	time.Sleep(sendKeysDebounce)
	_, err := t.run("send-keys", "-t", t.name, "Enter")
	return err
}

// ReadScreen captures the pane including scrollback, joining wrapped lines
// so echoed commands stay on one physical line. With clear set, the
// scrollback is dropped afterwards.
func (t *TmuxTerminal) ReadScreen(clear bool) string {
	out, err := t.run("capture-pane", "-p", "-J", "-t", t.name, "-S", "-")
	if err != nil {
		t.logger.Debug("capture-pane failed", zap.Error(err))
		return ""
	}
	if clear {
		if _, err := t.run("clear-history", "-t", t.name); err != nil {
			t.logger.Debug("clear-history failed", zap.Error(err))
		}
	}
	return out
}

// ClearScreen repaints the pane to just a prompt and drops the scrollback,
// then resets the command-running flag.
func (t *TmuxTerminal) ClearScreen() {
	if err := t.SendKeys("clear", true, true); err != nil {
		t.logger.Debug("clear command failed", zap.Error(err))
	}
	time.Sleep(screenClearDelay)
	if _, err := t.run("clear-history", "-t", t.name); err != nil {
		t.logger.Debug("clear-history failed", zap.Error(err))
	}
	t.commandRunning.Store(false)
}

// Interrupt sends the native interrupt key into the session. tmux delivers
// it through the PTY, so the foreground job receives a real SIGINT.
func (t *TmuxTerminal) Interrupt() bool {
	if !t.alive() {
		return false
	}
	if _, err := t.run("send-keys", "-t", t.name, "C-c"); err != nil {
		t.logger.Error("failed to send interrupt", zap.Error(err))
		return false
	}
	t.commandRunning.Store(false)
	return true
}

// IsRunning reports whether a command is in flight in the pane.
func (t *TmuxTerminal) IsRunning() bool {
	if !t.alive() {
		t.commandRunning.Store(false)
		return false
	}
	if metadata.ContainsEnd(t.ReadScreen(false)) {
		t.commandRunning.Store(false)
		return false
	}
	return t.commandRunning.Load()
}

// Kind identifies this backend variant.
func (t *TmuxTerminal) Kind() string { return "tmux" }

// WorkDir returns the directory the session was created in.
func (t *TmuxTerminal) WorkDir() string { return t.workDir }

// Close kills the named session. Idempotent; a failure is logged, not
// raised, and the backend is marked closed regardless.
func (t *TmuxTerminal) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if !t.initialized {
		return
	}
	if _, err := t.run("kill-session", "-t", t.name); err != nil {
		t.logger.Debug("kill-session failed", zap.Error(err))
	}
}
