package terminal

import "errors"

// Sentinel errors surfaced to callers.
var (
	// ErrNotRunning is returned when an operation is attempted on a backend
	// whose process has exited or was never started.
	ErrNotRunning = errors.New("terminal process is not running")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrInvalidAction is returned for action combinations rejected before
	// any I/O is attempted.
	ErrInvalidAction = errors.New("invalid action")
)

// Interrupt key representations accepted by SendKeys.
const ctrlC = "\x03"

var specialKeys = map[string]bool{
	ctrlC: true,
	"C-c": true,
	"C-C": true,
}

// isSpecialKey reports whether text is a raw interrupt key rather than a
// command.
func isSpecialKey(text string) bool {
	return specialKeys[text]
}

// loginShellArgv is the argv that starts the session shell. Username sessions
// enter through a non-login su: a login su would chdir to the target user's
// home and discard the session's work directory.
func loginShellArgv(shell, username string) []string {
	if username != "" {
		return []string{"su", username}
	}
	return []string{shell}
}

// Backend is the capability contract for driving one interactive shell
// process. All three variants (tmux, raw-pipe subprocess, PowerShell)
// implement it uniformly.
type Backend interface {
	// Initialize starts the underlying process or multiplexer session.
	// Idempotent; blocks briefly (bounded) for the shell to become ready.
	Initialize() error

	// SendKeys writes text to the backend's input. Unless internal or a raw
	// interrupt key, the text is wrapped with the completion-marker protocol
	// first. Returns ErrNotRunning if the process is not alive.
	SendKeys(text string, enter bool, internal bool) error

	// ReadScreen returns the accumulated output since the last clear,
	// optionally draining it.
	ReadScreen(clear bool) string

	// ClearScreen discards accumulated output and resets the
	// command-running flag.
	ClearScreen()

	// Interrupt delivers a best-effort Ctrl-C equivalent to the foreground
	// process. Never blocks; reports whether delivery succeeded.
	Interrupt() bool

	// IsRunning reports whether the process is alive and no completion
	// marker has been observed since the last command was sent.
	IsRunning() bool

	// Kind identifies the backend variant ("tmux", "subprocess",
	// "powershell").
	Kind() string

	// WorkDir returns the directory the backend was started in.
	WorkDir() string

	// Close stops the reader, closes the streams, and terminates the
	// process with a grace period then a forced kill. Idempotent; never
	// fails on a second call.
	Close()
}
