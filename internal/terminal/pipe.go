package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/termhost/termhost/internal/logging"
)

const (
	readChunkSize      = 1024
	readerJoinTimeout  = 1 * time.Second
	terminateGrace     = 5 * time.Second
	killWait           = 2 * time.Second
	setupPollInterval  = 50 * time.Millisecond
	maxSetupWait       = 2 * time.Second
	screenClearDelay   = 200 * time.Millisecond
	postSetupDelay     = 500 * time.Millisecond
)

// pipeProcess manages a child process driven over raw pipes: merged
// stdout/stderr, a background reader goroutine decoding into a Buffer, and
// a graceful-then-forced shutdown sequence. Shared by the subprocess and
// PowerShell backends.
type pipeProcess struct {
	logger *logging.Logger
	buffer *Buffer

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdoutR    *os.File
	readerDone chan struct{}
	waitDone   chan struct{}
	exited     atomic.Bool
	closed     bool
}

// start launches cmd with piped stdin and a merged stdout/stderr pipe, then
// spawns the reader and reaper goroutines.
func (p *pipeProcess) start(cmd *exec.Cmd) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin pipe: %w", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("open output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	// Parent keeps only the read end; the child holds the write end.
	pw.Close()

	p.cmd = cmd
	p.stdin = stdin
	p.stdoutR = pr
	p.readerDone = make(chan struct{})
	p.waitDone = make(chan struct{})

	go p.readLoop(pr)
	go func() {
		_ = cmd.Wait()
		p.exited.Store(true)
		close(p.waitDone)
	}()

	return nil
}

// readLoop drains the output pipe for the lifetime of the process. Raw
// bytes pass through the incremental UTF-8 decoder before landing in the
// buffer, so chunk boundaries can never split a rune. Failures here are
// logged and end the loop; they are never propagated across the goroutine
// boundary.
func (p *pipeProcess) readLoop(r io.Reader) {
	defer close(p.readerDone)

	dec := newDecodingReader(r)
	buf := make([]byte, readChunkSize)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			p.buffer.Append(string(buf[:n]))
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Debug("output reading stopped", zap.Error(err))
			}
			return
		}
	}
}

// alive reports whether the child process is still running.
func (p *pipeProcess) alive() bool {
	return p.cmd != nil && p.cmd.Process != nil && !p.exited.Load()
}

// pid returns the child's process id, or 0 when not started.
func (p *pipeProcess) pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// write sends data to the child's stdin.
func (p *pipeProcess) write(data string) error {
	if !p.alive() {
		return ErrNotRunning
	}
	if _, err := io.WriteString(p.stdin, data); err != nil {
		p.logger.Error("failed to write to stdin", zap.Error(err))
		return fmt.Errorf("write to stdin: %w", err)
	}
	return nil
}

// shutdown runs the scoped close sequence: close streams to unblock the
// reader, join the reader with a bounded timeout, terminate the process
// with a grace period, then force a kill. Every step is best-effort; the
// process is marked closed unconditionally, and a second call is a no-op.
func (p *pipeProcess) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.stdin != nil {
		if err := p.stdin.Close(); err != nil {
			p.logger.Debug("error closing stdin", zap.Error(err))
		}
	}
	if p.stdoutR != nil {
		if err := p.stdoutR.Close(); err != nil {
			p.logger.Debug("error closing stdout", zap.Error(err))
		}
	}

	if p.readerDone != nil {
		select {
		case <-p.readerDone:
		case <-time.After(readerJoinTimeout):
			p.logger.Warn("reader goroutine did not stop within timeout")
		}
	}

	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if p.exited.Load() {
		return
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.waitDone:
		return
	case <-time.After(terminateGrace):
		p.logger.Warn("process did not terminate, forcing kill")
	}

	_ = p.cmd.Process.Kill()
	select {
	case <-p.waitDone:
	case <-time.After(killWait):
		p.logger.Error("process did not die after kill")
	}
}
