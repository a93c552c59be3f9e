// Package stream provides raw pseudo-terminal streams for interactive
// clients. Unlike the command-oriented terminal sessions, a stream carries
// unprocessed bytes both ways: whatever the client types goes straight to
// the PTY and whatever the PTY emits is buffered for pickup, escape
// sequences included. Suitable for driving a browser terminal emulator.
package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/shared/id"
)

var (
	// ErrStreamNotFound means no live stream has the given ID.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrStreamClosed means the stream's process has exited.
	ErrStreamClosed = errors.New("stream is closed")
)

const outputRingSize = 1 << 20

// Stream is one live PTY with its shell process.
type Stream struct {
	ID        id.StreamID
	Shell     string
	WorkDir   string
	Cols      int
	Rows      int
	StartedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File
	out  *ring

	mu     sync.RWMutex
	closed bool
}

// Info is the public view of a stream.
type Info struct {
	ID        id.StreamID `json:"id"`
	Shell     string      `json:"shell"`
	WorkDir   string      `json:"work_dir"`
	Cols      int         `json:"cols"`
	Rows      int         `json:"rows"`
	StartedAt time.Time   `json:"started_at"`
	Active    bool        `json:"active"`
}

func (s *Stream) info() Info {
	s.mu.RLock()
	active := !s.closed
	s.mu.RUnlock()
	return Info{
		ID:        s.ID,
		Shell:     s.Shell,
		WorkDir:   s.WorkDir,
		Cols:      s.Cols,
		Rows:      s.Rows,
		StartedAt: s.StartedAt,
		Active:    active,
	}
}

// Manager tracks live PTY streams by ID.
type Manager struct {
	logger  *logging.Logger
	streams sync.Map // id.StreamID -> *Stream
}

// NewManager creates a stream manager.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{logger: logger.WithBackend("stream")}
}

// Create starts a shell on a fresh PTY and begins buffering its output.
func (m *Manager) Create(shell, workDir string, cols, rows int, env map[string]string) (Info, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}
	if workDir == "" {
		workDir = os.Getenv("HOME")
		if workDir == "" {
			workDir = "/tmp"
		}
	}
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(shell)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return Info{}, fmt.Errorf("start pty: %w", err)
	}

	s := &Stream{
		ID:        id.NewStreamID(),
		Shell:     shell,
		WorkDir:   workDir,
		Cols:      cols,
		Rows:      rows,
		StartedAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		out:       newRing(outputRingSize),
	}
	m.streams.Store(s.ID, s)

	go m.pump(s)
	go m.reap(s)

	m.logger.Info("stream created",
		zap.String("stream_id", s.ID.String()),
		zap.String("shell", shell),
		zap.Int("pid", cmd.Process.Pid))
	return s.info(), nil
}

// pump copies PTY output into the ring until the PTY closes.
func (m *Manager) pump(s *Stream) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.out.write(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				m.logger.Debug("pty read ended",
					zap.String("stream_id", s.ID.String()), zap.Error(err))
			}
			return
		}
	}
}

// reap waits for the shell to exit and marks the stream closed.
func (m *Manager) reap(s *Stream) {
	s.cmd.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ptmx.Close()
	m.logger.Info("stream process exited", zap.String("stream_id", s.ID.String()))
}

func (m *Manager) load(sid id.StreamID) (*Stream, error) {
	v, ok := m.streams.Load(sid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, sid)
	}
	return v.(*Stream), nil
}

// Write sends raw bytes to the stream's PTY.
func (m *Manager) Write(sid id.StreamID, input []byte) error {
	s, err := m.load(sid)
	if err != nil {
		return err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: %s", ErrStreamClosed, sid)
	}
	_, err = s.ptmx.Write(input)
	return err
}

// Read drains whatever PTY output has accumulated since the last read.
func (m *Manager) Read(sid id.StreamID) ([]byte, error) {
	s, err := m.load(sid)
	if err != nil {
		return nil, err
	}
	return s.out.drain(), nil
}

// Resize changes the PTY dimensions.
func (m *Manager) Resize(sid id.StreamID, cols, rows int) error {
	s, err := m.load(sid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrStreamClosed, sid)
	}
	s.Cols, s.Rows = cols, rows
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Kill terminates the stream's process and forgets the stream.
func (m *Manager) Kill(sid id.StreamID) error {
	v, ok := m.streams.LoadAndDelete(sid)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, sid)
	}
	s := v.(*Stream)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.ptmx.Close()
	m.logger.Info("stream killed", zap.String("stream_id", sid.String()))
	return nil
}

// Get returns the stream's public view.
func (m *Manager) Get(sid id.StreamID) (Info, error) {
	s, err := m.load(sid)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// List returns the public view of every tracked stream.
func (m *Manager) List() []Info {
	var out []Info
	m.streams.Range(func(_, v any) bool {
		out = append(out, v.(*Stream).info())
		return true
	})
	return out
}

// Count returns the number of tracked streams.
func (m *Manager) Count() int {
	n := 0
	m.streams.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CloseAll kills every tracked stream.
func (m *Manager) CloseAll() {
	m.streams.Range(func(k, _ any) bool {
		m.Kill(k.(id.StreamID))
		return true
	})
}
