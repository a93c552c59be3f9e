package terminal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/termhost/termhost/internal/config"
	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/metadata"
	"github.com/termhost/termhost/internal/shared/id"
)

// CommandStatus describes how an executed command concluded.
type CommandStatus string

const (
	// StatusCompleted means the completion record arrived and was decoded.
	StatusCompleted CommandStatus = "COMPLETED"
	// StatusRunning means a prior command is still in flight and the new
	// command was not sent.
	StatusRunning CommandStatus = "RUNNING"
	// StatusNoOutputTimeout means the screen stopped changing for longer
	// than the action's timeout. The command keeps running server-side.
	StatusNoOutputTimeout CommandStatus = "NO_OUTPUT_TIMEOUT"
	// StatusHardTimeout means the absolute wall-clock ceiling elapsed. The
	// command keeps running server-side.
	StatusHardTimeout CommandStatus = "HARD_TIMEOUT"
)

// Action is one request against a session.
type Action struct {
	Command string        `json:"command"`
	IsInput bool          `json:"is_input"`
	Timeout time.Duration `json:"timeout"`
	Reset   bool          `json:"reset"`
}

// Observation is the result of executing an Action.
type Observation struct {
	Text         string        `json:"text"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	Status       CommandStatus `json:"status"`
	WorkingDir   string        `json:"working_dir,omitempty"`
	CommandLabel string        `json:"command_label"`
}

const resetNotice = "Terminal session has been reset."

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateReady
	stateBusy
	stateClosed
)

// Session owns one backend and serializes command execution against it.
// Execute polls the backend's screen until the completion record appears or
// one of two timeouts fires; on timeout the command keeps running and the
// caller may poll again, send input, or interrupt.
type Session struct {
	ID        id.SessionID
	WorkDir   string
	Username  string
	CreatedAt time.Time

	cfg     config.SessionConfig
	logger  *logging.Logger
	factory func() Backend

	mu      sync.Mutex
	backend Backend
	state   sessionState
}

// NewSession builds a session around the factory's backend. The factory is
// retained so reset can replace the backend with a fresh one rooted at the
// original working directory.
func NewSession(cfg config.SessionConfig, workDir, username string, logger *logging.Logger) *Session {
	sid := id.NewSessionID()
	s := &Session{
		ID:        sid,
		WorkDir:   workDir,
		Username:  username,
		CreatedAt: time.Now(),
		cfg:       cfg,
		logger:    logger.WithSession(sid.String()),
	}
	s.factory = func() Backend {
		return NewBackend(cfg, "termhost-"+sid.String(), workDir, username, s.logger)
	}
	s.backend = s.factory()
	return s
}

// NewSessionWithFactory builds a session whose backends come from the given
// factory instead of platform selection.
func NewSessionWithFactory(cfg config.SessionConfig, workDir, username string, logger *logging.Logger, factory func() Backend) *Session {
	sid := id.NewSessionID()
	s := &Session{
		ID:        sid,
		WorkDir:   workDir,
		Username:  username,
		CreatedAt: time.Now(),
		cfg:       cfg,
		logger:    logger.WithSession(sid.String()),
		factory:   factory,
	}
	s.backend = factory()
	return s
}

// Initialize starts the underlying backend. Idempotent.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return ErrSessionClosed
	}
	if s.state != stateUninitialized {
		return nil
	}
	if err := s.backend.Initialize(); err != nil {
		return err
	}
	s.state = stateReady
	return nil
}

// BackendKind reports which backend variant the session runs on.
func (s *Session) BackendKind() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Kind()
}

// IsBusy reports whether a command is currently in flight.
func (s *Session) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateBusy && s.backend.IsRunning()
}

// Execute runs one action and blocks until it completes or times out. A
// reset combined with is_input is rejected before any I/O happens.
func (s *Session) Execute(ctx context.Context, action Action) (*Observation, error) {
	if action.Reset && action.IsInput {
		return nil, fmt.Errorf("%w: reset cannot be combined with is_input", ErrInvalidAction)
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.state == stateUninitialized {
		if err := s.backend.Initialize(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.state = stateReady
	}

	if action.Reset {
		if err := s.restartBackendLocked(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()
		return s.observeReset(ctx, action)
	}

	command := action.Command
	busy := s.state == stateBusy && s.backend.IsRunning()
	if busy && !action.IsInput && strings.TrimSpace(command) != "" {
		text := tidyOutput(s.backend.ReadScreen(false))
		s.mu.Unlock()
		s.logger.Debug("command rejected, session busy", zap.String("command", command))
		return &Observation{Text: text, Status: StatusRunning, CommandLabel: command}, nil
	}

	var err error
	switch {
	case action.IsInput:
		err = s.backend.SendKeys(command, true, true)
	case strings.TrimSpace(command) == "":
		// Empty command continues waiting on whatever is in flight.
	default:
		err = s.backend.SendKeys(command, true, false)
	}
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = stateBusy
	s.mu.Unlock()

	return s.poll(ctx, action)
}

// poll reads the screen at a fixed interval until the completion record
// shows up or a timeout fires. The no-output clock restarts whenever the
// screen changes; the hard ceiling never does.
func (s *Session) poll(ctx context.Context, action Action) (*Observation, error) {
	noOutput := action.Timeout
	if noOutput <= 0 {
		noOutput = s.cfg.NoOutputTimeout
	}

	start := time.Now()
	lastChange := start
	lastScreen := ""

	for {
		screen := s.currentBackend().ReadScreen(false)
		if rec, stripped, ok := metadata.Extract(screen); ok {
			s.currentBackend().ClearScreen()
			s.setState(stateReady)
			exit := rec.ExitCode
			s.logger.Debug("command completed",
				zap.Int("exit_code", exit), zap.String("working_dir", rec.WorkingDir))
			return &Observation{
				Text:         tidyOutput(stripped),
				ExitCode:     &exit,
				Status:       StatusCompleted,
				WorkingDir:   rec.WorkingDir,
				CommandLabel: action.Command,
			}, nil
		}

		now := time.Now()
		if screen != lastScreen {
			lastScreen = screen
			lastChange = now
		}
		if now.Sub(start) >= s.cfg.HardTimeout {
			s.logger.Warn("command hit hard timeout",
				zap.Duration("ceiling", s.cfg.HardTimeout), zap.String("command", action.Command))
			return s.observeTimeout(screen, action.Command, StatusHardTimeout, s.cfg.HardTimeout), nil
		}
		if now.Sub(lastChange) >= noOutput {
			s.logger.Warn("command hit no-output timeout",
				zap.Duration("timeout", noOutput), zap.String("command", action.Command))
			return s.observeTimeout(screen, action.Command, StatusNoOutputTimeout, noOutput), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// observeTimeout leaves the session busy and the buffer intact so a later
// empty-command poll can pick up where this one left off.
func (s *Session) observeTimeout(screen, command string, status CommandStatus, elapsed time.Duration) *Observation {
	var notice string
	if status == StatusHardTimeout {
		notice = fmt.Sprintf(
			"[Command exceeded the %s execution ceiling. It is still running; send an empty command to keep waiting, send input, or interrupt it.]",
			elapsed)
	} else {
		notice = fmt.Sprintf(
			"[Command produced no new output in %s. It is still running; send an empty command to keep waiting, send input, or interrupt it.]",
			elapsed)
	}
	text := tidyOutput(screen)
	if text != "" {
		text += "\n"
	}
	return &Observation{
		Text:         text + notice,
		Status:       status,
		CommandLabel: command,
	}
}

// observeReset reports the restart, running the accompanying command first
// when one was supplied.
func (s *Session) observeReset(ctx context.Context, action Action) (*Observation, error) {
	command := strings.TrimSpace(action.Command)
	if command == "" {
		exit := 0
		return &Observation{
			Text:         resetNotice,
			ExitCode:     &exit,
			Status:       StatusCompleted,
			WorkingDir:   s.WorkDir,
			CommandLabel: "[RESET]",
		}, nil
	}

	obs, err := s.Execute(ctx, Action{Command: action.Command, Timeout: action.Timeout})
	if err != nil {
		return nil, err
	}
	obs.CommandLabel = "[RESET] " + action.Command
	if obs.Text != "" {
		obs.Text = resetNotice + "\n" + obs.Text
	} else {
		obs.Text = resetNotice
	}
	return obs, nil
}

// restartBackendLocked swaps in a fresh backend rooted at the session's
// original working directory. Caller holds s.mu.
func (s *Session) restartBackendLocked() error {
	s.logger.Info("resetting session")
	s.backend.Close()
	s.backend = s.factory()
	if err := s.backend.Initialize(); err != nil {
		s.state = stateClosed
		return fmt.Errorf("restart backend: %w", err)
	}
	s.state = stateReady
	return nil
}

// Interrupt signals the foreground process. Safe to call when nothing is
// running; advisory only, termination is not guaranteed.
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return false
	}
	ok := s.backend.Interrupt()
	if ok && s.state == stateBusy {
		s.state = stateReady
	}
	return ok
}

// Close tears down the backend. Idempotent; never fails on a second call.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	s.backend.Close()
	s.state = stateClosed
	s.logger.Info("session closed")
}

func (s *Session) currentBackend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

func (s *Session) setState(st sessionState) {
	s.mu.Lock()
	if s.state != stateClosed {
		s.state = st
	}
	s.mu.Unlock()
}

// tidyOutput normalizes line endings, removes the echoed completion-marker
// suffix a PTY repeats back, and trims surrounding whitespace.
func tidyOutput(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, metadata.EchoSuffixMarker); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
