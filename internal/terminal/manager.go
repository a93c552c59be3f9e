package terminal

import (
	"sync"

	"go.uber.org/zap"

	"github.com/termhost/termhost/internal/config"
	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/shared/id"
)

// Manager tracks live sessions by ID.
type Manager struct {
	cfg      config.SessionConfig
	logger   *logging.Logger
	sessions sync.Map // id.SessionID -> *Session
}

// NewManager creates a session manager.
func NewManager(cfg config.SessionConfig, logger *logging.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Create starts a new initialized session rooted at workDir. An empty
// workDir defers to the backend process's own default. username, when set,
// runs the shell as that user.
func (m *Manager) Create(workDir, username string) (*Session, error) {
	session := NewSession(m.cfg, workDir, username, m.logger)
	if err := session.Initialize(); err != nil {
		session.Close()
		return nil, err
	}
	m.sessions.Store(session.ID, session)
	m.logger.Info("session created",
		zap.String("session_id", session.ID.String()),
		zap.String("backend", session.BackendKind()),
		zap.String("work_dir", workDir))
	return session, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(sid id.SessionID) (*Session, bool) {
	v, ok := m.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	var out []*Session
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close tears down and forgets the session with the given ID.
func (m *Manager) Close(sid id.SessionID) bool {
	v, ok := m.sessions.LoadAndDelete(sid)
	if !ok {
		return false
	}
	v.(*Session).Close()
	return true
}

// CloseAll tears down every live session.
func (m *Manager) CloseAll() {
	m.sessions.Range(func(k, v any) bool {
		v.(*Session).Close()
		m.sessions.Delete(k)
		return true
	})
}
