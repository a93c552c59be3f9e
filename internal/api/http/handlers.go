// Package http exposes the session and stream managers over a REST API.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/monitoring"
	"github.com/termhost/termhost/internal/shared/id"
	"github.com/termhost/termhost/internal/stream"
	"github.com/termhost/termhost/internal/terminal"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	sessions *terminal.Manager
	streams  *stream.Manager
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// NewHandlers creates a handler set.
func NewHandlers(sessions *terminal.Manager, streams *stream.Manager, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		streams:  streams,
		metrics:  metrics,
		logger:   logger,
	}
}

// Root handles the liveness probe.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termhost",
		"version": "0.1.0",
	})
}

// Health reports service health and resource counts.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Count(),
		"streams":  h.streams.Count(),
	})
}

type createSessionRequest struct {
	WorkDir  string `json:"work_dir"`
	Username string `json:"username"`
}

type sessionInfo struct {
	ID        id.SessionID `json:"id"`
	Backend   string       `json:"backend"`
	WorkDir   string       `json:"work_dir"`
	Username  string       `json:"username,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Busy      bool         `json:"busy"`
}

func describeSession(s *terminal.Session) sessionInfo {
	return sessionInfo{
		ID:        s.ID,
		Backend:   s.BackendKind(),
		WorkDir:   s.WorkDir,
		Username:  s.Username,
		CreatedAt: s.CreatedAt,
		Busy:      s.IsBusy(),
	}
}

// CreateSession starts a new terminal session.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	session, err := h.sessions.Create(req.WorkDir, req.Username)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.metrics.SetSessionsActive(h.sessions.Count())

	c.JSON(http.StatusCreated, describeSession(session))
}

// ListSessions lists all live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	infos := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, describeSession(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos, "count": len(infos)})
}

// GetSession returns one session's state.
func (h *Handlers) GetSession(c *gin.Context) {
	session, ok := h.sessions.Get(id.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, describeSession(session))
}

type executeRequest struct {
	Command        string  `json:"command"`
	IsInput        bool    `json:"is_input"`
	TimeoutSeconds float64 `json:"timeout,omitempty"`
	Reset          bool    `json:"reset"`
}

// Execute runs one action against a session and blocks until it completes
// or times out.
func (h *Handlers) Execute(c *gin.Context) {
	session, ok := h.sessions.Get(id.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := terminal.Action{
		Command: req.Command,
		IsInput: req.IsInput,
		Timeout: time.Duration(req.TimeoutSeconds * float64(time.Second)),
		Reset:   req.Reset,
	}
	if action.Reset {
		h.metrics.ResetsTotal.Inc()
	}

	start := time.Now()
	obs, err := session.Execute(c.Request.Context(), action)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, terminal.ErrInvalidAction):
			status = http.StatusBadRequest
		case errors.Is(err, terminal.ErrSessionClosed), errors.Is(err, terminal.ErrNotRunning):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.metrics.RecordCommand(session.BackendKind(), string(obs.Status), time.Since(start))
	switch obs.Status {
	case terminal.StatusNoOutputTimeout:
		h.metrics.RecordTimeout("no_output")
	case terminal.StatusHardTimeout:
		h.metrics.RecordTimeout("hard")
	}

	c.JSON(http.StatusOK, obs)
}

// Interrupt signals the session's foreground process.
func (h *Handlers) Interrupt(c *gin.Context) {
	session, ok := h.sessions.Get(id.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	h.metrics.InterruptsTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"interrupted": session.Interrupt()})
}

// CloseSession tears down a session.
func (h *Handlers) CloseSession(c *gin.Context) {
	if !h.sessions.Close(id.SessionID(c.Param("id"))) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	h.metrics.SetSessionsActive(h.sessions.Count())
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

type createStreamRequest struct {
	Shell   string            `json:"shell"`
	WorkDir string            `json:"work_dir"`
	Cols    int               `json:"cols"`
	Rows    int               `json:"rows"`
	Env     map[string]string `json:"env"`
}

// CreateStream starts a raw PTY stream.
func (h *Handlers) CreateStream(c *gin.Context) {
	var req createStreamRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	info, err := h.streams.Create(req.Shell, req.WorkDir, req.Cols, req.Rows, req.Env)
	if err != nil {
		h.logger.Error("failed to create stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.metrics.SetStreamsActive(h.streams.Count())

	c.JSON(http.StatusCreated, info)
}

// ListStreams lists all live streams.
func (h *Handlers) ListStreams(c *gin.Context) {
	infos := h.streams.List()
	c.JSON(http.StatusOK, gin.H{"streams": infos, "count": len(infos)})
}

// GetStream returns one stream's state.
func (h *Handlers) GetStream(c *gin.Context) {
	info, err := h.streams.Get(id.StreamID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// KillStream terminates a stream.
func (h *Handlers) KillStream(c *gin.Context) {
	if err := h.streams.Kill(id.StreamID(c.Param("id"))); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.metrics.SetStreamsActive(h.streams.Count())
	c.JSON(http.StatusOK, gin.H{"killed": true})
}
