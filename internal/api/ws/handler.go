// Package ws bridges raw PTY streams onto WebSocket connections.
package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/monitoring"
	"github.com/termhost/termhost/internal/shared/id"
	"github.com/termhost/termhost/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// outputFlushInterval paces PTY-to-client delivery. Short enough to feel
// interactive, long enough to batch bursty output.
const outputFlushInterval = 30 * time.Millisecond

// Message is one client-to-server frame.
type Message struct {
	Type string `json:"type"` // "input", "resize", "ping"
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// wsConn serializes writes to one websocket connection. gorilla/websocket
// supports at most one concurrent writer, and frames originate from two
// goroutines: output flushes from the pump, pong replies from the read loop.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) writeClose(code int, reason string) error {
	return w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
}

// Handler attaches WebSocket clients to PTY streams.
type Handler struct {
	streams *stream.Manager
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(streams *stream.Manager, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	return &Handler{streams: streams, metrics: metrics, logger: logger}
}

// Attach upgrades the connection and pumps bytes between the client and the
// stream's PTY until either side goes away.
func (h *Handler) Attach(c *gin.Context) {
	sid := id.StreamID(c.Param("id"))
	if _, err := h.streams.Get(sid); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	h.logger.Info("client attached", zap.String("stream_id", sid.String()))

	w := &wsConn{conn: conn}
	done := make(chan struct{})
	go h.pumpOutput(w, sid, done)
	h.readInput(w, sid)
	close(done)
}

// pumpOutput ships buffered PTY output to the client on a fixed cadence.
func (h *Handler) pumpOutput(w *wsConn, sid id.StreamID, done <-chan struct{}) {
	ticker := time.NewTicker(outputFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			out, err := h.streams.Read(sid)
			if err != nil {
				w.writeClose(websocket.CloseGoingAway, "stream closed")
				return
			}
			if len(out) == 0 {
				continue
			}
			if err := w.writeMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
		}
	}
}

// readInput forwards client frames to the PTY until the connection drops.
func (h *Handler) readInput(w *wsConn, sid id.StreamID) {
	for {
		var msg Message
		if err := w.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended",
					zap.String("stream_id", sid.String()), zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "input":
			if err := h.streams.Write(sid, []byte(msg.Data)); err != nil {
				if errors.Is(err, stream.ErrStreamClosed) || errors.Is(err, stream.ErrStreamNotFound) {
					return
				}
				h.logger.Debug("pty write failed", zap.Error(err))
			}
		case "resize":
			if err := h.streams.Resize(sid, msg.Cols, msg.Rows); err != nil {
				h.logger.Debug("resize failed", zap.Error(err))
			}
		case "ping":
			w.writeJSON(gin.H{"type": "pong"})
		}
	}
}
