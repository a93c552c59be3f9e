package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/termhost/termhost/internal/api/http"
	"github.com/termhost/termhost/internal/api/middleware"
	"github.com/termhost/termhost/internal/api/ws"
	"github.com/termhost/termhost/internal/config"
	"github.com/termhost/termhost/internal/logging"
	"github.com/termhost/termhost/internal/monitoring"
	"github.com/termhost/termhost/internal/stream"
	"github.com/termhost/termhost/internal/terminal"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	router   *gin.Engine
	sessions *terminal.Manager
	streams  *stream.Manager
	metrics  *monitoring.Metrics
	httpSrv  *http.Server
}

// New builds a fully wired server.
func New(cfg *config.Config, logger *logging.Logger) *Server {
	sessions := terminal.NewManager(cfg.Session, logger)
	streams := stream.NewManager(logger)
	metrics := monitoring.NewMetrics()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}
	router.Use(monitoring.Middleware(metrics))

	handlers := apihttp.NewHandlers(sessions, streams, metrics, logger)
	wsHandler := ws.NewHandler(streams, metrics, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.POST("/sessions/:id/execute", handlers.Execute)
	router.POST("/sessions/:id/interrupt", handlers.Interrupt)
	router.DELETE("/sessions/:id", handlers.CloseSession)

	router.POST("/streams", handlers.CreateStream)
	router.GET("/streams", handlers.ListStreams)
	router.GET("/streams/:id", handlers.GetStream)
	router.GET("/streams/:id/attach", wsHandler.Attach)
	router.DELETE("/streams/:id", handlers.KillStream)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		router:   router,
		sessions: sessions,
		streams:  streams,
		metrics:  metrics,
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", zap.String("addr", addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and tears down every session and
// stream.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.sessions.CloseAll()
	s.streams.CloseAll()
	s.logger.Info("server stopped")
	return err
}
