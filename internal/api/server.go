package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/sentinel-mask/internal/audit"
	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/generation"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"github.com/raaihank/sentinel-mask/internal/metrics"
	"github.com/raaihank/sentinel-mask/internal/privacy"
	"github.com/raaihank/sentinel-mask/internal/ratelimit"
	"github.com/raaihank/sentinel-mask/internal/session"
	"github.com/raaihank/sentinel-mask/internal/stats"
	"github.com/raaihank/sentinel-mask/internal/web"
	"github.com/raaihank/sentinel-mask/internal/websocket"
	"go.uber.org/zap"
)

// Version is reported by /info
var Version = "0.1.0"

// StatsStore receives per-operation counters
type StatsStore interface {
	Record(ctx context.Context, ev stats.Event) error
	Recent(ctx context.Context, now time.Time, days int) ([]*stats.DailyStats, error)
}

// AuditStore receives the audit trail
type AuditStore interface {
	Record(ctx context.Context, entry *audit.Entry) error
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Options carries the optional collaborators of the server. Nil fields turn
// the matching feature off.
type Options struct {
	Generator generation.Generator
	Sessions  *session.Store
	Stats     StatsStore
	Audit     AuditStore
	Metrics   *metrics.Metrics
	Hub       *websocket.Hub
	Limiter   *ratelimit.Limiter
}

// Server exposes the masking engine over HTTP
type Server struct {
	config *config.Config
	logger *logger.Logger
	engine atomic.Pointer[privacy.Engine]
	router *mux.Router
	server *http.Server

	generator generation.Generator
	sessions  *session.Store
	stats     StatsStore
	audit     AuditStore
	metrics   *metrics.Metrics
	wsHub     *websocket.Hub
	limiter   *ratelimit.Limiter

	started   time.Time
	requests  atomic.Int64
	masked    atomic.Int64
	hubCancel context.CancelFunc
}

// New creates a new API server instance
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Server, error) {
	if log == nil {
		log = logger.NewNop()
	}

	engine, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create masking engine: %w", err)
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(cfg.Session, log)
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("api"),
		router:    mux.NewRouter(),
		generator: opts.Generator,
		sessions:  sessions,
		stats:     opts.Stats,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		wsHub:     opts.Hub,
		limiter:   opts.Limiter,
		started:   time.Now(),
	}
	s.engine.Store(engine)

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	if s.wsHub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
	}
	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.requestIDMiddleware)
	v1.Use(s.loggingMiddleware)
	v1.Use(s.rateLimitMiddleware)

	v1.HandleFunc("/mask", s.handleMask).Methods("POST")
	v1.HandleFunc("/unmask", s.handleUnmask).Methods("POST")
	v1.HandleFunc("/chat", s.handleChat).Methods("POST")
	v1.HandleFunc("/classes", s.handleClasses).Methods("GET")
	v1.HandleFunc("/conversations", s.handleListConversations).Methods("GET")
	v1.HandleFunc("/conversations/{id}", s.handleForgetConversation).Methods("DELETE")
	v1.HandleFunc("/stats", s.handleStats).Methods("GET")
	v1.HandleFunc("/audit", s.handleAudit).Methods("GET")
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Engine returns the engine currently serving requests
func (s *Server) Engine() *privacy.Engine {
	return s.engine.Load()
}

// Reload rebuilds the masking engine from new privacy settings and swaps it
// in. Requests already running finish on the old engine.
func (s *Server) Reload(cfg config.PrivacyConfig) error {
	engine, err := privacy.New(cfg, s.logger.WithComponent("privacy"))
	if err != nil {
		return fmt.Errorf("failed to rebuild masking engine: %w", err)
	}
	s.engine.Store(engine)

	s.logger.Info("Masking engine reloaded",
		zap.Bool("enabled", cfg.Enabled),
		zap.Strings("classes", engine.ClassNames()))

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeSystemStatus,
		Timestamp: time.Now(),
		Data:      s.systemStatus("reloaded"),
	})
	return nil
}

// Start starts the HTTP server and the background workers
func (s *Server) Start() error {
	s.logger.Info("Starting masking API server",
		zap.Int("port", s.config.Server.Port),
		zap.Strings("classes", s.Engine().ClassNames()),
		zap.Bool("generation", s.generator != nil),
	)

	if s.wsHub != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.hubCancel = cancel
		go s.wsHub.Run(ctx)
	}
	s.sessions.Start(time.Minute)
	if s.limiter != nil {
		s.limiter.StartCleanup(10 * time.Minute)
	}

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping masking API server")

	err := s.server.Shutdown(ctx)
	if s.hubCancel != nil {
		s.hubCancel()
	}
	s.sessions.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return err
}

func (s *Server) systemStatus(status string) websocket.SystemStatusEvent {
	connected := 0
	if s.wsHub != nil {
		connected = int(s.wsHub.GetStats().ActiveConnections)
	}
	return websocket.SystemStatusEvent{
		Status:           status,
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		TotalRequests:    s.requests.Load(),
		TotalMasked:      s.masked.Load(),
		ActiveClasses:    s.Engine().ClassNames(),
		ConnectedClients: connected,
		Conversations:    s.sessions.Len(),
	}
}
