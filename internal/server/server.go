// Package server provides the HTTP API for abio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/abio/internal/config"
	"github.com/hyperjump/abio/internal/recall"
	"github.com/hyperjump/abio/internal/storage"
)

const requestTimeout = 60 * time.Second

// Server is the HTTP server for the abio API.
type Server struct {
	engine   *recall.Engine
	storage  storage.Storage
	config   atomic.Pointer[config.Config]
	registry *prometheus.Registry
	logger   *zap.Logger
	router   chi.Router
	server   *http.Server
	// indexMu serializes index changes with the save that follows them.
	indexMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry exposes the registry's metrics on GET /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// NewServer creates a server with the given dependencies.
func NewServer(engine *recall.Engine, store storage.Storage, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		storage: store,
		logger:  logger,
	}
	s.config.Store(cfg)
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/recall", s.handleRecall)
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Post("/sessions/{id}/turns", s.handleAppendTurns)
		r.Get("/sessions/{id}/history", s.handleHistory)
	})
	return r
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Config returns the configuration currently in effect.
func (s *Server) Config() *config.Config {
	return s.config.Load()
}

// UpdateConfig applies a reloaded configuration. The context and recall
// sections take effect immediately; server, storage and embedding changes
// need a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	old := s.config.Load()
	if old.Storage != cfg.Storage || old.Embedding != cfg.Embedding {
		s.logger.Warn("storage and embedding changes apply after restart")
	}
	next := *cfg
	next.Server = old.Server
	next.Storage = old.Storage
	next.Embedding = old.Embedding
	s.config.Store(&next)
	s.engine.UpdateConfig(next.Recall)
	s.logger.Info("config reloaded",
		zap.Int("message_limit", cfg.Context.MessageLimit),
		zap.Int("context_messages", len(cfg.Context.ContextMessages)))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	cfg := s.config.Load()
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
