// Package api exposes a Dispatcher over HTTP: pool and task endpoints, an
// SSE notification stream, Prometheus metrics and a typed client.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/mattjoyce/convoy/internal/auth"
	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
	"github.com/mattjoyce/convoy/internal/state"
)

// Dispatcher is the subset of *dispatch.Dispatcher the API serves.
type Dispatcher interface {
	Now() float64
	RegisterPool(cfg pool.Config) error
	SubmitTask(def queue.Definition) (string, error)
	CancelTask(id, reason string) bool
	GetTask(id string) (queue.Task, bool)
	GetPendingTasks(poolID string) []queue.Task
	GetActiveTasks(poolID string) []queue.Task
	GetWorker(id string) (pool.Worker, bool)
	GetWorkers(poolID string) []pool.Worker
	HasPool(poolID string) bool
	Pools() []dispatch.PoolSummary
}

// TaskLog serves GET /log.
type TaskLog interface {
	Recent(ctx context.Context, pool string, limit int) ([]state.LogEntry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// SubmitRate limits POST /tasks across all clients, per second. Zero
	// disables the limit.
	SubmitRate  float64
	SubmitBurst int
}

// Option customizes a Server.
type Option func(*Server)

// WithTaskLog enables GET /log.
func WithTaskLog(l TaskLog) Option {
	return func(s *Server) { s.taskLog = l }
}

// WithMetrics serves h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher Dispatcher
	events     *events.Hub
	taskLog    TaskLog
	metrics    http.Handler
	limiter    *rate.Limiter
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance
func New(config Config, d Dispatcher, hub *events.Hub, logger *slog.Logger, opts ...Option) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	s := &Server{
		config:     config,
		dispatcher: d,
		events:     hub,
		logger:     logger.With("component", "api"),
		startedAt:  time.Now(),
	}
	if config.SubmitRate > 0 {
		burst := config.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.SubmitRate), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}

	if s.config.APIKey == "" && len(s.config.Tokens) == 0 {
		s.logger.Warn("API auth disabled: no api_key or tokens configured", "listen", s.config.Listen)
	}
	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// route is one protected endpoint. The same table drives the router and
// the OpenAPI document.
type route struct {
	method  string
	pattern string
	scopes  []string
	summary string
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{http.MethodGet, "/pools", []string{auth.ScopePoolsRO}, "List pools", s.handleListPools},
		{http.MethodPost, "/pools", []string{auth.ScopePoolsRW}, "Register a pool", s.handleRegisterPool},
		{http.MethodGet, "/pools/{pool}/workers", []string{auth.ScopePoolsRO}, "List a pool's workers", s.handlePoolWorkers},
		{http.MethodGet, "/pools/{pool}/tasks", []string{auth.ScopeTasksRO}, "List a pool's pending or active tasks", s.handlePoolTasks},
		{http.MethodPost, "/tasks", []string{auth.ScopeTasksRW}, "Submit a task", s.handleSubmitTask},
		{http.MethodGet, "/tasks/{taskID}", []string{auth.ScopeTasksRO}, "Get a task", s.handleGetTask},
		{http.MethodDelete, "/tasks/{taskID}", []string{auth.ScopeTasksRW}, "Cancel a task", s.handleCancelTask},
		{http.MethodGet, "/workers/{workerID}", []string{auth.ScopePoolsRO}, "Get a worker", s.handleGetWorker},
		{http.MethodGet, "/events", []string{auth.ScopeEventsRO}, "Stream notifications (SSE)", s.handleEvents},
		{http.MethodGet, "/log", []string{auth.ScopeTasksRO}, "Recently finished tasks", s.handleTaskLog},
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		for _, rt := range s.routes() {
			r.With(s.requireScopes(rt.scopes...)).Method(rt.method, rt.pattern, rt.handler)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
