package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/convoy/internal/dispatch"
)

// Server represents the webhook HTTP server.
type Server struct {
	config    Config
	submitter Submitter
	logger    *slog.Logger
	server    *http.Server

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig
}

// New creates a new webhook server instance.
func New(config Config, submitter Submitter, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		submitter: submitter,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}

	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if signature == "" {
		s.logger.Warn("webhook signature missing",
			"path", r.URL.Path,
			"header", endpoint.SignatureHeader,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := verifyHMACSignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed",
			"path", r.URL.Path,
			"error", err,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var overlay Overlay
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &overlay); err != nil {
			s.respondError(w, http.StatusBadRequest, "body must be a JSON object")
			return
		}
	}
	def := overlay.Apply(endpoint.Task)
	if def.Metadata == nil {
		def.Metadata = make(map[string]string, 1)
	}
	def.Metadata["submitted_by"] = "webhook:" + r.URL.Path

	taskID, err := s.submitter.SubmitTask(def)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrInvalidTask) {
			status = http.StatusBadRequest
		}
		s.logger.Error("failed to submit webhook task",
			"path", r.URL.Path,
			"pool_id", def.Pool,
			"error", err,
		)
		s.respondError(w, status, "failed to submit task")
		return
	}

	s.logger.Info("webhook task submitted",
		"path", r.URL.Path,
		"pool_id", def.Pool,
		"task_id", taskID,
	)
	s.respondJSON(w, http.StatusAccepted, TriggerResponse{TaskID: taskID})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
