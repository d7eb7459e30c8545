// Package httpapi exposes the assistant over HTTP: the OpenAI-shaped
// chat endpoint plus metrics and health. The handlers stay thin; all
// orchestration lives behind the planner.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bindevz/tilsoftai/internal/auth"
	"github.com/bindevz/tilsoftai/internal/config"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/planner"
)

// TurnRunner drives one chat turn. *planner.Planner is the production
// implementation.
type TurnRunner interface {
	RunTurn(ctx context.Context, req planner.TurnRequest) (*planner.TurnResult, error)
}

// Server is the HTTP front of the assistant.
type Server struct {
	runner  TurnRunner
	roles   *auth.RoleResolver
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	model string
	cfg   config.ServerConfig

	httpServer *http.Server
}

// New assembles the server. roles must not be nil; metrics and tracer
// may be.
func New(runner TurnRunner, roles *auth.RoleResolver, logger *observability.Logger,
	metrics *observability.Metrics, tracer *observability.Tracer,
	cfg config.ServerConfig, model string) *Server {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Server{
		runner:  runner,
		roles:   roles,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		model:   model,
		cfg:     cfg,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/chat/completions", s.instrument("/v1/chat/completions", s.handleChat))
	return mux
}

// Start serves until the context is cancelled, then shuts down within
// the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// instrument wraps a handler with duration metrics and access logging.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, path, fmt.Sprint(rec.status), elapsed.Seconds())
		}
		s.logger.Info(r.Context(), "http request",
			"method", r.Method, "path", path,
			"status", rec.status, "duration_ms", elapsed.Milliseconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
