// Package server exposes the dashboard: a static page plus JSON endpoints
// over the store's aggregate reads.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/runnerr0/metmac/internal/log"
	"github.com/runnerr0/metmac/internal/metrics"
	"github.com/runnerr0/metmac/internal/storage"
)

//go:embed static/index.html
var dashboardHTML []byte

const shutdownTimeout = 5 * time.Second

// Reader is the read side of a store.
type Reader interface {
	GetStats(ctx context.Context) (*storage.DashboardStats, error)
	GetKeyboardStats(ctx context.Context) ([]storage.KeyCount, error)
	GetEvents(ctx context.Context) ([]storage.Event, error)
}

// Server serves the dashboard API.
type Server struct {
	reader  Reader
	version string
	mux     *http.ServeMux
	handler http.Handler
	logger  zerolog.Logger
}

// New creates a Server reading from reader.
func New(reader Reader, version string) *Server {
	s := &Server{
		reader:  reader,
		version: version,
		mux:     http.NewServeMux(),
		logger:  log.WithComponent("server"),
	}

	s.mux.Handle("GET /{$}", s.instrument("/", s.dashboardHandler))
	s.mux.Handle("GET /api/stats", s.instrument("/api/stats", s.statsHandler))
	s.mux.Handle("GET /api/keyboard-stats", s.instrument("/api/keyboard-stats", s.keyboardStatsHandler))
	s.mux.Handle("GET /api/events", s.instrument("/api/events", s.eventsHandler))
	s.mux.Handle("GET /health", s.instrument("/health", s.healthHandler))
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.handler = otelhttp.NewHandler(s.mux, "dashboard")

	return s
}

// Handler returns the traced HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("dashboard listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("dashboard stopped")
	return nil
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(dashboardHTML)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.GetStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) keyboardStatsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reader.GetKeyboardStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// eventsHandler returns every stored event, or the most recent ?limit=N.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	events, err := s.reader.GetEvents(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(path string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, path)
		metrics.APIRequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", path).
			Int("status", rec.status).
			Dur("took", timer.Duration()).
			Msg("request")
	})
}
