// Package httpsrv exposes the query engine over HTTP: the chat and
// deep-analysis endpoints, an SSE progress stream, health probes, cache
// administration, and Prometheus metrics.
package httpsrv

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/cache"
	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/resilience"
	"github.com/nuri428/ontology-chat/internal/router"
	"github.com/nuri428/ontology-chat/internal/telemetry"
)

// Deps wires the server to the engine.
type Deps struct {
	Router   *router.Router
	Cache    *cache.MultiLevel
	Breakers *resilience.Registry
	Metrics  *telemetry.Metrics
}

// Server serves the engine API.
type Server struct {
	mux    *mux.Router
	server *http.Server
	deps   Deps
	cfg    config.ServerConfig
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		mux:  mux.NewRouter(),
		deps: deps,
		cfg:  cfg,
	}
	s.routes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.mux,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout stays off: SSE streams and comprehensive analyses
		// outlive any sane fixed value; per-request deadlines come from
		// the router's depth timeouts.
		IdleTimeout: cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.mux.Use(s.requestID)
	s.mux.Use(s.logRequests)

	api := s.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/chat/stream", s.handleChatStream).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/deep-analysis", s.handleDeepAnalysis).Methods(http.MethodPost)

	s.mux.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	s.mux.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)

	admin := s.mux.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	admin.HandleFunc("/cache/flush", s.handleCacheFlush).Methods(http.MethodPost)

	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "unknown endpoint")
	})
}

// Handler exposes the routed handler, used by tests and the app wiring.
func (s *Server) Handler() http.Handler { return s.mux }

// Start blocks serving until shutdown or listener failure.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKeyRequestID struct{}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID{}).(string); ok {
		return id
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE works through the logging
// middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
