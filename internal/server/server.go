// Package server is the HTTP surface of the query service: health,
// ad-hoc queries, prometheus metrics, and static files.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/denwal/poolgate/internal/logger"
	"github.com/denwal/poolgate/internal/metrics"
)

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string

	// StaticDir is served at the root when it exists. Empty disables
	// static serving.
	StaticDir string
}

// Server wraps the configured http.Server.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// New assembles the router and returns a ready-to-start Server.
// gatherer may be nil, in which case /metrics serves the default
// prometheus registry.
func New(cfg Config, reporter HealthChecker, executor QueryExecutor, log *logger.Logger, m *metrics.Collector, gatherer prometheus.Gatherer) *Server {
	slog := log.Component("server")

	h := &handlers{reporter: reporter, executor: executor, log: slog}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(slog, m))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/query", h.query)
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
		} else {
			slog.WarnWith("static directory not found, static serving disabled", map[string]interface{}{
				"dir": cfg.StaticDir,
			})
		}
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: r,
			// The write timeout must outlive the query deadline or slow
			// queries get their responses cut off mid-body.
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: slog,
	}
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP until Shutdown. A bind or serve failure is
// returned; a clean shutdown is not an error.
func (s *Server) Start() error {
	s.log.InfoWith("http server listening", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight
// requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
