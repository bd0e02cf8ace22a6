package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/denwal/poolgate/internal/logger"
	"github.com/denwal/poolgate/internal/metrics"
)

// requestLogger logs one line per request and feeds the HTTP metrics.
// The metrics path label uses the chi route pattern, not the raw URL,
// to keep label cardinality bounded.
func requestLogger(log *logger.Logger, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				took := time.Since(start)

				pattern := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if p := rctx.RoutePattern(); p != "" {
						pattern = p
					}
				}
				if m != nil {
					m.HTTPRequest(r.Method, pattern, ww.Status(), took)
				}

				log.With().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("took", took).
					Str("request_id", middleware.GetReqID(r.Context())).
					Logger().
					Info("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
