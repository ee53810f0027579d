// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/garyzero/gary-zero/internal/monitor"
	"github.com/garyzero/gary-zero/pkg/logger"
)

// RequestLogger returns a middleware that logs HTTP requests and feeds
// the metrics collector. The collector is optional. The request ID is
// carried on the request context so downstream loggers pick it up.
func RequestLogger(base *slog.Logger, collector *monitor.Collector) func(http.Handler) http.Handler {
	log := &logger.Logger{Logger: base}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx := logger.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
			r = r.WithContext(ctx)

			defer func() {
				duration := time.Since(start)
				if collector != nil {
					collector.RecordRequest(ww.Status(), duration)
				}
				log.WithContext(ctx).Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", duration.String(),
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
