// Package middleware provides HTTP middleware for the reporting API.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/origami/internal/logging"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// RequestLogger returns a middleware that logs HTTP requests. Successful
// requests are logged only when verbose is set.
func RequestLogger(logger *slog.Logger, verbose bool) func(http.Handler) http.Handler {
	logger = logging.OrDiscard(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.New().String()[:8]
			w.Header().Set("X-Request-ID", requestID)

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if verbose || wrapped.status >= 400 {
				logger.Info("http request",
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"status", wrapped.status,
					"bytes", wrapped.size,
					"duration", time.Since(start))
			}
		})
	}
}
