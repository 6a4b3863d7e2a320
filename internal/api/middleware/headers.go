package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/good-yellow-bee/origami/internal/logging"
)

// SecurityHeaders adds security-related HTTP headers to responses. The API
// only serves JSON, so the content policy forbids everything.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// Recoverer recovers from panics, logs them with stack trace, and returns a 500 error.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logging.OrDiscard(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"panic", err,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					if _, writeErr := w.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"Internal server error"}}`)); writeErr != nil {
						logger.Warn("failed to write error response", "err", writeErr)
					}
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
