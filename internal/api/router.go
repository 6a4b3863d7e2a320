package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/good-yellow-bee/origami/internal/api/alerts"
	"github.com/good-yellow-bee/origami/internal/api/domains"
	"github.com/good-yellow-bee/origami/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrMethodNotAllowed)
	})

	domainHandler := domains.NewHandler(s.backend, s.logger)
	alertHandler := alerts.NewHandler(s.backend, s.backend, s.logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(s.limiter))
		r.Use(func(next http.Handler) http.Handler {
			return http.TimeoutHandler(next, s.config.RequestTimeout, `{"error":{"code":"TIMEOUT","message":"request timed out"}}`)
		})

		r.Get("/domains", domainHandler.List)
		r.Get("/domains/{id}", domainHandler.Get)
		r.Get("/stats", domainHandler.Stats)

		r.Get("/alerts", alertHandler.List)
		r.Get("/alerts/{id}", alertHandler.Get)
		r.Get("/alerts/{id}/chain", alertHandler.Chain)
		r.Get("/chains", alertHandler.Chains)
		r.Get("/summary", alertHandler.Summary)
	})

	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	if s.config.ExposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}
