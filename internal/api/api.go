// Package api provides the read-only HTTP reporting API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/good-yellow-bee/origami/internal/api/alerts"
	"github.com/good-yellow-bee/origami/internal/api/domains"
	"github.com/good-yellow-bee/origami/internal/api/health"
	"github.com/good-yellow-bee/origami/internal/api/middleware"
	"github.com/good-yellow-bee/origami/internal/logging"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address        string        `yaml:"address"`
	RateLimitPerIP int           `yaml:"rate_limit_per_ip"` // requests per minute, 0 disables
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ExposeMetrics mounts /metrics on the API router as well.
	ExposeMetrics bool `yaml:"expose_metrics"`
	Verbose       bool `yaml:"verbose"`
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RateLimitPerIP < 0 {
		return fmt.Errorf("api rate_limit_per_ip must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("api request_timeout must not be negative")
	}
	return nil
}

// Backend is what the API reports on: the plugin registry and the router.
type Backend interface {
	domains.Registry
	alerts.AlertSource
	alerts.ChainSource
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	backend       Backend
	logger        *slog.Logger
	limiter       *middleware.RateLimiter
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, backend Backend, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:        cfg,
		backend:       backend,
		logger:        logging.OrDiscard(logger),
		healthHandler: health.NewHandler(),
	}
	if cfg.RateLimitPerIP > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitPerIP)
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP API listening", "addr", s.config.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		if s.limiter != nil {
			s.limiter.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a readiness checker.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthHandler.RegisterChecker(c)
}
