package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/good-yellow-bee/origami/internal/logging"
)

// Server serves Prometheus metrics on a dedicated port.
type Server struct {
	server *http.Server
	addr   string
	logger *slog.Logger
}

// NewServer creates a new metrics server.
func NewServer(addr string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Origami Metrics</h1><p><a href="/metrics">Metrics</a></p></body></html>`))
	})

	return &Server{
		addr:   addr,
		logger: logging.OrDiscard(logger),
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the metrics server. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("metrics server listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.addr
}
