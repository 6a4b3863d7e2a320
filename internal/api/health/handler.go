// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Checker defines the interface for health checkers.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewHandler creates a new health handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterChecker adds a dependency checker.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health returns basic health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Live returns 200 while the process is running.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "live"})
}

// Ready runs every registered checker concurrently and returns 503 if any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	errs := make([]error, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]string, len(checkers))
	status, code := "ready", http.StatusOK
	for i, c := range checkers {
		if errs[i] != nil {
			results[c.Name()] = errs[i].Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		results[c.Name()] = "ok"
	}
	writeJSON(w, code, HealthResponse{Status: status, Checks: results})
}

func writeJSON(w http.ResponseWriter, status int, body HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
