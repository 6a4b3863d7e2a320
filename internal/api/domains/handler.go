// Package domains serves the registered domains and their alert statistics.
package domains

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/models"
	"github.com/good-yellow-bee/origami/internal/plugin"
)

// Registry is the read side of the plugin registry.
type Registry interface {
	Domains() []models.Domain
	Domain(id string) (models.Domain, bool)
	AggregateStats() map[string]plugin.DomainStats
}

// Handler handles domain endpoints.
type Handler struct {
	registry Registry
	logger   *slog.Logger
}

func NewHandler(registry Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logging.OrDiscard(logger)}
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("json encode error", "err", err)
	}
}

// DomainResponse is a domain with its current counters.
type DomainResponse struct {
	models.Domain
	Stats plugin.DomainStats `json:"stats"`
}

// List returns every registered domain ordered by id.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.AggregateStats()
	out := make([]DomainResponse, 0, len(stats))
	for _, d := range h.registry.Domains() {
		out = append(out, DomainResponse{Domain: d, Stats: stats[d.ID]})
	}
	h.write(w, http.StatusOK, map[string]any{"data": out})
}

// Get returns one domain.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := h.registry.Domain(id)
	if !ok {
		h.write(w, http.StatusNotFound, map[string]any{
			"error": map[string]string{"code": "NOT_FOUND", "message": "domain not found: " + id},
		})
		return
	}
	h.write(w, http.StatusOK, map[string]any{"data": DomainResponse{Domain: d, Stats: h.registry.AggregateStats()[id]}})
}

// StatsResponse totals alerts across domains.
type StatsResponse struct {
	Domains          []plugin.DomainStats    `json:"domains"`
	TotalPackets     int64                   `json:"total_packets"`
	TotalAlerts      int                     `json:"total_alerts"`
	AlertsBySeverity map[models.Severity]int `json:"alerts_by_severity"`
}

// Stats returns per-domain and overall alert counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.AggregateStats()
	resp := StatsResponse{
		Domains:          make([]plugin.DomainStats, 0, len(stats)),
		AlertsBySeverity: make(map[models.Severity]int, len(models.Severities)),
	}
	for _, s := range models.Severities {
		resp.AlertsBySeverity[s] = 0
	}
	for _, st := range stats {
		resp.Domains = append(resp.Domains, st)
		resp.TotalPackets += st.Packets
		resp.TotalAlerts += st.TotalAlerts
		for sev, n := range st.AlertsBySeverity {
			resp.AlertsBySeverity[sev] += n
		}
	}
	sort.Slice(resp.Domains, func(i, j int) bool { return resp.Domains[i].DomainID < resp.Domains[j].DomainID })
	h.write(w, http.StatusOK, map[string]any{"data": resp})
}
