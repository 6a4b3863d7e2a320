package domains

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/origami/internal/models"
	"github.com/good-yellow-bee/origami/internal/plugin"
)

type mockRegistry struct {
	domains []models.Domain
	stats   map[string]plugin.DomainStats
}

func (m *mockRegistry) Domains() []models.Domain { return m.domains }

func (m *mockRegistry) Domain(id string) (models.Domain, bool) {
	for _, d := range m.domains {
		if d.ID == id {
			return d, true
		}
	}
	return models.Domain{}, false
}

func (m *mockRegistry) AggregateStats() map[string]plugin.DomainStats { return m.stats }

func TestHandler_Stats(t *testing.T) {
	reg := &mockRegistry{
		domains: []models.Domain{{ID: "agriculture"}, {ID: "security"}},
		stats: map[string]plugin.DomainStats{
			"security": {DomainID: "security", Packets: 10, TotalAlerts: 3,
				AlertsBySeverity: map[models.Severity]int{models.SeverityCritical: 2, models.SeverityWarning: 1}},
			"agriculture": {DomainID: "agriculture", Packets: 4, TotalAlerts: 1,
				AlertsBySeverity: map[models.Severity]int{models.SeverityWarning: 1}},
		},
	}
	r := chi.NewRouter()
	h := NewHandler(reg, nil)
	r.Get("/stats", h.Stats)
	r.Get("/domains/{id}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var resp struct {
		Data StatsResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	got := resp.Data
	if got.TotalPackets != 14 || got.TotalAlerts != 4 {
		t.Errorf("totals = %d packets, %d alerts; want 14, 4", got.TotalPackets, got.TotalAlerts)
	}
	if got.AlertsBySeverity[models.SeverityWarning] != 2 || got.AlertsBySeverity[models.SeverityEmergency] != 0 {
		t.Errorf("AlertsBySeverity = %v", got.AlertsBySeverity)
	}
	if len(got.Domains) != 2 || got.Domains[0].DomainID != "agriculture" {
		t.Errorf("domains not sorted: %+v", got.Domains)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/domains/elderly_care", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown domain status = %d, want 404", rec.Code)
	}
}
