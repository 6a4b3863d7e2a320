// Package alerts serves alert history, escalation chains and summaries.
package alerts

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/models"
	"github.com/good-yellow-bee/origami/internal/summary"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest = "BAD_REQUEST"
	errCodeNotFound   = "NOT_FOUND"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// AlertSource lists retained alerts ordered by creation time.
type AlertSource interface {
	Alerts() []models.Alert
}

// ChainSource looks up escalation chains.
type ChainSource interface {
	Chain(alertID string) (models.Chain, bool)
	Chains() []models.Chain
}

// Handler handles alert endpoints.
type Handler struct {
	alerts AlertSource
	chains ChainSource
	logger *slog.Logger
}

func NewHandler(alerts AlertSource, chains ChainSource, logger *slog.Logger) *Handler {
	return &Handler{alerts: alerts, chains: chains, logger: logging.OrDiscard(logger)}
}

func (h *Handler) jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		h.logger.Warn("json encode error", "err", err)
	}
}

func (h *Handler) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		h.logger.Warn("json encode error", "err", err)
	}
}

// ListResponse is a page of alerts, newest first.
type ListResponse struct {
	Items []models.Alert `json:"items"`
	Total int            `json:"total"`
	Limit int            `json:"limit"`
}

// DetailResponse is an alert with its escalation chain, if one exists.
type DetailResponse struct {
	Alert models.Alert  `json:"alert"`
	Chain *models.Chain `json:"chain,omitempty"`
}

type listFilter struct {
	domain, subject, category string
	severity                  models.Severity
	since, until              time.Time
	limit                     int
}

func (f listFilter) matches(a models.Alert) bool {
	switch {
	case f.domain != "" && a.DomainID != f.domain:
		return false
	case f.subject != "" && a.SubjectID != f.subject:
		return false
	case f.category != "" && a.Category != f.category:
		return false
	case f.severity != "" && a.Severity != f.severity:
		return false
	case !f.since.IsZero() && a.CreatedAt.Before(f.since):
		return false
	case !f.until.IsZero() && !a.CreatedAt.Before(f.until):
		return false
	}
	return true
}

// parseTime accepts RFC 3339 timestamps and bare dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseWindow(r *http.Request, fromKey, toKey string) (from, to time.Time, msg string) {
	var err error
	if v := r.URL.Query().Get(fromKey); v != "" {
		if from, err = parseTime(v); err != nil {
			return from, to, "invalid " + fromKey + ": use RFC 3339 or YYYY-MM-DD"
		}
	}
	if v := r.URL.Query().Get(toKey); v != "" {
		if to, err = parseTime(v); err != nil {
			return from, to, "invalid " + toKey + ": use RFC 3339 or YYYY-MM-DD"
		}
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, fromKey + " must be before " + toKey
	}
	return from, to, ""
}

// List returns retained alerts matching the query filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := listFilter{
		domain:   q.Get("domain"),
		subject:  q.Get("subject"),
		category: q.Get("category"),
		limit:    defaultLimit,
	}
	if v := q.Get("severity"); v != "" {
		sev, ok := models.ParseSeverity(v)
		if !ok {
			h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid severity: "+v)
			return
		}
		f.severity = sev
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "limit must be a positive integer")
			return
		}
		f.limit = min(n, maxLimit)
	}
	var msg string
	if f.since, f.until, msg = parseWindow(r, "since", "until"); msg != "" {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, msg)
		return
	}

	all := h.alerts.Alerts()
	items := make([]models.Alert, 0, f.limit)
	total := 0
	for i := len(all) - 1; i >= 0; i-- {
		if !f.matches(all[i]) {
			continue
		}
		total++
		if len(items) < f.limit {
			items = append(items, all[i])
		}
	}
	h.jsonOK(w, ListResponse{Items: items, Total: total, Limit: f.limit})
}

func (h *Handler) find(id string) (models.Alert, bool) {
	for _, a := range h.alerts.Alerts() {
		if a.ID == id {
			return a, true
		}
	}
	return models.Alert{}, false
}

// Get returns one alert and its chain.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alert, ok := h.find(id)
	if !ok {
		h.jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		return
	}
	resp := DetailResponse{Alert: alert}
	if chain, ok := h.chains.Chain(id); ok {
		resp.Chain = &chain
	}
	h.jsonOK(w, resp)
}

// Chain returns the escalation chain of an alert.
func (h *Handler) Chain(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.chains.Chain(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, http.StatusNotFound, errCodeNotFound, "no escalation chain for alert")
		return
	}
	h.jsonOK(w, chain)
}

// Chains lists escalation chains, optionally filtered by state.
func (h *Handler) Chains(w http.ResponseWriter, r *http.Request) {
	state := models.ChainState(strings.ToUpper(r.URL.Query().Get("state")))
	chains := h.chains.Chains()
	if state == "" {
		h.jsonOK(w, chains)
		return
	}
	out := make([]models.Chain, 0, len(chains))
	for _, c := range chains {
		if c.State == state {
			out = append(out, c)
		}
	}
	h.jsonOK(w, out)
}

// Summary folds alerts and chains for a subject and/or domain within an
// optional [from, to) window.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	from, to, msg := parseWindow(r, "from", "to")
	if msg != "" {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, msg)
		return
	}
	q := summary.Query{
		SubjectID: r.URL.Query().Get("subject"),
		DomainID:  r.URL.Query().Get("domain"),
		From:      from,
		To:        to,
	}
	h.jsonOK(w, summary.Build(q, h.alerts.Alerts(), h.chains.Chains()))
}
