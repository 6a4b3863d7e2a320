// Package plugin binds application domains to alert engines and dispatches
// data packets to them.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/origami/internal/alerting"
	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/metrics"
	"github.com/good-yellow-bee/origami/internal/models"
)

// Engine evaluates packets of one domain. Evaluate must not panic on payload
// shape, must not read the wall clock and must be free of side effects.
type Engine interface {
	Evaluate(packet models.DataPacket) []models.AlertDraft
	Severities() []models.Severity
	DataTypes() []string
}

// DomainStats is the alert fold for one domain.
type DomainStats struct {
	DomainID         string                  `json:"domain_id"`
	Packets          int64                   `json:"packets"`
	TotalAlerts      int                     `json:"total_alerts"`
	AlertsBySeverity map[models.Severity]int `json:"alerts_by_severity"`
	AlertsByCategory map[string]int          `json:"alerts_by_category"`
}

type entry struct {
	domain  models.Domain
	engine  Engine
	packets atomic.Int64

	mu      sync.Mutex
	history []models.Alert
}

// Registry maps domain ids to engines. Registration takes the write lock;
// dispatch and stats share the read lock.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*entry

	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
	historyLimit int
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used to stamp alerts.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator sets the alert id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithHistoryLimit bounds retained alerts per domain. Zero keeps everything.
func WithHistoryLimit(n int) Option {
	return func(r *Registry) { r.historyLimit = n }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		domains: make(map[string]*entry),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	return r
}

// Register binds a domain to an engine. Empty domain data types or
// severities are filled from the engine.
func (r *Registry) Register(domain models.Domain, engine Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.domains[domain.ID]; exists && domain.ID != "" {
		return &DuplicateDomainError{DomainID: domain.ID}
	}

	registered, err := validatePlugin(domain, engine)
	if err != nil {
		return err
	}

	r.domains[registered.ID] = &entry{domain: registered, engine: engine}
	metrics.DomainsRegistered.Set(float64(len(r.domains)))
	r.logger.Info("domain registered",
		"domain_id", registered.ID,
		"data_types", registered.DataTypes,
	)
	return nil
}

// validatePlugin checks the engine describes the capability set the domain
// needs and returns the domain as it will be stored.
func validatePlugin(domain models.Domain, engine Engine) (d models.Domain, err error) {
	invalid := func(reason string, args ...any) error {
		return &InvalidPluginError{DomainID: domain.ID, Reason: fmt.Sprintf(reason, args...)}
	}

	if domain.ID == "" {
		return d, invalid("domain id is required")
	}
	if engine == nil {
		return d, invalid("engine is nil")
	}

	defer func() {
		if p := recover(); p != nil {
			err = invalid("engine description panicked: %v", p)
		}
	}()

	engineTypes := engine.DataTypes()
	engineSev := engine.Severities()
	if len(engineTypes) == 0 {
		return d, invalid("engine declares no data types")
	}
	if len(engineSev) == 0 {
		return d, invalid("engine declares no severities")
	}
	for _, s := range engineSev {
		if !s.Valid() {
			return d, invalid("engine declares unknown severity %q", s)
		}
	}

	d = domain.Clone()
	if d.Name == "" {
		d.Name = d.ID
	}
	if len(d.DataTypes) == 0 {
		d.DataTypes = append([]string(nil), engineTypes...)
	}
	if len(d.Severities) == 0 {
		d.Severities = append([]models.Severity(nil), engineSev...)
	}

	described := models.Domain{DataTypes: engineTypes, Severities: engineSev}
	for _, t := range d.DataTypes {
		if !described.SupportsDataType(t) {
			return models.Domain{}, invalid("engine does not handle data type %q", t)
		}
	}
	for _, s := range d.Severities {
		if !described.DeclaresSeverity(s) {
			return models.Domain{}, invalid("engine does not emit severity %q", s)
		}
	}
	return d, nil
}

// Unregister removes a domain and its history.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.domains[id]; !ok {
		return false
	}
	delete(r.domains, id)
	metrics.DomainsRegistered.Set(float64(len(r.domains)))
	r.logger.Info("domain unregistered", "domain_id", id)
	return true
}

// Dispatch evaluates a packet with its domain's engine and returns the
// stamped alerts in emission order.
func (r *Registry) Dispatch(ctx context.Context, packet models.DataPacket) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.domains[packet.DomainID]
	if !ok {
		metrics.DispatchErrors.WithLabelValues("unknown_domain").Inc()
		return nil, &UnknownDomainError{DomainID: packet.DomainID}
	}
	if !e.domain.SupportsDataType(packet.DataType) {
		metrics.DispatchErrors.WithLabelValues("unsupported_data_type").Inc()
		return nil, &UnsupportedDataTypeError{DomainID: packet.DomainID, DataType: packet.DataType}
	}

	e.packets.Add(1)
	metrics.PacketsDispatched.WithLabelValues(packet.DomainID, packet.DataType).Inc()

	drafts := r.evaluate(e, packet)
	alerts := make([]models.Alert, 0, len(drafts))
	for _, d := range drafts {
		d = r.normalize(e.domain, packet, d)
		alerts = append(alerts, models.NewAlert(r.newID(), e.domain.ID, packet.ID, d, r.now()))
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})

	if len(alerts) > 0 {
		e.mu.Lock()
		e.history = append(e.history, alerts...)
		if r.historyLimit > 0 && len(e.history) > r.historyLimit {
			e.history = append([]models.Alert(nil), e.history[len(e.history)-r.historyLimit:]...)
		}
		e.mu.Unlock()
	}
	for _, a := range alerts {
		metrics.AlertsGenerated.WithLabelValues(a.DomainID, string(a.Severity)).Inc()
	}
	return alerts, nil
}

// evaluate runs the engine, turning a panic into a malformed input draft.
func (r *Registry) evaluate(e *entry, packet models.DataPacket) (drafts []models.AlertDraft) {
	defer func() {
		if p := recover(); p != nil {
			metrics.EnginePanics.WithLabelValues(e.domain.ID).Inc()
			r.logger.Error("alert engine panicked",
				"domain_id", e.domain.ID,
				"packet_id", packet.ID,
				"panic", fmt.Sprint(p),
			)
			drafts = []models.AlertDraft{alerting.Malformed(packet, fmt.Sprintf("engine failure: %v", p))}
		}
	}()
	return e.engine.Evaluate(packet)
}

func (r *Registry) normalize(domain models.Domain, packet models.DataPacket, d models.AlertDraft) models.AlertDraft {
	if !d.Severity.Valid() {
		r.logger.Warn("alert severity outside scale, using INFO",
			"domain_id", domain.ID,
			"category", d.Category,
			"severity", string(d.Severity),
		)
		d.Severity = models.SeverityInfo
	} else if !domain.DeclaresSeverity(d.Severity) {
		r.logger.Debug("alert severity not declared by domain",
			"domain_id", domain.ID,
			"severity", string(d.Severity),
		)
	}
	if d.SubjectID == "" {
		d.SubjectID = packet.SourceID
	}
	if d.Category == "" {
		d.Category = "UNCATEGORIZED"
	}
	return d
}

// Domain returns a registered domain.
func (r *Registry) Domain(id string) (models.Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.domains[id]
	if !ok {
		return models.Domain{}, false
	}
	return e.domain.Clone(), true
}

// Domains returns all registered domains sorted by id.
func (r *Registry) Domains() []models.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Domain, 0, len(r.domains))
	for _, e := range r.domains {
		out = append(out, e.domain.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns a copy of the retained alerts of a domain.
func (r *Registry) History(domainID string) []models.Alert {
	r.mu.RLock()
	e, ok := r.domains[domainID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Alert(nil), e.history...)
}

// Alerts returns the retained alerts of every domain ordered by creation time.
func (r *Registry) Alerts() []models.Alert {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.domains))
	for _, e := range r.domains {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []models.Alert
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.history...)
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Restore replaces the history of a registered domain, for example with
// alerts reloaded from storage.
func (r *Registry) Restore(domainID string, alerts []models.Alert) error {
	r.mu.RLock()
	e, ok := r.domains[domainID]
	r.mu.RUnlock()
	if !ok {
		return &UnknownDomainError{DomainID: domainID}
	}
	for _, a := range alerts {
		if a.DomainID != domainID {
			return fmt.Errorf("alert %s belongs to domain %q, not %q", a.ID, a.DomainID, domainID)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append([]models.Alert(nil), alerts...)
	return nil
}

// AggregateStats folds retained history into per-domain counts.
func (r *Registry) AggregateStats() map[string]DomainStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]DomainStats, len(r.domains))
	for id, e := range r.domains {
		st := DomainStats{
			DomainID:         id,
			Packets:          e.packets.Load(),
			AlertsBySeverity: make(map[models.Severity]int, len(models.Severities)),
			AlertsByCategory: make(map[string]int),
		}
		for _, s := range models.Severities {
			st.AlertsBySeverity[s] = 0
		}

		e.mu.Lock()
		for _, a := range e.history {
			st.TotalAlerts++
			st.AlertsBySeverity[a.Severity]++
			st.AlertsByCategory[a.Category]++
		}
		e.mu.Unlock()

		out[id] = st
	}
	return out
}

// Reset drops every registered domain and its history.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.domains = make(map[string]*entry)
	metrics.DomainsRegistered.Set(0)
}
