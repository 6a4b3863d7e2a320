// Package router turns alerts into escalation chains of delivery attempts
// against ranked contacts.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/metrics"
	"github.com/good-yellow-bee/origami/internal/models"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

var (
	// ErrUnknownAlert is returned for alert ids the router has never seen.
	ErrUnknownAlert = errors.New("unknown alert")
	// ErrInvalidAlert is returned for alerts without an id or subject.
	ErrInvalidAlert = errors.New("invalid alert")
)

// ContactSource returns the active contacts of a subject sorted by rank.
type ContactSource interface {
	Ranked(subjectID string) []models.Contact
}

// Deliverer performs single delivery attempts.
type Deliverer interface {
	Has(ch models.Channel) bool
	Attempt(ctx context.Context, contact models.Contact, ch models.Channel, alert models.Alert) (models.Outcome, error)
}

// Recorder receives a snapshot of a chain after every change.
type Recorder interface {
	RecordChain(ctx context.Context, alert models.Alert, chain models.Chain) error
}

// Config tunes the router.
type Config struct {
	// Timeout bounds each delivery attempt. Zero means DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`
	// MaxDepth bounds the number of notifications per chain. Zero means one
	// per ranked contact.
	MaxDepth int `yaml:"max_depth"`
	// SupersedePrevious cancels the in-flight chain of an older alert with
	// the same domain, subject and category.
	SupersedePrevious bool `yaml:"supersede_previous"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("router timeout must not be negative")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("router max depth must not be negative")
	}
	return nil
}

type chainEntry struct {
	// mu serializes every transition of the chain.
	mu    sync.Mutex
	alert models.Alert
	chain models.Chain
	// lastRank is the rank of the latest attempted contact, -1 before the
	// first attempt. Escalation only moves to strictly higher ranks.
	lastRank  int
	cancelled atomic.Bool
	advancing atomic.Bool
}

// Router owns the escalation chains. Chains advance independently; the map
// lock is held only for lookups.
type Router struct {
	contacts ContactSource
	delivery Deliverer
	cfg      Config

	mu         sync.Mutex
	chains     map[string]*chainEntry
	superseded map[string]string // supersede key -> latest alert id

	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Router.
type Option func(*Router)

// WithClock sets the clock used to stamp notifications.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithIDGenerator sets the notification id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Router) { r.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithRecorder sets the write-behind recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// New creates a router.
func New(contacts ContactSource, delivery Deliverer, cfg Config, opts ...Option) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	r := &Router{
		contacts:   contacts,
		delivery:   delivery,
		cfg:        cfg,
		chains:     make(map[string]*chainEntry),
		superseded: make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	return r
}

// ChannelPreference returns the channels to try for a severity, most
// preferred first. Urgent alerts favour synchronous channels.
func ChannelPreference(s models.Severity) []models.Channel {
	if s.Urgent() {
		return []models.Channel{models.ChannelVoice, models.ChannelSMS, models.ChannelPush, models.ChannelEmail, models.ChannelWebhook}
	}
	return []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelPush, models.ChannelWebhook, models.ChannelVoice}
}

// selectChannel picks the channel for one attempt. Urgent alerts follow the
// severity preference. Other alerts follow the contact's own channel order
// among asynchronous channels, then the severity preference.
func (r *Router) selectChannel(contact models.Contact, s models.Severity) (models.Channel, bool) {
	if !s.Urgent() {
		for _, ch := range contact.Channels {
			if ch != models.ChannelVoice && r.delivery.Has(ch) {
				return ch, true
			}
		}
	}
	for _, ch := range ChannelPreference(s) {
		if contact.Supports(ch) && r.delivery.Has(ch) {
			return ch, true
		}
	}
	return "", false
}

// Route runs the escalation chain of an alert until it is resolved,
// exhausted or cancelled, and returns the resulting chain.
//
// Routing an alert id again never re-attempts a contact: a terminal chain is
// returned as is and an interrupted chain continues with the contacts not yet
// attempted. The only error besides an invalid alert is ctx being done, in
// which case the chain is left in progress.
func (r *Router) Route(ctx context.Context, alert models.Alert) (models.Chain, error) {
	if alert.ID == "" || alert.SubjectID == "" {
		return models.Chain{}, fmt.Errorf("%w: id and subject are required", ErrInvalidAlert)
	}

	e, created, previous := r.entryFor(alert)
	if previous != "" {
		if err := r.Cancel(ctx, previous); err != nil && !errors.Is(err, ErrUnknownAlert) {
			r.logger.Warn("cancel superseded chain failed", "alert_id", previous, "err", err)
		} else {
			r.logger.Info("chain superseded", "alert_id", previous, "by", alert.ID)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if created {
		r.record(ctx, e)
	}
	if e.chain.State.Terminal() {
		return e.chain.Clone(), nil
	}
	err := r.advanceLocked(ctx, e)
	return e.chain.Clone(), err
}

// entryFor returns the chain entry of an alert, creating it if needed. When
// supersession is enabled it also returns the id of the alert this one
// replaces.
func (r *Router) entryFor(alert models.Alert) (*chainEntry, bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.chains[alert.ID]; ok {
		return e, false, ""
	}

	e := &chainEntry{
		alert:    alert,
		lastRank: -1,
		chain: models.Chain{
			AlertID:   alert.ID,
			DomainID:  alert.DomainID,
			SubjectID: alert.SubjectID,
			State:     models.StateNew,
			UpdatedAt: r.now(),
		},
	}
	r.chains[alert.ID] = e
	metrics.ChainsActive.Inc()

	var previous string
	if r.cfg.SupersedePrevious {
		key := alert.SupersedeKey()
		if prev, ok := r.superseded[key]; ok && prev != alert.ID {
			previous = prev
		}
		r.superseded[key] = alert.ID
	}
	return e, true, previous
}

// advanceLocked drives the state machine. The caller holds e.mu.
func (r *Router) advanceLocked(ctx context.Context, e *chainEntry) error {
	e.advancing.Store(true)
	defer func() {
		e.advancing.Store(false)
		// A Cancel that saw advancing set relies on this check.
		if e.cancelled.Load() && !e.chain.State.Terminal() {
			r.finishLocked(ctx, e, models.StateCancelled)
		}
	}()
	for {
		if e.cancelled.Load() {
			r.finishLocked(ctx, e, models.StateCancelled)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.cfg.MaxDepth > 0 && len(e.chain.Notifications) >= r.cfg.MaxDepth {
			r.finishLocked(ctx, e, models.StateExhausted)
			return nil
		}

		contact, ch, ok := r.nextContact(e)
		if !ok {
			r.finishLocked(ctx, e, models.StateExhausted)
			return nil
		}

		if len(e.chain.Notifications) > 0 {
			metrics.Escalations.WithLabelValues(e.alert.DomainID).Inc()
			r.logger.Info("escalating",
				"alert_id", e.alert.ID,
				"contact_id", contact.ID,
				"rank", contact.Rank,
			)
		}

		outcome := r.attemptLocked(ctx, e, contact, ch)
		if outcome == models.OutcomeSent {
			r.finishLocked(ctx, e, models.StateResolved)
			return nil
		}
		e.chain.State = models.StateEscalating
		e.chain.UpdatedAt = r.now()
		r.record(ctx, e)
	}
}

// nextContact returns the highest-ranked contact below the last attempted
// rank that has not been attempted and can be reached on some channel.
// Contacts added or re-ranked above that rank mid-chain are not attempted.
func (r *Router) nextContact(e *chainEntry) (models.Contact, models.Channel, bool) {
	for _, c := range r.contacts.Ranked(e.alert.SubjectID) {
		if !c.Active || c.Rank <= e.lastRank || e.chain.Attempted(c.ID) {
			continue
		}
		if ch, ok := r.selectChannel(c, e.alert.Severity); ok {
			return c, ch, true
		}
	}
	return models.Contact{}, "", false
}

// attemptLocked records a pending notification, performs exactly one delivery
// attempt and records its outcome.
func (r *Router) attemptLocked(ctx context.Context, e *chainEntry, contact models.Contact, ch models.Channel) models.Outcome {
	n := models.Notification{
		ID:          r.newID(),
		AlertID:     e.alert.ID,
		DomainID:    e.alert.DomainID,
		ContactID:   contact.ID,
		Channel:     ch,
		Attempt:     len(e.chain.Notifications) + 1,
		Outcome:     models.OutcomePending,
		AttemptedAt: r.now(),
	}
	e.chain.Notifications = append(e.chain.Notifications, n)
	idx := len(e.chain.Notifications) - 1
	e.lastRank = contact.Rank
	e.chain.State = models.StateAttempting
	e.chain.UpdatedAt = n.AttemptedAt
	r.record(ctx, e)

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	outcome, err := r.delivery.Attempt(attemptCtx, contact, ch, e.alert)
	cancel()

	if outcome != models.OutcomeSent {
		if err == nil {
			err = fmt.Errorf("delivery reported %q", outcome)
		}
		outcome = models.OutcomeFailed
	}

	n.Outcome = outcome
	n.ResolvedAt = r.now()
	if outcome == models.OutcomeFailed {
		n.Error = err.Error()
	}
	e.chain.Notifications[idx] = n
	e.chain.UpdatedAt = n.ResolvedAt

	r.logger.Debug("delivery attempt",
		"alert_id", e.alert.ID,
		"contact_id", contact.ID,
		"channel", string(ch),
		"attempt", n.Attempt,
		"outcome", string(outcome),
	)
	return outcome
}

func (r *Router) finishLocked(ctx context.Context, e *chainEntry, state models.ChainState) {
	e.chain.State = state
	e.chain.UpdatedAt = r.now()
	metrics.ChainsActive.Dec()
	metrics.ChainsFinished.WithLabelValues(string(state)).Inc()

	level := slog.LevelInfo
	if state == models.StateExhausted {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "chain finished",
		"alert_id", e.alert.ID,
		"domain_id", e.alert.DomainID,
		"subject_id", e.alert.SubjectID,
		"state", string(state),
		"notifications", len(e.chain.Notifications),
	)
	r.record(ctx, e)
}

func (r *Router) record(ctx context.Context, e *chainEntry) {
	if r.recorder == nil {
		return
	}
	// Recording must survive a cancelled routing context.
	if err := r.recorder.RecordChain(context.WithoutCancel(ctx), e.alert, e.chain.Clone()); err != nil {
		r.logger.Error("record chain failed", "alert_id", e.alert.ID, "err", err)
	}
}

// Cancel stops further escalation of an alert. Notifications already
// recorded keep their outcomes. If an attempt is in flight the chain is
// cancelled once that attempt is recorded, unless it succeeded.
func (r *Router) Cancel(ctx context.Context, alertID string) error {
	r.mu.Lock()
	e, ok := r.chains[alertID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAlert, alertID)
	}

	e.cancelled.Store(true)
	if e.advancing.Load() {
		// The routing goroutine observes the flag before its next attempt
		// or when it stops advancing.
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.chain.State.Terminal() {
		r.finishLocked(ctx, e, models.StateCancelled)
	}
	return nil
}

// Chain returns a snapshot of an alert's chain.
func (r *Router) Chain(alertID string) (models.Chain, bool) {
	r.mu.Lock()
	e, ok := r.chains[alertID]
	r.mu.Unlock()
	if !ok {
		return models.Chain{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.Clone(), true
}

// Chains returns snapshots of all chains ordered by alert creation time.
// Chains being advanced are read once their current transition completes.
func (r *Router) Chains() []models.Chain {
	r.mu.Lock()
	entries := make([]*chainEntry, 0, len(r.chains))
	for _, e := range r.chains {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].alert, entries[j].alert
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	out := make([]models.Chain, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.chain.Clone())
		e.mu.Unlock()
	}
	return out
}

// Restore loads chains recovered from storage. Chains whose alert is missing
// are skipped and counted. A notification left PENDING by an interrupted
// process is marked FAILED, since the attempt may have happened.
func (r *Router) Restore(alerts []models.Alert, chains []models.Chain) (skipped int) {
	byID := make(map[string]models.Alert, len(alerts))
	for _, a := range alerts {
		byID[a.ID] = a
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range chains {
		alert, ok := byID[c.AlertID]
		if !ok {
			skipped++
			continue
		}
		if _, exists := r.chains[c.AlertID]; exists {
			continue
		}
		c = c.Clone()
		for i := range c.Notifications {
			if c.Notifications[i].Outcome == models.OutcomePending {
				c.Notifications[i].Outcome = models.OutcomeFailed
				c.Notifications[i].Error = "interrupted"
				c.Notifications[i].ResolvedAt = c.UpdatedAt
			}
		}
		r.chains[c.AlertID] = &chainEntry{alert: alert, chain: c, lastRank: r.attemptedRank(alert.SubjectID, c)}
		if !c.State.Terminal() {
			metrics.ChainsActive.Inc()
		}
		if r.cfg.SupersedePrevious {
			key := alert.SupersedeKey()
			if prev, ok := r.superseded[key]; !ok || byID[prev].CreatedAt.Before(alert.CreatedAt) {
				r.superseded[key] = alert.ID
			}
		}
	}
	return skipped
}

// attemptedRank returns the highest current rank among the contacts a
// restored chain already attempted, or -1.
func (r *Router) attemptedRank(subjectID string, c models.Chain) int {
	rank := -1
	if len(c.Notifications) == 0 {
		return rank
	}
	for _, contact := range r.contacts.Ranked(subjectID) {
		if c.Attempted(contact.ID) && contact.Rank > rank {
			rank = contact.Rank
		}
	}
	return rank
}

// Resume advances every chain that is not terminal, one alert at a time.
func (r *Router) Resume(ctx context.Context) error {
	for _, c := range r.Chains() {
		if c.State.Terminal() {
			continue
		}
		r.mu.Lock()
		alert := r.chains[c.AlertID].alert
		r.mu.Unlock()
		if _, err := r.Route(ctx, alert); err != nil {
			return err
		}
	}
	return nil
}
