// Package notifier delivers alerts to contacts over pluggable channels.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/metrics"
	"github.com/good-yellow-bee/origami/internal/models"
)

// Notifier delivers alerts over one channel.
type Notifier interface {
	// Channel returns the channel the notifier serves.
	Channel() models.Channel
	// Send delivers the alert to the contact. A nil error means delivered.
	Send(ctx context.Context, contact models.Contact, alert models.Alert) error
	// Close releases any resources.
	Close() error
}

var (
	// ErrRateLimited is returned when an attempt is dropped by the channel rate limit.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrDeliveryTimeout is returned when an attempt does not finish before its deadline.
	ErrDeliveryTimeout = errors.New("delivery timed out")
	// ErrNoNotifier is returned when no notifier serves the channel.
	ErrNoNotifier = errors.New("no notifier for channel")
	// ErrNoAddress is returned when the contact has no address for the channel.
	ErrNoAddress = errors.New("contact has no address for channel")
)

// Dispatcher manages notifiers keyed by channel and performs single
// delivery attempts.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[models.Channel]Notifier
	limiters  map[models.Channel]*RateLimiter
	rlConfig  RateLimitConfig
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher with default rate limiting.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig(), logger)
}

// NewDispatcherWithRateLimit creates a dispatcher with a per-channel rate limit.
func NewDispatcherWithRateLimit(config RateLimitConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifiers: make(map[models.Channel]Notifier),
		limiters:  make(map[models.Channel]*RateLimiter),
		rlConfig:  config,
		logger:    logging.OrDiscard(logger),
	}
}

// Register adds a notifier, replacing any previous one for the channel.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := n.Channel()
	d.notifiers[ch] = n
	if _, ok := d.limiters[ch]; !ok {
		d.limiters[ch] = NewRateLimiter(d.rlConfig)
	}
}

// Unregister removes the notifier of a channel.
func (d *Dispatcher) Unregister(ch models.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, ch)
	delete(d.limiters, ch)
}

// Get returns the notifier of a channel.
func (d *Dispatcher) Get(ch models.Channel) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[ch]
	return n, ok
}

// Has reports whether a notifier serves the channel.
func (d *Dispatcher) Has(ch models.Channel) bool {
	_, ok := d.Get(ch)
	return ok
}

// Channels returns the registered channels, sorted.
func (d *Dispatcher) Channels() []models.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type sendResult struct {
	err error
}

// Attempt makes exactly one delivery attempt and reports its outcome.
// Every failure mode, including a missing notifier, rate limiting, a panic
// in the notifier or the context deadline, yields FAILED with the cause.
// The call returns when ctx is done even if the notifier ignores ctx.
func (d *Dispatcher) Attempt(ctx context.Context, contact models.Contact, ch models.Channel, alert models.Alert) (models.Outcome, error) {
	start := time.Now()
	err := d.attempt(ctx, contact, ch, alert)

	outcome := models.OutcomeSent
	if err != nil {
		outcome = models.OutcomeFailed
	}
	metrics.DeliveryAttempts.WithLabelValues(string(ch), string(outcome)).Inc()
	metrics.DeliveryDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())

	if err != nil {
		d.logger.Warn("delivery attempt failed",
			"alert_id", alert.ID,
			"contact_id", contact.ID,
			"channel", string(ch),
			"err", err,
		)
	}
	return outcome, err
}

func (d *Dispatcher) attempt(ctx context.Context, contact models.Contact, ch models.Channel, alert models.Alert) error {
	d.mu.RLock()
	n, ok := d.notifiers[ch]
	limiter := d.limiters[ch]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoNotifier, ch)
	}
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	release := func() {}
	if limiter != nil {
		var ok bool
		if release, ok = limiter.Reserve(); !ok {
			return ErrRateLimited
		}
	}

	done := make(chan sendResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- sendResult{err: fmt.Errorf("notifier panic: %v", p)}
			}
		}()
		done <- sendResult{err: n.Send(ctx, contact, alert)}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			release()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: %v", contextError(ctxErr), res.err)
			}
			return res.err
		}
		return nil
	case <-ctx.Done():
		release()
		return contextError(ctx.Err())
	}
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrDeliveryTimeout
	}
	return err
}

// RateLimitStats returns the rate limiter statistics of a channel.
func (d *Dispatcher) RateLimitStats(ch models.Channel) RateLimitStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if l, ok := d.limiters[ch]; ok {
		return l.Stats()
	}
	return RateLimitStats{}
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for ch, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
		}
	}
	d.notifiers = make(map[models.Channel]Notifier)
	d.limiters = make(map[models.Channel]*RateLimiter)

	return errors.Join(errs...)
}
