package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/good-yellow-bee/origami/internal/models"
)

// ErrSimulatedFailure is returned when a simulated delivery fails.
var ErrSimulatedFailure = errors.New("simulated delivery failure")

// DefaultSuccessRates are the per-channel success probabilities of the
// simulated notifier.
var DefaultSuccessRates = map[models.Channel]float64{
	models.ChannelVoice: 0.85,
	models.ChannelSMS:   0.95,
	models.ChannelEmail: 0.98,
	models.ChannelPush:  0.90,
}

const defaultSuccessRate = 0.9

// SimulatedNotifier succeeds with a fixed probability and optionally waits
// before answering. Used for demos and load tests.
type SimulatedNotifier struct {
	channel models.Channel
	rate    float64
	latency time.Duration

	mu   sync.Mutex
	roll func() float64
}

// NewSimulatedNotifier creates a simulated notifier. A rate outside (0, 1]
// falls back to DefaultSuccessRates.
func NewSimulatedNotifier(ch models.Channel, rate float64, latency time.Duration) *SimulatedNotifier {
	if rate <= 0 || rate > 1 {
		var ok bool
		if rate, ok = DefaultSuccessRates[ch]; !ok {
			rate = defaultSuccessRate
		}
	}
	return &SimulatedNotifier{channel: ch, rate: rate, latency: latency, roll: rand.Float64}
}

// WithRoll replaces the random source. For tests.
func (s *SimulatedNotifier) WithRoll(roll func() float64) *SimulatedNotifier {
	s.mu.Lock()
	s.roll = roll
	s.mu.Unlock()
	return s
}

func (s *SimulatedNotifier) Channel() models.Channel { return s.channel }

// Rate returns the success probability.
func (s *SimulatedNotifier) Rate() float64 { return s.rate }

func (s *SimulatedNotifier) Send(ctx context.Context, contact models.Contact, alert models.Alert) error {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	v := s.roll()
	s.mu.Unlock()

	if v >= s.rate {
		return ErrSimulatedFailure
	}
	return nil
}

func (s *SimulatedNotifier) Close() error { return nil }
