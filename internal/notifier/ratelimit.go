package notifier

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           `yaml:"max_per_window"` // attempts per channel per window (default: 60)
	Window       time.Duration `yaml:"window"`         // default: 1 minute
	Enabled      bool          `yaml:"enabled"`
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 60,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// RateLimiter bounds delivery attempts on one channel with a token bucket
// holding MaxPerWindow tokens and refilling MaxPerWindow tokens per Window.
type RateLimiter struct {
	limiter *rate.Limiter
	config  RateLimitConfig
	dropped atomic.Int64
	now     func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive sizes fall back to 60 per minute.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 60
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	every := config.Window / time.Duration(config.MaxPerWindow)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(every), config.MaxPerWindow),
		config:  config,
		now:     time.Now,
	}
}

// Reserve takes a token for one attempt. It reports false, and counts a drop,
// when the channel is over budget. The returned release func hands the token
// back; the dispatcher calls it when the attempt fails.
func (r *RateLimiter) Reserve() (release func(), ok bool) {
	if !r.config.Enabled {
		return func() {}, true
	}
	at := r.now()
	res := r.limiter.ReserveN(at, 1)
	if !res.OK() || res.DelayFrom(at) > 0 {
		res.CancelAt(at)
		r.dropped.Add(1)
		return nil, false
	}
	return func() { res.CancelAt(at) }, true
}

// Dropped returns the number of attempts rejected by the limit.
func (r *RateLimiter) Dropped() int64 {
	return r.dropped.Load()
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped      int64
	Available    float64 // tokens left in the bucket
	MaxPerWindow int
	Window       time.Duration
	Enabled      bool
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	return RateLimitStats{
		Dropped:      r.dropped.Load(),
		Available:    r.limiter.TokensAt(r.now()),
		MaxPerWindow: r.config.MaxPerWindow,
		Window:       r.config.Window,
		Enabled:      r.config.Enabled,
	}
}
