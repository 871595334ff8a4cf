// Package ratelimit implements a sliding-window request limiter with
// exponential back-off. The provider manager gives each registered
// provider its own Limiter, so calls to different providers are counted
// in separate windows, not in one shared window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Config configures a Limiter's window size, request cap and back-off
// curve. Zero-value Config is invalid; use NewLimiter to validate it.
type Config struct {
	// MaxRequestsPerMinute caps the number of requests the limiter lets
	// through in any WindowSeconds-wide sliding window. Despite the
	// name, the cap applies over WindowSeconds, not a fixed minute.
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`

	// WindowSeconds is the width of the sliding window used to prune
	// stale request timestamps.
	WindowSeconds int `yaml:"window_seconds"`

	// BaseDelayMs is the initial back-off delay applied on the first
	// throttle within a run of consecutive throttles.
	BaseDelayMs int64 `yaml:"base_delay_ms"`

	// MaxDelayMs caps the exponential back-off delay.
	MaxDelayMs int64 `yaml:"max_delay_ms"`

	// Enabled toggles limiting. When false, every acquire succeeds
	// immediately but requests are still recorded for stats.
	Enabled bool `yaml:"enabled"`
}

// Validate checks the configuration invariants from the rate-limiter
// contract: all positive durations/counts, and MaxDelayMs >= BaseDelayMs.
func (c Config) Validate() error {
	if c.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit: max requests per minute must be > 0, got %d", c.MaxRequestsPerMinute)
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("ratelimit: window seconds must be > 0, got %d", c.WindowSeconds)
	}
	if c.BaseDelayMs <= 0 {
		return fmt.Errorf("ratelimit: base delay ms must be > 0, got %d", c.BaseDelayMs)
	}
	if c.MaxDelayMs < c.BaseDelayMs {
		return fmt.Errorf("ratelimit: max delay ms (%d) must be >= base delay ms (%d)", c.MaxDelayMs, c.BaseDelayMs)
	}
	return nil
}

// DefaultConfig returns a sensible default: 60 requests per 60s window,
// back-off from 500ms doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerMinute: 60,
		WindowSeconds:        60,
		BaseDelayMs:          500,
		MaxDelayMs:           30000,
		Enabled:              true,
	}
}

// Stats is a point-in-time snapshot of limiter activity.
type Stats struct {
	TotalRequests       int64         `json:"total_requests"`
	ThrottledRequests   int64         `json:"throttled_requests"`
	WindowCount         int           `json:"window_count"`
	Remaining           int           `json:"remaining"`
	AverageWait         time.Duration `json:"average_wait"`
	ConsecutiveThrottle int           `json:"consecutive_throttles"`
}

// Limiter is a single sliding-window rate limiter with exponential
// back-off. It is safe for concurrent use; all mutating operations hold
// a single mutex, which keeps the timestamp deque and counters
// consistent under concurrent callers (spec §4.3.3, §5).
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	stamps []time.Time

	totalRequests     int64
	throttledRequests int64
	totalWait         time.Duration
	consecutive       int

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewLimiter validates cfg and constructs a Limiter.
func NewLimiter(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withClock overrides the limiter's notion of "now" and its sleep
// implementation, for deterministic tests of the back-off curve.
func (l *Limiter) withClock(now func() time.Time, sleep func(context.Context, time.Duration) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now != nil {
		l.now = now
	}
	if sleep != nil {
		l.sleep = sleep
	}
}

// TryAcquire performs a non-blocking admission check: it returns true
// and records the request iff the sliding window has room, false
// otherwise. It never waits.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.Enabled {
		l.recordLocked()
		return true
	}

	now := l.now()
	l.pruneLocked(now)
	if len(l.stamps) < l.cfg.MaxRequestsPerMinute {
		l.stamps = append(l.stamps, now)
		l.totalRequests++
		return true
	}
	return false
}

// Acquire blocks (honoring ctx cancellation) until a slot in the
// sliding window opens, applying exponential back-off between retries.
// With back-off base B and cap M, consecutive throttle delays follow
// B, 2B, 4B, ... capped at M.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		if !l.cfg.Enabled {
			l.recordLocked()
			l.mu.Unlock()
			return nil
		}

		now := l.now()
		l.pruneLocked(now)
		if len(l.stamps) < l.cfg.MaxRequestsPerMinute {
			l.consecutive = 0
			l.stamps = append(l.stamps, now)
			l.totalRequests++
			l.mu.Unlock()
			return nil
		}

		l.consecutive++
		l.throttledRequests++
		delay := backoffDelay(l.cfg.BaseDelayMs, l.cfg.MaxDelayMs, l.consecutive)
		l.totalWait += delay
		sleeper := l.sleep
		l.mu.Unlock()

		if err := sleeper(ctx, delay); err != nil {
			return err
		}
	}
}

// backoffDelay computes base*2^(n-1) capped at max, per spec §4.3.3:
// the sequence for base B is B, 2B, 4B, 8B, ... until it reaches max.
// n is capped before exponentiation to avoid overflow for long runs.
func backoffDelay(baseMs, maxMs int64, n int) time.Duration {
	const maxExponent = 32
	if n > maxExponent {
		n = maxExponent
	}
	factor := math.Pow(2, float64(n-1))
	delayMs := float64(baseMs) * factor
	if delayMs > float64(maxMs) || math.IsInf(delayMs, 1) {
		delayMs = float64(maxMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

// RecordRequest appends a timestamp to the window without performing
// an admission check, for callers that acquired a permit out of band.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked()
}

func (l *Limiter) recordLocked() {
	l.stamps = append(l.stamps, l.now())
	l.totalRequests++
}

// Reset clears the timestamp window and all counters.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = nil
	l.totalRequests = 0
	l.throttledRequests = 0
	l.totalWait = 0
	l.consecutive = 0
}

// Stats returns a consistent snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	remaining := l.cfg.MaxRequestsPerMinute - len(l.stamps)
	if remaining < 0 {
		remaining = 0
	}

	var avgWait time.Duration
	if l.throttledRequests > 0 {
		avgWait = l.totalWait / time.Duration(l.throttledRequests)
	}

	return Stats{
		TotalRequests:       l.totalRequests,
		ThrottledRequests:   l.throttledRequests,
		WindowCount:         len(l.stamps),
		Remaining:           remaining,
		AverageWait:         avgWait,
		ConsecutiveThrottle: l.consecutive,
	}
}

// Config returns the limiter's current configuration.
func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// UpdateConfig validates and swaps in a new configuration. The
// timestamp window is retained; only future pruning/admission uses the
// new limits.
func (l *Limiter) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	return nil
}

// pruneLocked drops timestamps older than the configured window. Must
// be called with l.mu held.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(l.cfg.WindowSeconds) * time.Second)
	i := 0
	for i < len(l.stamps) && l.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append([]time.Time(nil), l.stamps[i:]...)
	}
}
