// Package ratelimit provides per-identity sliding-window admission control
// for the scoring and transfer endpoints.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Config configures the sliding window.
type Config struct {
	// Requests is the max admitted events per key per window.
	Requests int
	// WindowSeconds is the trailing window length.
	WindowSeconds int
	// CleanupInterval is how often idle keys are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults (60 requests per minute).
func DefaultConfig() Config {
	return Config{
		Requests:        60,
		WindowSeconds:   60,
		CleanupInterval: time.Minute,
	}
}

// Limiter tracks admitted-event timestamps by identity key.
//
// The trim-and-append sequence runs under one mutex so two concurrent
// callers can never both take the last remaining slot.
type Limiter struct {
	cfg    Config
	clock  func() time.Time
	mu     sync.Mutex
	events map[string][]time.Time
	stop   chan struct{}
	once   sync.Once
}

// New creates a rate limiter and starts its idle-key cleanup loop.
func New(cfg Config) (*Limiter, error) {
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("ratelimit: requests must be greater than 0")
	}
	if cfg.WindowSeconds <= 0 {
		return nil, fmt.Errorf("ratelimit: window seconds must be greater than 0")
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	l := &Limiter{
		cfg:    cfg,
		clock:  time.Now,
		events: make(map[string][]time.Time),
		stop:   make(chan struct{}),
	}
	go l.cleanup()
	return l, nil
}

// WithClock overrides the wall clock (for tests).
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

// cleanup drops keys whose whole window has expired.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.clock().Add(-time.Duration(l.cfg.WindowSeconds) * time.Second)
			for key, stamps := range l.events {
				if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
					delete(l.events, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// CheckAndConsume admits or rejects one request for the given identity key.
// On rejection it returns the whole seconds until the oldest recorded event
// leaves the window, floored at 1.
func (l *Limiter) CheckAndConsume(key string) (allowed bool, retryAfter int) {
	now := l.clock()
	windowStart := now.Add(-time.Duration(l.cfg.WindowSeconds) * time.Second)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.events[key]

	// Trim events at or before the window start.
	keep := 0
	for keep < len(stamps) && !stamps[keep].After(windowStart) {
		keep++
	}
	stamps = stamps[keep:]

	if len(stamps) >= l.cfg.Requests {
		l.events[key] = stamps
		elapsed := now.Sub(stamps[0]).Seconds()
		retry := int(math.Ceil(float64(l.cfg.WindowSeconds) - elapsed))
		if retry < 1 {
			retry = 1
		}
		return false, retry
	}

	l.events[key] = append(stamps, now)
	return true, 0
}
