// Package ratelimit throttles proxy requests per client.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is the time until the client's window closes, rounded up to
	// whole seconds.
	ResetIn time.Duration
}

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(key string) Decision
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a fixed-window counter kept in process memory. The first
// request from a client opens its window; the count starts over once the
// window has passed.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

// Option configures a MemoryLimiter.
type Option func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter allows limit requests per client within each period.
func NewMemoryLimiter(limit int, period time.Duration, opts ...Option) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts a request for key.
func (l *MemoryLimiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	// The window closes only once its full period has passed.
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(l.period)}
		l.windows[key] = w
	}
	w.count++

	return Decision{
		Allowed:   w.count <= l.limit,
		Limit:     l.limit,
		Remaining: max(0, l.limit-w.count),
		ResetIn:   time.Duration(math.Ceil(w.resetAt.Sub(now).Seconds())) * time.Second,
	}
}

// Evict drops windows that have expired and returns how many were removed.
func (l *MemoryLimiter) Evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run evicts expired windows every period until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict()
		}
	}
}

// Len returns the number of tracked clients.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
