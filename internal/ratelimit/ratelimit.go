// Package ratelimit implements the Rate Limiter (C3): a per-identity,
// fixed-window client-side throttle.
//
// An exact fixed-window counter is required here (reset to {count:0,
// windowStartAt:now} once the window elapses, admit up to a fixed cap),
// not a token-bucket smoothing algorithm, so this is hand-rolled rather
// than built on golang.org/x/time/rate's leaky-bucket Limiter, which
// cannot reproduce the discrete-reset semantics this component needs.
package ratelimit

import (
	"sync"
	"time"

	"github.com/antigravity-gateway/rotation-gateway/internal/config"
)

type window struct {
	count        int
	windowStartAt time.Time
}

// Limiter is a fixed-window limiter keyed by identity email.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int
	period  time.Duration
	now     func() time.Time
}

// New builds a Limiter using the configured default cap and window.
func New() *Limiter {
	return NewWithParams(config.RateLimitMax, config.RateLimitWindow, time.Now)
}

// NewWithParams builds a Limiter with explicit cap, window, and clock, for tests.
func NewWithParams(max int, period time.Duration, now func() time.Time) *Limiter {
	return &Limiter{windows: make(map[string]*window), max: max, period: period, now: now}
}

// Result is the outcome of a Consume call.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Consume attempts to admit one call for id, resetting the window if it has
// elapsed.
func (l *Limiter) Consume(id string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[id]
	if !ok || now.Sub(w.windowStartAt) >= l.period {
		w = &window{count: 0, windowStartAt: now}
		l.windows[id] = w
	}

	if w.count >= l.max {
		retryAfter := l.period - now.Sub(w.windowStartAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, RetryAfter: retryAfter, Remaining: 0}
	}

	w.count++
	return Result{Allowed: true, Remaining: l.max - w.count}
}

// Reset clears id's window, as if no calls had ever been made.
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}

// ResetAll clears every tracked window.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}
