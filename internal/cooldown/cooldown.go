// Package cooldown implements the Cooldown Registry (C2): per-identity,
// in-memory failure state with escalating durations and probe-based
// early recovery detection, covering all nine classifier categories.
package cooldown

import (
	"sync"
	"time"

	"github.com/antigravity-gateway/rotation-gateway/internal/classify"
	"github.com/antigravity-gateway/rotation-gateway/internal/config"
)

// State is one identity's current cooldown record.
type State struct {
	CooldownUntil time.Time
	Reason        classify.Category
	FailureCount  int
	LastProbeAt   time.Time
}

// Registry tracks cooldown State per identity email.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*State
	now     func() time.Time
}

// New builds an empty Registry. On startup the registry is always empty;
// durable exhaustion recovery is the Background Reactivator's job (C9).
func New() *Registry {
	return &Registry{entries: make(map[string]*State), now: time.Now}
}

// NewWithClock builds a Registry using an injected clock, for tests.
func NewWithClock(now func() time.Time) *Registry {
	return &Registry{entries: make(map[string]*State), now: now}
}

func durationFor(category classify.Category, failureCount int) time.Duration {
	switch category {
	case classify.CategoryRateLimit, classify.CategoryOverloaded:
		d := config.RateLimitCooldownBase
		for i := 1; i < failureCount; i++ {
			d *= 2
			if d >= config.RateLimitCooldownCap {
				d = config.RateLimitCooldownCap
				break
			}
		}
		if d > config.RateLimitCooldownCap {
			d = config.RateLimitCooldownCap
		}
		return d
	case classify.CategoryQuota:
		return config.QuotaCooldown
	case classify.CategoryAuth, classify.CategoryBilling:
		// Effectively infinite: manual recovery only. A cap far beyond any
		// process lifetime stands in for "forever" without special-casing
		// time-arithmetic elsewhere in the registry.
		return 365 * 24 * time.Hour
	case classify.CategoryTimeout:
		return config.TimeoutCooldown
	default:
		return config.DefaultCooldown
	}
}

// MarkCooldown records a new failure for id, incrementing its failure count
// and computing a cooldown duration by category.
func (r *Registry) MarkCooldown(id string, category classify.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.entries[id]
	if !ok {
		st = &State{}
		r.entries[id] = st
	}
	st.FailureCount++
	st.Reason = category
	st.CooldownUntil = r.now().Add(durationFor(category, st.FailureCount))
}

// InCooldown reports whether id is currently cooling down. A cooldown whose
// deadline has passed is deleted and reports false (lazy expiry).
func (r *Registry) InCooldown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.entries[id]
	if !ok {
		return false
	}
	if r.now().Before(st.CooldownUntil) {
		return true
	}
	delete(r.entries, id)
	return false
}

// ShouldProbe reports whether a deliberate probe attempt against a
// still-cooling-down identity is warranted right now.
func (r *Registry) ShouldProbe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.entries[id]
	if !ok {
		return false
	}
	if st.Reason == classify.CategoryAuth || st.Reason == classify.CategoryBilling {
		return false
	}
	now := r.now()
	if !st.LastProbeAt.IsZero() && now.Sub(st.LastProbeAt) < config.MinProbeInterval {
		return false
	}
	if st.Reason == classify.CategoryRateLimit || st.Reason == classify.CategoryOverloaded {
		return true
	}
	return now.After(st.CooldownUntil.Add(-config.ProbeMargin)) || now.Equal(st.CooldownUntil.Add(-config.ProbeMargin))
}

// RecordProbe marks id as having just been probed.
func (r *Registry) RecordProbe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.entries[id]; ok {
		st.LastProbeAt = r.now()
	}
}

// MarkSuccess is the sole healing transition: it deletes id's cooldown state
// entirely, so a subsequent failure starts the escalation sequence over.
func (r *Registry) MarkSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// ClearExpired sweeps every entry whose cooldown has passed and returns the
// count removed. The Background Reactivator does not call this directly
// (durable reactivation is separate); it exists for proactive housekeeping.
func (r *Registry) ClearExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for id, st := range r.entries {
		if !now.Before(st.CooldownUntil) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Get returns a copy of id's current state, and whether it exists.
func (r *Registry) Get(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.entries[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}
