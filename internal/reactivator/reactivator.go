// Package reactivator implements the Background Reactivator (C9): a
// periodic sweep that flips exhausted accounts back to active once their
// durable cooldown window has elapsed, running as a cancelable goroutine
// driven by a ticker.
package reactivator

import (
	"context"
	"time"

	"github.com/antigravity-gateway/rotation-gateway/internal/config"
	"github.com/antigravity-gateway/rotation-gateway/internal/logging"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
)

// Reactivator periodically calls store.ReactivateExhaustedAccounts.
type Reactivator struct {
	store    store.Store
	interval time.Duration
	cooldown time.Duration
}

// New builds a Reactivator using the gateway's default sweep interval and
// exhaustion cooldown window.
func New(st store.Store) *Reactivator {
	return &Reactivator{store: st, interval: config.ReactivatorInterval, cooldown: config.ExhaustionCooldown}
}

// NewWithParams builds a Reactivator with explicit timing, for tests.
func NewWithParams(st store.Store, interval, cooldown time.Duration) *Reactivator {
	return &Reactivator{store: st, interval: interval, cooldown: cooldown}
}

// Run starts the periodic sweep and blocks until ctx is canceled.
func (r *Reactivator) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reactivator) sweep(ctx context.Context) {
	n, err := r.store.ReactivateExhaustedAccounts(ctx, r.cooldown)
	if err != nil {
		logging.Warn("reactivator sweep failed: %v", err)
		return
	}
	if n > 0 {
		logging.Info("reactivator reactivated %d exhausted account(s)", n)
	}
}
