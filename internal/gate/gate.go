// Package gate implements the Concurrency Gate (C4): a process-wide
// semaphore capping in-flight upstream calls, FIFO over waiters.
package gate

import (
	"context"

	"github.com/antigravity-gateway/rotation-gateway/internal/config"
)

// Gate is a counting semaphore of fixed capacity.
type Gate struct {
	slots chan struct{}
}

// New builds a Gate using the configured default capacity.
func New() *Gate {
	return NewWithCapacity(config.ConcurrencyCap)
}

// NewWithCapacity builds a Gate with an explicit capacity, for tests.
func NewWithCapacity(capacity int) *Gate {
	return &Gate{slots: make(chan struct{}, capacity)}
}

// Run acquires a slot (FIFO order over waiters, via the buffered channel's
// own ordering), runs fn, and releases the slot on every exit path —
// including cancellation of ctx, since acquisition here is cancelable.
func Run[T any](ctx context.Context, g *Gate, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-g.slots }()

	return fn()
}

// InFlight returns the current number of occupied slots, for diagnostics.
func (g *Gate) InFlight() int {
	return len(g.slots)
}

// Capacity returns the gate's configured capacity.
func (g *Gate) Capacity() int {
	return cap(g.slots)
}
