package identity

import (
	"sync"
	"time"
)

// Health tracking constants.
const (
	healthInitial         = 70.0
	healthSuccessReward   = 1.0
	healthFailurePenalty  = -20.0
	healthRecoveryPerHour = 10.0
	healthMin             = 0.0
	healthMax             = 100.0
)

type healthRecord struct {
	score               float64
	lastUpdated         time.Time
	consecutiveFailures int
}

// HealthTracker is a read-only diagnostic: it never reorders the identity
// list the Fulfillment Engine iterates, which remains strict
// ascending-LastUsedAt.
type HealthTracker struct {
	mu      sync.Mutex
	records map[string]*healthRecord
	now     func() time.Time
}

// NewHealthTracker builds an empty HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{records: make(map[string]*healthRecord), now: time.Now}
}

func (h *HealthTracker) recordFor(email string) *healthRecord {
	r, ok := h.records[email]
	if !ok {
		r = &healthRecord{score: healthInitial, lastUpdated: h.now()}
		h.records[email] = r
	}
	return r
}

// Score returns email's current score, applying passive recovery for the
// elapsed time since its last update.
func (h *HealthTracker) Score(email string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.recordFor(email)
	elapsed := h.now().Sub(r.lastUpdated)
	recovered := r.score + elapsed.Hours()*healthRecoveryPerHour
	if recovered > healthMax {
		recovered = healthMax
	}
	return recovered
}

// RecordSuccess rewards email and resets its consecutive-failure counter.
func (h *HealthTracker) RecordSuccess(email string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.recordFor(email)
	r.score = clamp(r.score+healthSuccessReward, healthMin, healthMax)
	r.lastUpdated = h.now()
	r.consecutiveFailures = 0
}

// RecordFailure penalizes email and increments its consecutive-failure counter.
func (h *HealthTracker) RecordFailure(email string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.recordFor(email)
	r.score = clamp(r.score+healthFailurePenalty, healthMin, healthMax)
	r.lastUpdated = h.now()
	r.consecutiveFailures++
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
