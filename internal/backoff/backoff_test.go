package backoff

import (
	"testing"
	"time"
)

func TestExponentialCurveWithinJitterBounds(t *testing.T) {
	cases := []struct {
		attempt int
		base    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{10, 60 * time.Second}, // capped
	}
	for _, c := range cases {
		for i := 0; i < 20; i++ {
			got := Compute(c.attempt)
			lo := time.Duration(float64(c.base) * 0.8)
			hi := time.Duration(float64(c.base) * 1.2)
			if got < lo || got > hi {
				t.Fatalf("attempt %d: got %v, want within [%v,%v]", c.attempt, got, lo, hi)
			}
		}
	}
}

func TestRetryAfterSecondsOverridesBase(t *testing.T) {
	got := ComputeWithRetryAfter(0, "5")
	if got < 4*time.Second || got > 6*time.Second {
		t.Fatalf("got %v, want ~5s", got)
	}
}

func TestRetryAfterFloorAndCap(t *testing.T) {
	// Below floor (2s) gets raised to the floor before jitter.
	got := ComputeWithRetryAfter(0, "0")
	if got < 1600*time.Millisecond {
		t.Fatalf("got %v, want floored near 2s", got)
	}
	// Above cap gets capped before jitter.
	got = ComputeWithRetryAfter(0, "999")
	if got > 72*time.Second {
		t.Fatalf("got %v, want capped near 60s", got)
	}
}

func TestInvalidRetryAfterFallsBackToExponential(t *testing.T) {
	got := ComputeWithRetryAfter(1, "not-a-date")
	if got < 3*time.Second || got > 5*time.Second {
		t.Fatalf("got %v, want ~4s exponential fallback", got)
	}
}

func TestNoRetryAfterUsesExponential(t *testing.T) {
	got := ComputeWithRetryAfter(2, "")
	if got < 6400*time.Millisecond || got > 9600*time.Millisecond {
		t.Fatalf("got %v, want ~8s", got)
	}
}
