package cooldown

import (
	"testing"
	"time"

	"github.com/antigravity-gateway/rotation-gateway/internal/classify"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time  { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCooldownEscalation(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	r := NewWithClock(c.now)

	want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 120 * time.Second}
	for i, w := range want {
		r.MarkCooldown("a@example.com", classify.CategoryRateLimit)
		st, ok := r.Get("a@example.com")
		if !ok {
			t.Fatalf("round %d: expected entry", i)
		}
		got := st.CooldownUntil.Sub(c.now())
		if got != w {
			t.Errorf("round %d: got cooldown %v want %v", i, got, w)
		}
	}
}

func TestCooldownQuotaConstant(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	r := NewWithClock(c.now)

	for i := 0; i < 3; i++ {
		r.MarkCooldown("a@example.com", classify.CategoryQuota)
		st, _ := r.Get("a@example.com")
		if got := st.CooldownUntil.Sub(c.now()); got != 60*time.Minute {
			t.Errorf("iteration %d: got %v want 60m", i, got)
		}
	}
}

func TestCooldownClearsOnSuccess(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	r := NewWithClock(c.now)

	r.MarkCooldown("a@example.com", classify.CategoryRateLimit)
	r.MarkSuccess("a@example.com")
	if r.InCooldown("a@example.com") {
		t.Fatal("expected no cooldown after success")
	}

	// Next rate_limit failure must start the escalation sequence over at 15s.
	r.MarkCooldown("a@example.com", classify.CategoryRateLimit)
	st, _ := r.Get("a@example.com")
	if got := st.CooldownUntil.Sub(c.now()); got != 15*time.Second {
		t.Errorf("got %v want 15s after reset", got)
	}
}

func TestInCooldownExpiresLazily(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	r := NewWithClock(c.now)

	r.MarkCooldown("a@example.com", classify.CategoryTimeout)
	if !r.InCooldown("a@example.com") {
		t.Fatal("expected cooldown immediately after marking")
	}
	c.advance(6 * time.Second)
	if r.InCooldown("a@example.com") {
		t.Fatal("expected cooldown to have expired")
	}
	if _, ok := r.Get("a@example.com"); ok {
		t.Fatal("expected entry to be deleted after lazy expiry")
	}
}

func TestShouldProbe(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	r := NewWithClock(c.now)

	r.MarkCooldown("a@example.com", classify.CategoryRateLimit)
	if r.ShouldProbe("a@example.com") {
		t.Fatal("should not probe immediately (min interval not elapsed)")
	}
	c.advance(31 * time.Second)
	if !r.ShouldProbe("a@example.com") {
		t.Fatal("expected probe to be allowed for rate_limit category after interval")
	}
	r.RecordProbe("a@example.com")
	if r.ShouldProbe("a@example.com") {
		t.Fatal("should not probe again immediately after recording a probe")
	}
}

func TestShouldProbeNeverForAuthOrBilling(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	r := NewWithClock(c.now)

	r.MarkCooldown("a@example.com", classify.CategoryAuth)
	c.advance(time.Hour)
	if r.ShouldProbe("a@example.com") {
		t.Fatal("auth category must never be probed")
	}
}
