// Package backoff implements the Backoff Policy (C6): exponential delay
// with jitter, overridable by an upstream Retry-After hint.
package backoff

import (
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/antigravity-gateway/rotation-gateway/internal/config"
)

// Compute returns the delay before the next rotation round for the given
// zero-based attempt number:
//   min(2^attempt * base, max) * (1 ± jitter)
func Compute(attempt int) time.Duration {
	return jitter(exponential(attempt))
}

func exponential(attempt int) time.Duration {
	d := config.BaseRetryDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= config.MaxRetryDelay {
			return config.MaxRetryDelay
		}
	}
	if d > config.MaxRetryDelay {
		d = config.MaxRetryDelay
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	// Uniform factor in [1-JitterFactor, 1+JitterFactor].
	factor := 1 + (rand.Float64()*2-1)*config.JitterFactor
	out := time.Duration(float64(d) * factor)
	if out < 0 {
		out = 0
	}
	return out
}

// ComputeWithRetryAfter returns the delay for attempt, but uses the
// upstream's Retry-After header value (seconds or HTTP-date) as the base
// in place of the exponential term when present, still jittered and
// capped, with a floor equal to the base retry delay.
func ComputeWithRetryAfter(attempt int, retryAfterHeader string) time.Duration {
	if retryAfterHeader == "" {
		return Compute(attempt)
	}

	base, ok := parseRetryAfter(retryAfterHeader)
	if !ok {
		return Compute(attempt)
	}
	if base < config.BaseRetryDelay {
		base = config.BaseRetryDelay
	}
	if base > config.MaxRetryDelay {
		base = config.MaxRetryDelay
	}
	return jitter(base)
}

func parseRetryAfter(header string) (time.Duration, bool) {
	if secs, err := parseSeconds(header); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func parseSeconds(s string) (int64, error) {
	var n int64
	var any bool
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotNumeric
		}
		any = true
		n = n*10 + int64(r-'0')
	}
	if !any {
		return 0, errNotNumeric
	}
	return n, nil
}

type backoffError string

func (e backoffError) Error() string { return string(e) }

const errNotNumeric = backoffError("not a numeric retry-after value")
