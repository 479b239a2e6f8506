// Package store defines the persistence contract that the Fulfillment
// Engine and Identity Manager consume, plus an in-memory implementation
// used by default and in tests, and a Redis-backed implementation for
// production deployments.
package store

import (
	"context"
	"time"
)

// Account is the persisted form of an Identity.
type Account struct {
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ProjectID    string
	Active       bool
	LastUsedAt   time.Time
	ExhaustedAt  *time.Time
	Total        int64
	Successful   int64
	Failed       int64
	Tokens       int64
	TierHint     bool
}

// AccountPatch carries only the fields being updated by UpdateAccount.
type AccountPatch struct {
	AccessToken  *string
	RefreshToken *string
	ExpiresAt    *time.Time
	LastUsedAt   *time.Time
	Active       *bool
	ExhaustedAt  *time.Time
}

// StatsDelta is the atomic counter add applied by IncrementAccountStats.
type StatsDelta struct {
	Successful int64
	Failed     int64
	Tokens     int64
}

// RequestLogEntry is one audit row.
type RequestLogEntry struct {
	Identity          string
	Prompt            string
	ResponseText      string
	TokenCount        int
	Success           bool
	SystemInstruction string
	Timestamp         time.Time
}

// Store is the persistence contract backing account rotation and audit
// logging.
type Store interface {
	// GetActiveAccounts returns every account with Active=true, sorted
	// ascending by LastUsedAt.
	GetActiveAccounts(ctx context.Context) ([]Account, error)

	// UpdateAccount patches the given fields for email.
	UpdateAccount(ctx context.Context, email string, patch AccountPatch) error

	// IncrementAccountStats atomically adds delta to email's counters.
	IncrementAccountStats(ctx context.Context, email string, delta StatsDelta) error

	// ReactivateExhaustedAccounts flips Active=true and clears ExhaustedAt
	// for every account whose ExhaustedAt is older than cooldown, returning
	// the count affected.
	ReactivateExhaustedAccounts(ctx context.Context, cooldown time.Duration) (int, error)

	// AddRequestLog is best-effort; a failure here must not fail the request.
	AddRequestLog(ctx context.Context, entry RequestLogEntry) error

	// ValidateAPIKey reports whether key is a known, enabled client credential.
	ValidateAPIKey(ctx context.Context, key string) (bool, error)
}
