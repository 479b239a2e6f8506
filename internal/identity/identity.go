// Package identity implements the Identity Manager (C5): an in-memory
// cache of active identities refreshed from the persistence layer with a
// TTL, plus single-flight OAuth token refresh.
package identity

import (
	"strings"
	"time"
)

// Identity is the in-memory view of an enrolled account. It is an
// immutable value once placed in a cache snapshot: writers replace the
// whole snapshot rather than mutating an element in place.
type Identity struct {
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ProjectID    string
	LastUsedAt   time.Time
	TierHint     bool
}

// RefreshParts is the composite refresh-token format
// ("refreshToken|projectId|managedProjectId"), used as the on-disk/in-Redis
// representation of RefreshToken.
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts splits a composite refresh token into its parts.
// Composites with fewer than three segments leave the trailing fields empty.
func ParseRefreshParts(composite string) RefreshParts {
	segments := strings.SplitN(composite, "|", 3)
	rp := RefreshParts{RefreshToken: segments[0]}
	if len(segments) > 1 {
		rp.ProjectID = segments[1]
	}
	if len(segments) > 2 {
		rp.ManagedProjectID = segments[2]
	}
	return rp
}

// FormatRefreshParts joins RefreshParts back into the composite format.
func FormatRefreshParts(rp RefreshParts) string {
	return rp.RefreshToken + "|" + rp.ProjectID + "|" + rp.ManagedProjectID
}
