package identity

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// RefreshResult is the outcome of exchanging a refresh token for a new
// access token.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher performs the OAuth refresh-token exchange against the upstream
// provider. It is an interface so engine/identity tests can supply a fake
// that counts invocations.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (RefreshResult, error)
}

// OAuthRefresher is the production Refresher, using
// golang.org/x/oauth2's standard refresh-token grant rather than a
// hand-rolled POST to the token endpoint.
type OAuthRefresher struct {
	cfg *oauth2.Config
}

// NewOAuthRefresher builds an OAuthRefresher against the given OAuth2
// client credentials and token endpoint.
func NewOAuthRefresher(clientID, clientSecret, tokenURL string) *OAuthRefresher {
	return &OAuthRefresher{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Refresh exchanges the composite refresh token for a fresh access token,
// falling back to the old refresh token when the provider omits a new one,
// and re-composing the composite format around whichever refresh token is
// current.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	parts := ParseRefreshParts(refreshToken)

	ts := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: parts.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return RefreshResult{}, err
	}

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = parts.RefreshToken
	}

	composite := FormatRefreshParts(RefreshParts{
		RefreshToken:     newRefresh,
		ProjectID:        parts.ProjectID,
		ManagedProjectID: parts.ManagedProjectID,
	})

	return RefreshResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: composite,
		ExpiresAt:    tok.Expiry,
	}, nil
}
