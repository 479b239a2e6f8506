package identity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/antigravity-gateway/rotation-gateway/internal/config"
	"github.com/antigravity-gateway/rotation-gateway/internal/logging"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
)

// Manager is the Identity Manager (C5): a TTL-cached, LRU-sorted identity
// list with single-flight token refresh.
type Manager struct {
	store     store.Store
	refresher Refresher
	sf        singleflight.Group
	health    *HealthTracker

	cache   atomic.Pointer[[]Identity]
	loading int32

	mu       sync.Mutex
	lastLoad time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewManager builds a Manager backed by st and refreshing tokens via refresher.
func NewManager(st store.Store, refresher Refresher) *Manager {
	return &Manager{
		store:     st,
		refresher: refresher,
		health:    NewHealthTracker(),
		ttl:       config.IdentityCacheTTL,
		now:       time.Now,
	}
}

// NewManagerWithClock builds a Manager using an injected clock, for tests.
func NewManagerWithClock(st store.Store, refresher Refresher, now func() time.Time) *Manager {
	m := NewManager(st, refresher)
	m.now = now
	return m
}

// Warm forces an eager cache load.
func (m *Manager) Warm(ctx context.Context) error {
	return m.load(ctx)
}

// Invalidate clears the cache, forcing the next GetReadyAccounts call to
// load synchronously.
func (m *Manager) Invalidate() {
	m.cache.Store(nil)
	m.mu.Lock()
	m.lastLoad = time.Time{}
	m.mu.Unlock()
}

// GetReadyAccounts returns the current identity list, sorted ascending by
// LastUsedAt. The first call awaits a load; subsequent calls return the
// cached list immediately and fire a background refresh if stale.
func (m *Manager) GetReadyAccounts(ctx context.Context) ([]Identity, error) {
	cached := m.cache.Load()
	if cached == nil {
		if err := m.load(ctx); err != nil {
			return nil, err
		}
		cached = m.cache.Load()
		return *cached, nil
	}

	m.mu.Lock()
	stale := m.now().Sub(m.lastLoad) >= m.ttl
	m.mu.Unlock()

	if stale && atomic.CompareAndSwapInt32(&m.loading, 0, 1) {
		go func() {
			defer atomic.StoreInt32(&m.loading, 0)
			bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.load(bgCtx); err != nil {
				logging.Warn("identity cache background refresh failed: %v", err)
			}
		}()
	}

	return *cached, nil
}

func (m *Manager) load(ctx context.Context) error {
	accounts, err := m.store.GetActiveAccounts(ctx)
	if err != nil {
		// Refresh failures preserve the prior list; only a failure on the
		// very first load (cache still nil) is surfaced.
		if m.cache.Load() == nil {
			return err
		}
		logging.Warn("identity cache refresh failed, keeping prior list: %v", err)
		return nil
	}

	list := make([]Identity, len(accounts))
	for i, a := range accounts {
		list[i] = Identity{
			Email:        a.Email,
			AccessToken:  a.AccessToken,
			RefreshToken: a.RefreshToken,
			ExpiresAt:    a.ExpiresAt,
			ProjectID:    a.ProjectID,
			LastUsedAt:   a.LastUsedAt,
			TierHint:     a.TierHint,
		}
	}
	m.cache.Store(&list)
	m.mu.Lock()
	m.lastLoad = m.now()
	m.mu.Unlock()
	return nil
}

// EnsureFreshToken returns id's access token, refreshing it first if it is
// within TokenRefreshMargin of expiry. Concurrent callers for the same
// identity share one in-flight refresh.
func (m *Manager) EnsureFreshToken(ctx context.Context, id Identity) (string, error) {
	if m.now().Before(id.ExpiresAt.Add(-config.TokenRefreshMargin)) {
		return id.AccessToken, nil
	}

	v, err, _ := m.sf.Do(id.Email, func() (interface{}, error) {
		result, err := m.refresher.Refresh(ctx, id.RefreshToken)
		if err != nil {
			return "", err
		}

		expiresAt := result.ExpiresAt
		refreshToken := result.RefreshToken
		accessToken := result.AccessToken
		if err := m.store.UpdateAccount(ctx, id.Email, store.AccountPatch{
			AccessToken:  &accessToken,
			RefreshToken: &refreshToken,
			ExpiresAt:    &expiresAt,
		}); err != nil {
			return "", err
		}
		return accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// NotifySuccess records a successful call against id for the health-score
// diagnostic. It also touches LastUsedAt in the persistence layer so the
// LRU ordering used by the next GetReadyAccounts call reflects this use.
func (m *Manager) NotifySuccess(ctx context.Context, id Identity) {
	m.health.RecordSuccess(id.Email)
	now := m.now()
	_ = m.store.UpdateAccount(ctx, id.Email, store.AccountPatch{LastUsedAt: &now})
}

// NotifyFailure records a failed call against id for diagnostics.
func (m *Manager) NotifyFailure(id Identity) {
	m.health.RecordFailure(id.Email)
}

// HealthScore exposes id's passively-recovering health score, read-only
// diagnostics that never affect the mandated LRU ordering.
func (m *Manager) HealthScore(email string) float64 {
	return m.health.Score(email)
}
