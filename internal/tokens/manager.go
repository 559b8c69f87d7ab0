package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pierrebridge/internal/credentials"
	"pierrebridge/internal/oauth"
	"pierrebridge/pkg/logging"
)

// ScopePierre identifies the backend token as opposed to a provider token.
const ScopePierre = "pierre"

// DefaultRefreshMargin is how long before expiry a token is treated as
// stale and refreshed ahead of use.
const DefaultRefreshMargin = 60 * time.Second

// ErrNotConnected indicates no credential exists for the requested scope.
var ErrNotConnected = errors.New("not connected")

// ErrReauthRequired indicates the refresh token was rejected and the
// stored credential has been cleared. The user must authorize again.
var ErrReauthRequired = errors.New("reauthorization required")

// PierreRefresher exchanges a refresh token for a new backend token pair.
type PierreRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*credentials.TokenPair, error)
}

// ProviderRefresher refreshes a fitness provider token through the
// backend, which holds the provider client secrets.
type ProviderRefresher interface {
	RefreshProviderToken(ctx context.Context, provider string, pair *credentials.TokenPair) (*credentials.TokenPair, error)
}

// Manager hands out valid access tokens per scope, refreshing stale ones
// behind a singleflight so concurrent callers share one network call.
type Manager struct {
	store  *credentials.Store
	pierre PierreRefresher
	margin time.Duration
	group  singleflight.Group

	mu       sync.RWMutex
	provider ProviderRefresher
	stale    map[string]bool
}

// NewManager creates a token manager. The provider refresher is wired
// later via SetProviderRefresher because the backend client that
// implements it needs this manager for its own bearer tokens.
func NewManager(store *credentials.Store, pierre PierreRefresher) *Manager {
	return &Manager{
		store:  store,
		pierre: pierre,
		margin: DefaultRefreshMargin,
		stale:  make(map[string]bool),
	}
}

// SetProviderRefresher wires the backend-side provider token refresh.
func (m *Manager) SetProviderRefresher(r ProviderRefresher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider = r
}

// Valid returns an access token for the scope, refreshing it first when
// it expires within the margin. Scope is ScopePierre or a provider name.
func (m *Manager) Valid(ctx context.Context, scope string) (string, error) {
	pair := m.lookup(scope)
	if pair == nil {
		return "", fmt.Errorf("%s: %w", scope, ErrNotConnected)
	}

	if !pair.IsExpiredWithMargin(m.margin) && !m.isStale(scope) {
		return pair.AccessToken, nil
	}

	refreshed, err, _ := m.group.Do(scope, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have
		// already refreshed and persisted a fresh pair.
		current := m.lookup(scope)
		if current == nil {
			return nil, fmt.Errorf("%s: %w", scope, ErrNotConnected)
		}
		if !current.IsExpiredWithMargin(m.margin) && !m.isStale(scope) {
			return current, nil
		}
		return m.refresh(ctx, scope, current)
	})
	if err != nil {
		return "", err
	}

	return refreshed.(*credentials.TokenPair).AccessToken, nil
}

// Invalidate forces the next Valid call for the scope to refresh, used
// by the backend client for its single silent retry after a 401.
func (m *Manager) Invalidate(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale[scope] = true
}

func (m *Manager) isStale(scope string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale[scope]
}

func (m *Manager) clearStale(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stale, scope)
}

// Connected reports whether a credential exists for the scope.
func (m *Manager) Connected(scope string) bool {
	return m.lookup(scope) != nil
}

// Disconnect removes the stored credential for the scope.
func (m *Manager) Disconnect(scope string) error {
	if scope == ScopePierre {
		return m.store.ClearPierreToken()
	}
	return m.store.ClearProviderToken(scope)
}

func (m *Manager) lookup(scope string) *credentials.TokenPair {
	if scope == ScopePierre {
		return m.store.PierreToken()
	}
	return m.store.ProviderToken(scope)
}

func (m *Manager) persist(scope string, pair *credentials.TokenPair) error {
	if scope == ScopePierre {
		return m.store.SetPierreToken(pair)
	}
	return m.store.SetProviderToken(scope, pair)
}

func (m *Manager) clear(scope string) error {
	if scope == ScopePierre {
		return m.store.ClearPierreToken()
	}
	return m.store.ClearProviderToken(scope)
}

// refresh performs the scope-appropriate refresh and persists the result.
// A rejected refresh token clears that scope only and maps to
// ErrReauthRequired; other scopes keep their credentials.
func (m *Manager) refresh(ctx context.Context, scope string, current *credentials.TokenPair) (*credentials.TokenPair, error) {
	var (
		fresh *credentials.TokenPair
		err   error
	)
	if scope == ScopePierre {
		fresh, err = m.pierre.Refresh(ctx, current.RefreshToken)
	} else {
		m.mu.RLock()
		refresher := m.provider
		m.mu.RUnlock()
		if refresher == nil {
			return nil, fmt.Errorf("no provider refresher configured for %s", scope)
		}
		fresh, err = refresher.RefreshProviderToken(ctx, scope, current)
	}
	if err != nil {
		if oauth.IsRefreshTokenRejected(err) {
			logging.Warn("Tokens", "Refresh token for %s rejected, clearing credential", scope)
			if clearErr := m.clear(scope); clearErr != nil {
				logging.Error("Tokens", clearErr, "Failed to clear credential for %s", scope)
			}
			return nil, fmt.Errorf("%s: %w", scope, ErrReauthRequired)
		}
		return nil, fmt.Errorf("refreshing %s token: %w", scope, err)
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}
	if err := m.persist(scope, fresh); err != nil {
		return nil, fmt.Errorf("persisting refreshed %s token: %w", scope, err)
	}
	m.clearStale(scope)

	logging.Debug("Tokens", "Refreshed %s token, expires %s", scope, fresh.ExpiresAt.Format(time.RFC3339))
	return fresh, nil
}
