package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	return store
}

func TestMissingFileIsNotAnError(t *testing.T) {
	store := newTestStore(t)

	assert.Nil(t, store.PierreToken())
	assert.Nil(t, store.ProviderToken("strava"))
	assert.Nil(t, store.Registration())
}

func TestTokenRoundTrip(t *testing.T) {
	store := newTestStore(t)

	pair := &TokenPair{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		Scope:        "fitness:read",
	}
	require.NoError(t, store.SetPierreToken(pair))

	// A fresh store reads the same record back from disk.
	reopened, err := NewStore(store.Path())
	require.NoError(t, err)

	got := reopened.PierreToken()
	require.NotNil(t, got)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.True(t, pair.ExpiresAt.Equal(got.ExpiresAt))
}

func TestProviderTokensAreIndependent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetProviderToken("strava", &TokenPair{AccessToken: "strava-token"}))
	require.NoError(t, store.SetProviderToken("garmin", &TokenPair{AccessToken: "garmin-token"}))

	require.NoError(t, store.ClearProviderToken("strava"))

	assert.Nil(t, store.ProviderToken("strava"))
	require.NotNil(t, store.ProviderToken("garmin"))
	assert.Equal(t, "garmin-token", store.ProviderToken("garmin").AccessToken)
}

func TestRegistrationOverwrite(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetRegistration(&ClientRegistration{
		ClientID:    "proposed-id",
		RedirectURI: "http://localhost:35535/callback",
	}))

	// Server-assigned values overwrite the proposed ones wholesale.
	require.NoError(t, store.SetRegistration(&ClientRegistration{
		ClientID:     "server-assigned-id",
		ClientSecret: "server-secret",
		RedirectURI:  "http://localhost:35535/callback",
	}))

	reg := store.Registration()
	require.NotNil(t, reg)
	assert.Equal(t, "server-assigned-id", reg.ClientID)
	assert.Equal(t, "server-secret", reg.ClientSecret)
}

func TestFilePermissions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetPierreToken(&TokenPair{AccessToken: "secret"}))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileShape(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetPierreToken(&TokenPair{AccessToken: "a"}))
	require.NoError(t, store.SetProviderToken("fitbit", &TokenPair{AccessToken: "b"}))
	require.NoError(t, store.SetRegistration(&ClientRegistration{ClientID: "c"}))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "pierre")
	assert.Contains(t, raw, "providers")
	assert.Contains(t, raw, "client")
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetPierreToken(&TokenPair{AccessToken: "a"}))
	require.NoError(t, store.SetProviderToken("strava", &TokenPair{AccessToken: "b"}))

	require.NoError(t, store.Clear())

	assert.Nil(t, store.PierreToken())
	assert.Nil(t, store.ProviderToken("strava"))
	assert.Nil(t, store.Registration())
}

func TestWatcherReloadsExternalChange(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetPierreToken(&TokenPair{AccessToken: "before"}))

	reloaded := make(chan struct{}, 1)
	watcher := NewWatcher(store)
	watcher.OnReload = func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	// Simulate another process rewriting the file.
	external, err := NewStore(store.Path())
	require.NoError(t, err)
	require.NoError(t, external.SetPierreToken(&TokenPair{AccessToken: "after"}))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not observe external change")
	}

	got := store.PierreToken()
	require.NotNil(t, got)
	assert.Equal(t, "after", got.AccessToken)
}

func TestIsExpiredWithMargin(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		pair    TokenPair
		expired bool
	}{
		{"no expiry never expires", TokenPair{}, false},
		{"far future", TokenPair{ExpiresAt: now.Add(time.Hour)}, false},
		{"inside margin", TokenPair{ExpiresAt: now.Add(30 * time.Second)}, true},
		{"already expired", TokenPair{ExpiresAt: now.Add(-time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.pair.IsExpiredWithMargin(60*time.Second))
		})
	}
}
