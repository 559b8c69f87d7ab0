package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pierrebridge/internal/credentials"
)

// fakeBackend is a minimal OAuth authorization server for tests.
type fakeBackend struct {
	server *httptest.Server

	registrations int
	refreshCalls  int

	// rejectRefresh makes the token endpoint reject refresh grants
	// with invalid_grant.
	rejectRefresh bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/register", func(w http.ResponseWriter, r *http.Request) {
		fb.registrations++
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client_metadata"})
			return
		}
		if _, ok := req["redirect_uris"]; !ok {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_client_metadata",
				"error_description": "redirect_uris is required",
			})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"client_id":     "server-assigned-client",
			"client_secret": "server-secret",
		})
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "valid-code" || r.Form.Get("code_verifier") == "" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "access-from-code",
				"token_type":    "Bearer",
				"expires_in":    3600,
				"refresh_token": "refresh-1",
				"scope":         DefaultScope,
			})
		case "refresh_token":
			fb.refreshCalls++
			if fb.rejectRefresh {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  fmt.Sprintf("refreshed-%d", fb.refreshCalls),
				"token_type":    "Bearer",
				"expires_in":    3600,
				"refresh_token": "refresh-2",
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
		}
	})
	mux.HandleFunc("/oauth2/validate-and-refresh", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["access_token"] == "stale-token" && req["refresh_token"] != "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":       "valid",
				"access_token": "rotated-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
			return
		}
		if req["access_token"] == "dead-token" {
			json.NewEncoder(w).Encode(map[string]string{"status": "invalid"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "valid"})
	})

	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func newTestClient(t *testing.T, backendURL string) (*Client, *credentials.Store) {
	t.Helper()
	store, err := credentials.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	client := NewClient(ClientConfig{
		BackendURL:   backendURL,
		CallbackPort: 0,
		Store:        store,
	})
	t.Cleanup(func() { client.Close() })
	return client, store
}

func TestEnsureRegistered(t *testing.T) {
	backend := newFakeBackend(t)
	client, store := newTestClient(t, backend.server.URL)

	reg, err := client.EnsureRegistered(context.Background())
	require.NoError(t, err)

	// The server-assigned identity wins and is persisted.
	assert.Equal(t, "server-assigned-client", reg.ClientID)
	assert.Equal(t, "server-secret", reg.ClientSecret)
	require.NotNil(t, store.Registration())
	assert.Equal(t, "server-assigned-client", store.Registration().ClientID)

	// Registration is reused, not repeated.
	_, err = client.EnsureRegistered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.registrations)
}

func TestRegistrationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_client_metadata",
			"error_description": "redirect_uris is required",
		})
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL)

	_, err := client.EnsureRegistered(context.Background())
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusBadRequest, regErr.StatusCode)
	assert.Nil(t, store.Registration(), "failed registration must not persist anything")
	assert.Equal(t, StateUnregistered, client.State())
}

// completeCallback simulates the browser hitting the redirect URI.
func completeCallback(t *testing.T, authURL string, overrideState, code string) {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	query := parsed.Query()
	redirectURI := query.Get("redirect_uri")
	state := query.Get("state")
	if overrideState != "" {
		state = overrideState
	}

	params := url.Values{"code": {code}, "state": {state}}
	resp, err := http.Get(redirectURI + "?" + params.Encode())
	require.NoError(t, err)
	resp.Body.Close()
}

func TestAuthFlowHappyPath(t *testing.T) {
	backend := newFakeBackend(t)
	client, store := newTestClient(t, backend.server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	authURL, err := client.StartAuthFlow(ctx)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("code_challenge"))
	assert.GreaterOrEqual(t, len(query.Get("state")), 20)
	assert.Equal(t, "server-assigned-client", query.Get("client_id"))

	go completeCallback(t, authURL, "", "valid-code")

	pair, err := client.WaitForCallback(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-from-code", pair.AccessToken)
	assert.Equal(t, "refresh-1", pair.RefreshToken)
	assert.False(t, pair.ExpiresAt.IsZero(), "expiry must be absolute")

	stored := store.PierreToken()
	require.NotNil(t, stored)
	assert.Equal(t, "access-from-code", stored.AccessToken)
	assert.Equal(t, StateAuthenticated, client.State())
}

func TestAuthFlowStateMismatch(t *testing.T) {
	backend := newFakeBackend(t)
	client, store := newTestClient(t, backend.server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	authURL, err := client.StartAuthFlow(ctx)
	require.NoError(t, err)

	go completeCallback(t, authURL, "attacker-controlled-state", "valid-code")

	_, err = client.WaitForCallback(ctx)
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.StateMismatch)
	assert.Nil(t, store.PierreToken(), "no token stored after state mismatch")
}

func TestAuthFlowServerDenied(t *testing.T) {
	backend := newFakeBackend(t)
	client, store := newTestClient(t, backend.server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	authURL, err := client.StartAuthFlow(ctx)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()
	params := url.Values{
		"error": {"access_denied"},
		"state": {query.Get("state")},
	}
	go func() {
		resp, err := http.Get(query.Get("redirect_uri") + "?" + params.Encode())
		if err == nil {
			resp.Body.Close()
		}
	}()

	_, err = client.WaitForCallback(ctx)
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "access_denied")
	assert.Nil(t, store.PierreToken())
}

func TestRefresh(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend.server.URL)

	_, err := client.EnsureRegistered(context.Background())
	require.NoError(t, err)

	pair, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", pair.AccessToken)
	assert.Equal(t, "refresh-2", pair.RefreshToken)
	assert.False(t, pair.ExpiresAt.IsZero())
}

func TestRefreshTokenRejected(t *testing.T) {
	backend := newFakeBackend(t)
	backend.rejectRefresh = true
	client, _ := newTestClient(t, backend.server.URL)

	_, err := client.EnsureRegistered(context.Background())
	require.NoError(t, err)

	_, err = client.Refresh(context.Background(), "expired-refresh")
	require.Error(t, err)
	assert.True(t, IsRefreshTokenRejected(err))
}

func TestValidateAndRefresh(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend.server.URL)

	t.Run("still valid", func(t *testing.T) {
		resp, err := client.ValidateAndRefresh(context.Background(), &credentials.TokenPair{
			AccessToken: "live-token",
		})
		require.NoError(t, err)
		assert.Equal(t, ValidateStatusValid, resp.Status)
		assert.False(t, resp.Refreshed())
	})

	t.Run("rotated", func(t *testing.T) {
		resp, err := client.ValidateAndRefresh(context.Background(), &credentials.TokenPair{
			AccessToken:  "stale-token",
			RefreshToken: "refresh-1",
		})
		require.NoError(t, err)
		assert.Equal(t, ValidateStatusValid, resp.Status)
		require.True(t, resp.Refreshed())
		assert.Equal(t, "rotated-token", resp.TokenPair().AccessToken)
	})

	t.Run("invalid", func(t *testing.T) {
		resp, err := client.ValidateAndRefresh(context.Background(), &credentials.TokenPair{
			AccessToken: "dead-token",
		})
		require.NoError(t, err)
		assert.Equal(t, ValidateStatusInvalid, resp.Status)
	})
}
