package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"pierrebridge/internal/credentials"
	"pierrebridge/pkg/logging"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
const DefaultHTTPTimeout = 30 * time.Second

// DefaultScope is the scope requested during authorization.
const DefaultScope = "fitness:read fitness:write"

// clientName is the display name sent during dynamic registration.
const clientName = "Pierre Bridge"

// authFlow is an in-progress authorization flow.
type authFlow struct {
	pkce           *PKCEChallenge
	state          string
	callbackServer *CallbackServer
	redirectURI    string
	startedAt      time.Time
}

// Client performs dynamic registration, PKCE authorization, and token
// exchange against the backend without any pre-shared secret. It never
// retries on its own; retry policy belongs to the token manager.
type Client struct {
	mu           sync.Mutex
	backendURL   string
	callbackPort int
	httpClient   *http.Client
	store        *credentials.Store
	currentFlow  *authFlow
	flowState    FlowState
}

// ClientConfig configures the OAuth client.
type ClientConfig struct {
	// BackendURL is the backend base URL.
	BackendURL string

	// CallbackPort is the local port for the redirect capture.
	CallbackPort int

	// Store persists tokens and the client registration.
	Store *credentials.Store

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// NewClient creates an OAuth client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	state := StateUnregistered
	if cfg.Store.Registration() != nil {
		state = StateRegistered
	}
	if cfg.Store.PierreToken() != nil {
		state = StateAuthenticated
	}

	return &Client{
		backendURL:   strings.TrimSuffix(cfg.BackendURL, "/"),
		callbackPort: cfg.CallbackPort,
		httpClient:   httpClient,
		store:        cfg.Store,
		flowState:    state,
	}
}

// State returns the current flow state.
func (c *Client) State() FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flowState
}

// EnsureRegistered performs dynamic client registration unless a
// registration is already persisted. The server-assigned client_id and
// client_secret overwrite, never merge with, any local values.
func (c *Client) EnsureRegistered(ctx context.Context) (*credentials.ClientRegistration, error) {
	if reg := c.store.Registration(); reg != nil {
		return reg, nil
	}

	redirectURI := fmt.Sprintf("http://localhost:%d/callback", c.callbackPort)
	reqBody := registrationRequest{
		ClientName:    clientName,
		RedirectURIs:  []string{redirectURI},
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		Scope:         DefaultScope,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &RegistrationError{Message: "failed to encode registration request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+"/oauth2/register", bytes.NewReader(body))
	if err != nil {
		return nil, &RegistrationError{Message: "failed to create registration request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RegistrationError{Message: "registration request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RegistrationError{Message: "failed to read registration response", Err: err}
	}

	var regResp registrationResponse
	if err := json.Unmarshal(respBody, &regResp); err != nil {
		return nil, &RegistrationError{StatusCode: resp.StatusCode, Message: "malformed registration response", Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := regResp.ErrorDesc
		if msg == "" {
			msg = regResp.Error
		}
		if msg == "" {
			msg = string(respBody)
		}
		return nil, &RegistrationError{StatusCode: resp.StatusCode, Message: msg}
	}

	if regResp.ClientID == "" {
		return nil, &RegistrationError{StatusCode: resp.StatusCode, Message: "registration response missing client_id"}
	}

	reg := &credentials.ClientRegistration{
		ClientID:     regResp.ClientID,
		ClientSecret: regResp.ClientSecret,
		RedirectURI:  redirectURI,
	}
	if err := c.store.SetRegistration(reg); err != nil {
		return nil, &RegistrationError{Message: "failed to persist registration", Err: err}
	}

	c.mu.Lock()
	c.flowState = StateRegistered
	c.mu.Unlock()

	logging.Info("OAuth", "Registered client %s with backend", reg.ClientID)
	return reg, nil
}

// StartAuthFlow registers if needed, generates state and PKCE, starts
// the local callback listener, and returns the authorization URL to
// open in a browser. The listener releases its port when ctx expires.
func (c *Client) StartAuthFlow(ctx context.Context) (string, error) {
	reg, err := c.EnsureRegistered(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelCurrentFlowLocked()

	pkce, err := GeneratePKCE()
	if err != nil {
		return "", &AuthorizationError{Message: "failed to generate PKCE challenge", Err: err}
	}

	state, err := GenerateState()
	if err != nil {
		return "", &AuthorizationError{Message: "failed to generate state", Err: err}
	}

	callbackServer := NewCallbackServer(c.callbackPort)
	redirectURI, err := callbackServer.Start(ctx)
	if err != nil {
		return "", &AuthorizationError{Message: "failed to start callback listener", Err: err}
	}

	c.currentFlow = &authFlow{
		pkce:           pkce,
		state:          state,
		callbackServer: callbackServer,
		redirectURI:    redirectURI,
		startedAt:      time.Now(),
	}
	c.flowState = StateAuthorizing

	conf := &oauth2.Config{
		ClientID:    reg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      strings.Fields(DefaultScope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.backendURL + "/oauth2/authorize",
			TokenURL: c.backendURL + "/oauth2/token",
		},
	}
	authURL := conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.CodeChallengeMethod),
	)

	return authURL, nil
}

// WaitForCallback blocks until the redirect arrives, verifies the state
// parameter exactly, exchanges the code, and stores the backend token
// pair. A state mismatch is rejected unconditionally.
func (c *Client) WaitForCallback(ctx context.Context) (*credentials.TokenPair, error) {
	c.mu.Lock()
	flow := c.currentFlow
	c.mu.Unlock()

	if flow == nil {
		return nil, ErrNoFlowInProgress
	}

	result, err := flow.callbackServer.WaitForCallback(ctx)
	if err != nil {
		c.abandonFlow()
		return nil, &AuthorizationError{Message: "callback wait failed", Err: err}
	}

	if result.State != flow.state {
		logging.Warn("OAuth", "State mismatch on callback (possible CSRF), rejecting")
		c.abandonFlow()
		return nil, &AuthorizationError{Message: "state mismatch", StateMismatch: true}
	}

	if result.IsError() {
		c.abandonFlow()
		msg := result.Error
		if result.ErrorDescription != "" {
			msg = fmt.Sprintf("%s: %s", result.Error, result.ErrorDescription)
		}
		return nil, &AuthorizationError{Message: msg}
	}

	c.mu.Lock()
	c.flowState = StateExchanging
	c.mu.Unlock()

	pair, err := c.exchangeCode(ctx, flow, result.Code)
	if err != nil {
		c.abandonFlow()
		return nil, err
	}

	if err := c.store.SetPierreToken(pair); err != nil {
		c.abandonFlow()
		return nil, &TokenExchangeError{Message: "failed to persist token", Err: err}
	}

	c.mu.Lock()
	c.cancelCurrentFlowLocked()
	c.flowState = StateAuthenticated
	c.mu.Unlock()

	logging.Info("OAuth", "Authentication complete")
	return pair, nil
}

// exchangeCode trades the authorization code plus verifier for tokens.
func (c *Client) exchangeCode(ctx context.Context, flow *authFlow, code string) (*credentials.TokenPair, error) {
	reg := c.store.Registration()
	if reg == nil {
		return nil, &TokenExchangeError{Message: "client registration missing"}
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {flow.redirectURI},
		"code_verifier": {flow.pkce.CodeVerifier},
		"client_id":     {reg.ClientID},
	}
	if reg.ClientSecret != "" {
		data.Set("client_secret", reg.ClientSecret)
	}

	tokenResp, status, err := c.postTokenEndpoint(ctx, data)
	if err != nil {
		return nil, &TokenExchangeError{StatusCode: status, Message: "token request failed", Err: err}
	}
	if status != http.StatusOK {
		msg := tokenResp.ErrorDesc
		if msg == "" {
			msg = tokenResp.Error
		}
		return nil, &TokenExchangeError{StatusCode: status, Message: msg}
	}

	return tokenResp.toTokenPair(), nil
}

// Refresh exchanges a refresh token for a new pair. On rejection of the
// refresh token itself (invalid_grant or a 4xx) the error carries
// TokenRejected so the caller clears the credential instead of retrying.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*credentials.TokenPair, error) {
	reg := c.store.Registration()
	if reg == nil {
		return nil, &RefreshError{Message: "client registration missing", TokenRejected: true}
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {reg.ClientID},
	}
	if reg.ClientSecret != "" {
		data.Set("client_secret", reg.ClientSecret)
	}

	tokenResp, status, err := c.postTokenEndpoint(ctx, data)
	if err != nil {
		return nil, &RefreshError{StatusCode: status, Message: "refresh request failed", Err: err}
	}
	if status != http.StatusOK {
		msg := tokenResp.ErrorDesc
		if msg == "" {
			msg = tokenResp.Error
		}
		rejected := tokenResp.Error == "invalid_grant" || (status >= 400 && status < 500)
		return nil, &RefreshError{StatusCode: status, Message: msg, TokenRejected: rejected}
	}

	return tokenResp.toTokenPair(), nil
}

// postTokenEndpoint sends a form-encoded request to /oauth2/token.
func (c *Client) postTokenEndpoint(ctx context.Context, data url.Values) (*tokenResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+"/oauth2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("malformed token response: %w", err)
	}

	return &tokenResp, resp.StatusCode, nil
}

// ValidateAndRefresh asks the backend whether the stored pair is still
// valid, accepting refreshed tokens when the backend rotated them. Used
// for the proactive connection attempt at startup.
func (c *Client) ValidateAndRefresh(ctx context.Context, pair *credentials.TokenPair) (*ValidateRefreshResponse, error) {
	reqBody := validateRefreshRequest{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode validate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+"/oauth2/validate-and-refresh", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validate-and-refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validate-and-refresh failed with status %d", resp.StatusCode)
	}

	var vr ValidateRefreshResponse
	if err := json.Unmarshal(respBody, &vr); err != nil {
		return nil, fmt.Errorf("malformed validate-and-refresh response: %w", err)
	}

	return &vr, nil
}

// abandonFlow tears down the current flow.
func (c *Client) abandonFlow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCurrentFlowLocked()
}

// cancelCurrentFlowLocked stops the callback listener and clears the
// flow. Caller must hold c.mu.
func (c *Client) cancelCurrentFlowLocked() {
	if c.currentFlow != nil {
		if c.currentFlow.callbackServer != nil {
			c.currentFlow.callbackServer.Stop()
		}
		c.currentFlow = nil
	}
	if c.flowState == StateAuthorizing || c.flowState == StateExchanging {
		if c.store.Registration() != nil {
			c.flowState = StateRegistered
		} else {
			c.flowState = StateUnregistered
		}
	}
}

// Close tears down any in-flight flow.
func (c *Client) Close() error {
	c.abandonFlow()
	return nil
}
