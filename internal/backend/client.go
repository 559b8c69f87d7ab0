package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"pierrebridge/internal/backoff"
	"pierrebridge/internal/credentials"
	"pierrebridge/internal/oauth"
	"pierrebridge/internal/tokens"
	"pierrebridge/pkg/logging"
)

// DefaultCallTimeout bounds a single backend call including the one
// silent retry. Distinct from the backoff cap.
const DefaultCallTimeout = 30 * time.Second

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// callToolParams is the tools/call parameter shape.
type callToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// providerRefreshResponse is the backend's provider token refresh reply.
type providerRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Config configures the backend client.
type Config struct {
	// BaseURL is the backend base URL.
	BaseURL string

	// Tokens resolves bearer tokens per scope.
	Tokens *tokens.Manager

	// Governor paces retries after rate limiting.
	Governor *backoff.Governor

	// StaticToken bypasses the token manager when set. Used for
	// pre-provisioned deployments without the OAuth flow.
	StaticToken string

	// CallTimeout bounds a single call. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// Client speaks JSON-RPC to the backend tool endpoint with bearer
// authentication. An auth failure mid-call triggers exactly one silent
// token refresh and retry; the second failure surfaces unmodified.
type Client struct {
	baseURL     string
	tokens      *tokens.Manager
	governor    *backoff.Governor
	staticToken string
	callTimeout time.Duration
	httpClient  *http.Client
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	governor := cfg.Governor
	if governor == nil {
		governor = backoff.New(backoff.Config{})
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:      cfg.Tokens,
		governor:    governor,
		staticToken: cfg.StaticToken,
		callTimeout: callTimeout,
		httpClient:  httpClient,
	}
}

// FetchCatalog lists the tools the backend exposes for the
// authenticated user.
func (c *Client) FetchCatalog(ctx context.Context) ([]mcp.Tool, error) {
	raw, err := c.rpc(ctx, tokens.ScopePierre, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool forwards a tool invocation to the backend under the given
// scope's bearer token.
func (c *Client) CallTool(ctx context.Context, scope, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	raw, err := c.rpc(ctx, scope, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	rawMsg := json.RawMessage(raw)
	result, err := mcp.ParseCallToolResult(&rawMsg)
	if err != nil {
		return nil, fmt.Errorf("malformed tools/call result: %w", err)
	}
	return result, nil
}

// ConnectionStatus asks the backend which fitness providers the user
// has connected.
func (c *Client) ConnectionStatus(ctx context.Context) (*mcp.CallToolResult, error) {
	return c.CallTool(ctx, tokens.ScopePierre, "get_connection_status", nil)
}

// Health probes the backend health endpoint without authentication.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// RefreshProviderToken refreshes a fitness provider token through the
// backend, which holds the provider client secrets. Implements
// tokens.ProviderRefresher.
func (c *Client) RefreshProviderToken(ctx context.Context, provider string, pair *credentials.TokenPair) (*credentials.TokenPair, error) {
	body, err := json.Marshal(map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	token, err := c.tokenFor(ctx, tokens.ScopePierre)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/oauth/refresh/%s", c.baseURL, provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The backend rejected the provider credential itself.
		return nil, &oauth.RefreshError{
			StatusCode:    resp.StatusCode,
			Message:       fmt.Sprintf("%s refresh rejected", provider),
			TokenRejected: true,
		}
	default:
		return nil, fmt.Errorf("provider refresh failed with status %d", resp.StatusCode)
	}

	var refreshResp providerRefreshResponse
	if err := json.Unmarshal(respBody, &refreshResp); err != nil {
		return nil, fmt.Errorf("malformed provider refresh response: %w", err)
	}

	fresh := &credentials.TokenPair{
		AccessToken:  refreshResp.AccessToken,
		RefreshToken: refreshResp.RefreshToken,
		TokenType:    refreshResp.TokenType,
		Scope:        refreshResp.Scope,
	}
	if refreshResp.ExpiresIn > 0 {
		fresh.ExpiresAt = time.Now().Add(time.Duration(refreshResp.ExpiresIn) * time.Second)
	}
	return fresh, nil
}

// rpc posts a JSON-RPC request to the backend tool endpoint. On an auth
// failure it invalidates the scope's token and retries once; on a rate
// limit it waits out the governor's interval (bounded by the call
// timeout) and retries once.
func (c *Client) rpc(ctx context.Context, scope, method string, params interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := c.rpcOnce(ctx, scope, method, params)

	if IsAuthError(err) {
		logging.Debug("Backend", "Auth failure on %s for %s, refreshing and retrying once", method, scope)
		c.invalidate(scope)
		result, err = c.rpcOnce(ctx, scope, method, params)
	}

	var rl *RateLimitedError
	if errors.As(err, &rl) {
		if waitErr := c.governor.Wait(ctx, scope, method, rl.RetryAfter); waitErr != nil {
			return nil, err
		}
		result, err = c.rpcOnce(ctx, scope, method, params)
	}

	if err == nil {
		c.governor.Success(scope, method)
	}
	return result, err
}

// rpcOnce performs a single JSON-RPC round trip.
func (c *Client) rpcOnce(ctx context.Context, scope, method string, params interface{}) (json.RawMessage, error) {
	token, err := c.tokenFor(ctx, scope)
	if err != nil {
		return nil, err
	}

	envelope := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("malformed backend response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// tokenFor resolves the bearer token for a scope.
func (c *Client) tokenFor(ctx context.Context, scope string) (string, error) {
	if c.staticToken != "" {
		return c.staticToken, nil
	}
	return c.tokens.Valid(ctx, scope)
}

func (c *Client) invalidate(scope string) {
	if c.staticToken != "" || c.tokens == nil {
		return
	}
	c.tokens.Invalidate(scope)
}

// parseRetryAfter handles both delay-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
