package oauth

import (
	"time"

	"pierrebridge/internal/credentials"
)

// FlowState tracks where the OAuth client is in its state machine.
type FlowState string

const (
	StateUnregistered  FlowState = "unregistered"
	StateRegistered    FlowState = "registered"
	StateAuthorizing   FlowState = "authorizing"
	StateExchanging    FlowState = "exchanging"
	StateAuthenticated FlowState = "authenticated"
)

// registrationRequest is the dynamic client registration payload
// (RFC 7591 subset the backend accepts).
type registrationRequest struct {
	ClientName    string   `json:"client_name"`
	RedirectURIs  []string `json:"redirect_uris"`
	GrantTypes    []string `json:"grant_types"`
	ResponseTypes []string `json:"response_types"`
	Scope         string   `json:"scope,omitempty"`
}

// registrationResponse is the backend's registration result. The
// server-assigned client_id wins over anything proposed locally.
type registrationResponse struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	Error        string   `json:"error,omitempty"`
	ErrorDesc    string   `json:"error_description,omitempty"`
}

// tokenResponse is the standard OAuth 2.0 token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

// toTokenPair converts a token response to a stored pair, computing the
// absolute expiry at save time.
func (r *tokenResponse) toTokenPair() *credentials.TokenPair {
	pair := &credentials.TokenPair{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Scope:        r.Scope,
	}
	if r.ExpiresIn > 0 {
		pair.ExpiresAt = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return pair
}

// ValidateRefreshStatus values returned by the validate-and-refresh
// convenience endpoint.
const (
	ValidateStatusValid   = "valid"
	ValidateStatusInvalid = "invalid"
)

// validateRefreshRequest is the validate-and-refresh payload.
type validateRefreshRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ValidateRefreshResponse is the validate-and-refresh result. When the
// backend refreshed the pair, the new tokens ride along.
type ValidateRefreshResponse struct {
	Status       string `json:"status"`
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Refreshed reports whether the response carries a replacement token pair.
func (r *ValidateRefreshResponse) Refreshed() bool {
	return r.AccessToken != ""
}

// TokenPair converts the refreshed response to a stored pair.
func (r *ValidateRefreshResponse) TokenPair() *credentials.TokenPair {
	resp := tokenResponse{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		ExpiresIn:    r.ExpiresIn,
		RefreshToken: r.RefreshToken,
		Scope:        r.Scope,
	}
	return resp.toTokenPair()
}
