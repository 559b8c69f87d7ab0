package credentials

import (
	"time"
)

// TokenPair is a stored OAuth token pair. ExpiresAt is always absolute;
// it is computed from the token response's expires_in at save time so a
// process restart cannot misinterpret a relative duration.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// IsExpiredWithMargin reports whether the access token has expired or
// will expire within the margin. Tokens without an expiry never expire.
func (t *TokenPair) IsExpiredWithMargin(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// ClientRegistration is the OAuth client identity obtained via dynamic
// registration. It is persisted so repeated registration is avoided
// across restarts.
type ClientRegistration struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURI  string `json:"redirect_uri"`
}

// File is the on-disk credential record. Absence of the file is the
// valid "never authenticated" state.
type File struct {
	// Pierre is the backend token pair.
	Pierre *TokenPair `json:"pierre,omitempty"`

	// Providers holds per-provider token pairs keyed by provider name
	// ("strava", "garmin", "fitbit").
	Providers map[string]*TokenPair `json:"providers,omitempty"`

	// Client is the dynamic client registration.
	Client *ClientRegistration `json:"client,omitempty"`
}
