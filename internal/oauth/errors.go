package oauth

import (
	"errors"
	"fmt"
)

// ErrNoFlowInProgress is returned when WaitForCallback is called without
// a preceding StartAuthFlow.
var ErrNoFlowInProgress = errors.New("no auth flow in progress")

// RegistrationError indicates dynamic client registration failed. The
// client remains unregistered.
type RegistrationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("client registration failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("client registration failed: %s", e.Message)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// AuthorizationError indicates the authorization step failed: the
// callback carried an error, timed out, or the state did not match.
type AuthorizationError struct {
	Message       string
	StateMismatch bool
	Err           error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %s", e.Message)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// TokenExchangeError indicates the code-for-token exchange failed.
type TokenExchangeError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("token exchange failed: %s", e.Message)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// RefreshError indicates a refresh attempt failed. TokenRejected is set
// when the refresh token itself was rejected, meaning a full
// re-authentication is required rather than a retry.
type RefreshError struct {
	StatusCode    int
	Message       string
	TokenRejected bool
	Err           error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("token refresh failed: %s", e.Message)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// IsRefreshTokenRejected reports whether err is a RefreshError caused by
// the refresh token itself being invalid or expired.
func IsRefreshTokenRejected(err error) bool {
	var refreshErr *RefreshError
	return errors.As(err, &refreshErr) && refreshErr.TokenRejected
}
