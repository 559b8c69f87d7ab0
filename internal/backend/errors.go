package backend

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError reports a 429 from the backend along with the parsed
// Retry-After hint, zero when the backend sent none.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// AuthError reports an authentication failure (401 or 403) from the
// backend. The client retries exactly once after invalidating the token;
// a second failure surfaces this error unmodified.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("backend rejected credentials (status %d)", e.StatusCode)
}

// RPCError is a JSON-RPC error object returned by the backend.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsAuthError reports whether err is an authentication rejection.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
