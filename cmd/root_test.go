package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"pierrebridge/internal/oauth"
	"pierrebridge/internal/tokens"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "generic error",
			err:  errors.New("boom"),
			want: ExitCodeError,
		},
		{
			name: "not connected",
			err:  fmt.Errorf("pierre: %w", tokens.ErrNotConnected),
			want: ExitCodeAuthRequired,
		},
		{
			name: "reauth required",
			err:  fmt.Errorf("pierre: %w", tokens.ErrReauthRequired),
			want: ExitCodeAuthRequired,
		},
		{
			name: "authorization failed",
			err:  &oauth.AuthorizationError{Message: "state mismatch", StateMismatch: true},
			want: ExitCodeAuthFailed,
		},
		{
			name: "exchange failed",
			err:  &oauth.TokenExchangeError{StatusCode: 400, Message: "invalid_grant"},
			want: ExitCodeAuthFailed,
		},
		{
			name: "registration failed",
			err:  &oauth.RegistrationError{StatusCode: 400, Message: "invalid_client_metadata"},
			want: ExitCodeAuthFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly-10", truncate("exactly-10", 10))
	assert.Equal(t, "longer ...", truncate("longer than ten", 10))
}
