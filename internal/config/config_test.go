package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PIERRE_BACKEND_URL", "https://api.pierre.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.pierre.example", cfg.BackendURL)
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout)
	assert.Equal(t, 1*time.Second, cfg.ConnectBudget)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
backendUrl: https://pierre.internal:8443
transport: sse
port: 9100
callbackPort: 41000
debug: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://pierre.internal:8443", cfg.BackendURL)
	assert.Equal(t, TransportSSE, cfg.Transport)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 41000, cfg.CallbackPort)
	assert.True(t, cfg.Debug)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backendUrl: https://from-file.example\n"), 0o600))

	t.Setenv("PIERRE_BACKEND_URL", "https://from-env.example")
	t.Setenv("PIERRE_BEARER_TOKEN", "test-token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://from-env.example", cfg.BackendURL)
	assert.Equal(t, "test-token", cfg.BearerToken)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing backend URL",
			mutate:  func(c *Config) { c.BackendURL = "" },
			wantErr: "backend URL is required",
		},
		{
			name:    "malformed backend URL",
			mutate:  func(c *Config) { c.BackendURL = "not a url" },
			wantErr: "invalid backend URL",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Transport = "websocket" },
			wantErr: "unknown transport",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Port = -1 },
			wantErr: "invalid port",
		},
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.BackendURL = "https://api.pierre.example"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
