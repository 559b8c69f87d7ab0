package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultHost is the bind address for HTTP-based transports.
	DefaultHost = "localhost"

	// DefaultPort is the listen port for HTTP-based transports.
	DefaultPort = 8351

	// DefaultCallbackPort is the local port for the OAuth redirect capture.
	DefaultCallbackPort = 35535

	// DefaultAuthTimeout bounds the wait for the browser redirect.
	DefaultAuthTimeout = 5 * time.Minute

	// DefaultCallTimeout is the per-call timeout for backend requests.
	DefaultCallTimeout = 30 * time.Second

	// DefaultConnectBudget bounds the proactive connection attempt at
	// startup so the first catalog request does not race it.
	DefaultConnectBudget = 1 * time.Second
)

// Default returns a Config populated with defaults. BackendURL has no
// default; it must come from the config file, environment, or flags.
func Default() *Config {
	return &Config{
		Transport:       TransportStdio,
		Host:            DefaultHost,
		Port:            DefaultPort,
		CallbackPort:    DefaultCallbackPort,
		CredentialsPath: defaultCredentialsPath(),
		AuthTimeout:     DefaultAuthTimeout,
		CallTimeout:     DefaultCallTimeout,
		ConnectBudget:   DefaultConnectBudget,
	}
}

// defaultCredentialsPath returns the standard credential cache location.
func defaultCredentialsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "credentials.json"
	}
	return filepath.Join(homeDir, ".config", "pierre-bridge", "credentials.json")
}
