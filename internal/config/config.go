package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport identifies the inbound transport the bridge listens on.
type Transport string

const (
	// TransportStdio reads newline-delimited JSON-RPC from stdin and
	// writes responses to stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP accepts POSTed JSON-RPC envelopes and
	// returns the response as the HTTP body.
	TransportStreamableHTTP Transport = "streamable-http"

	// TransportSSE is streamable HTTP plus a server-push event stream
	// for notifications.
	TransportSSE Transport = "sse"
)

// Config holds the complete bridge configuration.
type Config struct {
	// BackendURL is the base URL of the Pierre backend, e.g. https://api.pierre.fit.
	BackendURL string `yaml:"backendUrl"`

	// Transport selects the inbound transport. Defaults to stdio.
	Transport Transport `yaml:"transport"`

	// Host and Port bind the HTTP-based transports.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// CallbackPort is the local port used to capture the OAuth redirect.
	CallbackPort int `yaml:"callbackPort"`

	// CredentialsPath is the credential cache file. Defaults to
	// ~/.config/pierre-bridge/credentials.json.
	CredentialsPath string `yaml:"credentialsPath"`

	// BearerToken, when set, bypasses OAuth entirely. Intended for
	// headless and test use.
	BearerToken string `yaml:"bearerToken"`

	// AuthTimeout bounds how long the callback listener waits for the
	// browser redirect before releasing its port.
	AuthTimeout time.Duration `yaml:"authTimeout"`

	// CallTimeout is the per-call timeout for backend tool invocations.
	CallTimeout time.Duration `yaml:"callTimeout"`

	// ConnectBudget bounds the proactive connection attempt at startup.
	ConnectBudget time.Duration `yaml:"connectBudget"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`
}

// Load builds a Config from defaults, an optional YAML file, and
// environment variables, in that order of precedence. Validation is
// the caller's job: flag overrides may still apply on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No config file is fine; env vars and flags take over.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnv(cfg)

	return cfg, nil
}

// applyEnv overlays PIERRE_* environment variables onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PIERRE_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("PIERRE_BEARER_TOKEN"); v != "" {
		cfg.BearerToken = v
	}
	if v := os.Getenv("PIERRE_TRANSPORT"); v != "" {
		cfg.Transport = Transport(v)
	}
	if v := os.Getenv("PIERRE_CREDENTIALS_PATH"); v != "" {
		cfg.CredentialsPath = v
	}
	if v := os.Getenv("PIERRE_CALLBACK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.CallbackPort = port
		}
	}
	if v := os.Getenv("PIERRE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
}

// Validate checks that the configuration is complete enough to start.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend URL is required (set backendUrl or PIERRE_BACKEND_URL)")
	}
	parsed, err := url.Parse(c.BackendURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid backend URL %q", c.BackendURL)
	}

	switch c.Transport {
	case TransportStdio, TransportStreamableHTTP, TransportSSE:
	default:
		return fmt.Errorf("unknown transport %q (expected stdio, streamable-http, or sse)", c.Transport)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	return nil
}

// defaultConfigPath returns the standard config file location.
func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "pierre-bridge", "config.yaml")
}
