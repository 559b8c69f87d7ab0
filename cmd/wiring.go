package cmd

import (
	"os"

	"pierrebridge/internal/backend"
	"pierrebridge/internal/backoff"
	"pierrebridge/internal/config"
	"pierrebridge/internal/credentials"
	"pierrebridge/internal/oauth"
	"pierrebridge/internal/tokens"
	"pierrebridge/pkg/logging"
)

// loadConfig loads configuration, applies flag overrides, and
// initializes logging. Logs go to stderr so the stdio transport keeps
// stdout clean for the protocol.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, err
	}

	if flagBackendURL != "" {
		cfg.BackendURL = flagBackendURL
	}
	if flagDebug {
		cfg.Debug = true
	}

	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildStack wires the credential store, OAuth client, token manager,
// and backend client from configuration.
func buildStack(cfg *config.Config) (*credentials.Store, *oauth.Client, *tokens.Manager, *backend.Client, error) {
	store, err := credentials.NewStore(cfg.CredentialsPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	oauthClient := oauth.NewClient(oauth.ClientConfig{
		BackendURL:   cfg.BackendURL,
		CallbackPort: cfg.CallbackPort,
		Store:        store,
	})

	tokenMgr := tokens.NewManager(store, oauthClient)

	backendClient := backend.NewClient(backend.Config{
		BaseURL:     cfg.BackendURL,
		Tokens:      tokenMgr,
		Governor:    backoff.New(backoff.Config{}),
		StaticToken: cfg.BearerToken,
		CallTimeout: cfg.CallTimeout,
	})
	tokenMgr.SetProviderRefresher(backendClient)

	return store, oauthClient, tokenMgr, backendClient, nil
}
