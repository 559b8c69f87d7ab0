package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"pierrebridge/internal/oauth"
	"pierrebridge/internal/tokens"
)

// Exit codes for CLI commands. These follow common conventions so
// scripts can distinguish auth problems from general failures.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

// Persistent flags shared across subcommands.
var (
	flagConfigPath string
	flagBackendURL string
	flagDebug      bool
)

// rootCmd is the base command for the pierre-bridge application.
var rootCmd = &cobra.Command{
	Use:   "pierre-bridge",
	Short: "Bridge AI assistants to the Pierre fitness server",
	Long: `pierre-bridge exposes the Pierre Fitness Server's tools to AI
assistants over the Model Context Protocol. It handles OAuth
authentication, token refresh, and tool catalog synchronization so the
assistant only sees a plain MCP server.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build
// time from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "pierre-bridge version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error types to semantic exit codes.
func getExitCode(err error) int {
	if errors.Is(err, tokens.ErrNotConnected) || errors.Is(err, tokens.ErrReauthRequired) {
		return ExitCodeAuthRequired
	}

	var authErr *oauth.AuthorizationError
	if errors.As(err, &authErr) {
		return ExitCodeAuthFailed
	}
	var exchangeErr *oauth.TokenExchangeError
	if errors.As(err, &exchangeErr) {
		return ExitCodeAuthFailed
	}
	var regErr *oauth.RegistrationError
	if errors.As(err, &regErr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagBackendURL, "backend-url", "", "Pierre backend base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}
