package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"pierrebridge/internal/oauth"
)

var loginNoBrowser bool

// authLoginCmd runs the OAuth flow standalone, outside a bridge session.
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the Pierre backend",
	Long: `Authenticate with the Pierre backend using the browser-based OAuth flow.

The command registers the bridge as an OAuth client if needed, opens the
authorization page in your browser, and waits for the redirect. The
resulting tokens are stored in the credential file, where a running
bridge picks them up automatically.

Examples:
  pierre-bridge auth login
  pierre-bridge auth login --no-browser   # print the URL instead of opening it`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, oauthClient, _, _, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer oauthClient.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.AuthTimeout)
	defer cancel()

	authURL, err := oauthClient.StartAuthFlow(ctx)
	if err != nil {
		return err
	}

	if loginNoBrowser {
		fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorize:\n\n  %s\n\n", authURL)
	} else if err := oauth.OpenBrowser(authURL); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Could not open a browser (%v).\nOpen this URL to authorize:\n\n  %s\n\n", err, authURL)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for authorization in the browser..."
	s.Start()

	pair, err := oauthClient.WaitForCallback(ctx)
	s.Stop()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), text.FgRed.Sprint("Authentication failed"))
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), text.FgGreen.Sprint("Authenticated with Pierre"))
	if !pair.ExpiresAt.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), "Access token valid until %s\n", pair.ExpiresAt.Format(time.RFC1123))
	}
	return nil
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
}
