package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"pierrebridge/internal/credentials"
)

// statusProviders are the provider scopes reported by auth status.
var statusProviders = []string{"strava", "garmin", "fitbit"}

// authStatusCmd shows stored credentials and backend reachability.
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long: `Show which credentials are stored, when they expire, and whether
the Pierre backend is reachable.`,
	Args: cobra.NoArgs,
	RunE: runAuthStatus,
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, _, _, backendClient, err := buildStack(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	backendStatus := text.FgGreen.Sprint("reachable")
	if err := backendClient.Health(healthCtx); err != nil {
		backendStatus = text.FgRed.Sprintf("unreachable (%v)", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backend %s: %s\n\n", cfg.BackendURL, backendStatus)

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Scope", "Status", "Expires"})

	tw.AppendRow(tokenRow("pierre", store.PierreToken()))
	for _, provider := range statusProviders {
		tw.AppendRow(tokenRow(provider, store.ProviderToken(provider)))
	}
	tw.Render()

	// The local table shows stored credentials; the backend may know of
	// provider links established elsewhere.
	if store.PierreToken() != nil {
		statusCtx, cancelStatus := context.WithTimeout(ctx, 5*time.Second)
		defer cancelStatus()

		result, err := backendClient.ConnectionStatus(statusCtx)
		switch {
		case err != nil:
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", text.FgYellow.Sprintf("Could not fetch backend connection status: %v", err))
		case len(result.Content) > 0:
			if content, ok := mcp.AsTextContent(result.Content[0]); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "\nBackend connection status:\n%s\n", content.Text)
			}
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nCredential file: %s\n", store.Path())
	return nil
}

func tokenRow(scope string, pair *credentials.TokenPair) table.Row {
	if pair == nil {
		return table.Row{scope, text.FgYellow.Sprint("not connected"), "-"}
	}

	status := text.FgGreen.Sprint("connected")
	expires := "-"
	if !pair.ExpiresAt.IsZero() {
		expires = pair.ExpiresAt.Format(time.RFC1123)
		if time.Now().After(pair.ExpiresAt) {
			status = text.FgYellow.Sprint("expired (will refresh)")
		}
	}
	return table.Row{scope, status, expires}
}
