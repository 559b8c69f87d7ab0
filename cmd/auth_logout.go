package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// authLogoutCmd clears all stored credentials.
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove all stored credentials",
	Long: `Remove the stored Pierre and provider tokens along with the OAuth
client registration. A running bridge notices the change and falls back
to the public tool set.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogout,
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, _, _, _, err := buildStack(cfg)
	if err != nil {
		return err
	}

	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Removed stored credentials.")
	return nil
}
