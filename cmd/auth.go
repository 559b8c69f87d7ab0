package cmd

import (
	"github.com/spf13/cobra"
)

// authCmd groups the authentication subcommands.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication with the Pierre backend",
	Long: `Manage OAuth authentication with the Pierre backend.

Subcommands:
  login   Run the browser-based OAuth flow and store the credential
  status  Show stored credentials and backend reachability
  logout  Remove all stored credentials`,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}
