package cmd

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// descriptionLimit keeps the table readable in a normal terminal.
const descriptionLimit = 80

// toolsCmd fetches and prints the backend tool catalog.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the backend exposes",
	Long: `Fetch the tool catalog from the Pierre backend using the stored
credential and print it as a table. Requires a prior 'auth login' or a
configured bearer token.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, _, _, backendClient, err := buildStack(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	catalog, err := backendClient.FetchCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch tool catalog: %w", err)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Tool", "Description"})
	for _, tool := range catalog {
		tw.AppendRow(table.Row{tool.Name, truncate(tool.Description, descriptionLimit)})
	}
	tw.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d tools\n", len(catalog))
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
