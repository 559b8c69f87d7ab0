package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pierrebridge/internal/bridge"
	"pierrebridge/internal/config"
)

var (
	serveTransport string
	serveHost      string
	servePort      int
)

// serveCmd starts the MCP bridge server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP bridge server",
	Long: `Starts the bridge and serves the Pierre tool catalog over the
configured MCP transport.

Transports:
  stdio            newline-delimited JSON-RPC over stdin/stdout (default,
                   for assistants that spawn the bridge as a subprocess)
  streamable-http  buffered HTTP request/response
  sse              server-sent events stream

With a stored credential the bridge resumes the previous session at
startup. Without one it serves the connection tools and waits for
connect_to_pierre.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveTransport != "" {
		cfg.Transport = config.Transport(serveTransport)
	}
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, oauthClient, tokenMgr, backendClient, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer oauthClient.Close()

	b := bridge.New(cfg, store, oauthClient, tokenMgr, backendClient)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	<-ctx.Done()
	stop()

	return b.Stop(context.Background())
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "MCP transport: stdio, streamable-http, or sse (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind address for HTTP-based transports (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port for HTTP-based transports (overrides config)")
}
