package bridge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pierrebridge/internal/backend"
	"pierrebridge/internal/config"
	"pierrebridge/internal/credentials"
	"pierrebridge/internal/oauth"
	"pierrebridge/internal/tokens"
	"pierrebridge/pkg/logging"
)

// serverName and serverVersion identify the bridge during the MCP
// handshake.
const (
	serverName    = "pierre-bridge"
	serverVersion = "1.0.0"
)

// listGateTimeout bounds how long a tools/list request waits for an
// in-flight connection attempt before serving whatever catalog exists.
const listGateTimeout = 2 * time.Second

// authClient is the slice of the OAuth client the bridge drives.
type authClient interface {
	StartAuthFlow(ctx context.Context) (string, error)
	WaitForCallback(ctx context.Context) (*credentials.TokenPair, error)
	ValidateAndRefresh(ctx context.Context, pair *credentials.TokenPair) (*oauth.ValidateRefreshResponse, error)
}

// backendClient is the slice of the backend client the bridge drives.
type backendClient interface {
	FetchCatalog(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, scope, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Bridge exposes the backend's tool catalog over MCP, managing auth
// state, the catalog cache, and the connection lifecycle.
type Bridge struct {
	cfg     *config.Config
	store   *credentials.Store
	auth    authClient
	tokens  *tokens.Manager
	backend backendClient

	state   *stateMachine
	catalog *catalogCache

	// openBrowser is swappable for tests.
	openBrowser func(url string) error

	mu                   sync.Mutex
	mcpServer            *server.MCPServer
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	stdioServer          *server.StdioServer
	backendToolNames     []string
	watcher              *credentials.Watcher
	cancel               context.CancelFunc
}

// New wires a bridge from its collaborators.
func New(cfg *config.Config, store *credentials.Store, auth authClient, tokenMgr *tokens.Manager, backendClient backendClient) *Bridge {
	return &Bridge{
		cfg:         cfg,
		store:       store,
		auth:        auth,
		tokens:      tokenMgr,
		backend:     backendClient,
		state:       newStateMachine(),
		catalog:     newCatalogCache(),
		openBrowser: oauth.OpenBrowser,
	}
}

// State returns the current connection state.
func (b *Bridge) State() ConnectionState {
	return b.state.Current()
}

// Catalog returns a snapshot of the current tool catalog.
func (b *Bridge) Catalog() Catalog {
	return b.catalog.Snapshot()
}

// Start brings up the MCP server on the configured transport and kicks
// off the proactive connection attempt when a credential exists.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.mcpServer != nil {
		b.mu.Unlock()
		return fmt.Errorf("bridge already started")
	}

	ctx, b.cancel = context.WithCancel(ctx)

	hooks := &server.Hooks{}
	hooks.AddBeforeListTools(func(hookCtx context.Context, id any, message *mcp.ListToolsRequest) {
		waitCtx, cancel := context.WithTimeout(hookCtx, listGateTimeout)
		defer cancel()
		b.state.AwaitSettled(waitCtx)
	})

	b.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	b.mcpServer.AddTools(b.localServerTools()...)
	mcpServer := b.mcpServer
	b.mu.Unlock()

	b.startWatcher(ctx)

	// Proactive connect: a stored credential means the previous session
	// was authenticated, so try to resume it within the budget.
	if b.store.PierreToken() != nil {
		if b.state.BeginConnecting() {
			go b.proactiveConnect(ctx)
		}
	}

	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)

	switch b.cfg.Transport {
	case config.TransportSSE:
		logging.Info("Bridge", "Starting MCP server with SSE transport on %s", addr)
		baseURL := fmt.Sprintf("http://%s:%d", b.cfg.Host, b.cfg.Port)
		sseServer := server.NewSSEServer(
			mcpServer,
			server.WithBaseURL(baseURL),
			server.WithSSEEndpoint("/sse"),
			server.WithMessageEndpoint("/message"),
			server.WithKeepAlive(true),
			server.WithKeepAliveInterval(30*time.Second),
		)
		b.mu.Lock()
		b.sseServer = sseServer
		b.mu.Unlock()
		go func() {
			if err := sseServer.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Bridge", err, "SSE server error")
			}
		}()

	case config.TransportStdio:
		logging.Info("Bridge", "Starting MCP server with stdio transport")
		stdioServer := server.NewStdioServer(mcpServer)
		b.mu.Lock()
		b.stdioServer = stdioServer
		b.mu.Unlock()
		go func() {
			if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
				logging.Error("Bridge", err, "Stdio server error")
			}
		}()

	case config.TransportStreamableHTTP:
		fallthrough
	default:
		logging.Info("Bridge", "Starting MCP server with streamable-http transport on %s", addr)
		streamableServer := server.NewStreamableHTTPServer(mcpServer)
		b.mu.Lock()
		b.streamableHTTPServer = streamableServer
		b.mu.Unlock()
		go func() {
			if err := streamableServer.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Bridge", err, "Streamable HTTP server error")
			}
		}()
	}

	return nil
}

// Stop shuts down the transports and background routines.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.mcpServer == nil {
		b.mu.Unlock()
		return fmt.Errorf("bridge not started")
	}
	cancel := b.cancel
	sseServer := b.sseServer
	streamableServer := b.streamableHTTPServer
	watcher := b.watcher
	b.mu.Unlock()

	logging.Info("Bridge", "Stopping MCP server")

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		watcher.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()

	if sseServer != nil {
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("Bridge", err, "Error shutting down SSE server")
		}
	}
	if streamableServer != nil {
		if err := streamableServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("Bridge", err, "Error shutting down streamable HTTP server")
		}
	}
	// The stdio server stops on context cancellation.

	return nil
}

// proactiveConnect validates the stored credential and fetches the
// catalog within the connect budget. Failure is not fatal: the bridge
// starts disconnected and the user can run connect_to_pierre.
func (b *Bridge) proactiveConnect(ctx context.Context) {
	budgetCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectBudget)
	defer cancel()

	pair := b.store.PierreToken()
	if pair == nil {
		b.state.FinishConnecting(StateDisconnected)
		return
	}

	resp, err := b.auth.ValidateAndRefresh(budgetCtx, pair)
	if err != nil {
		logging.Warn("Bridge", "Proactive connect: validation failed: %v", err)
		b.state.FinishConnecting(StateDisconnected)
		return
	}
	if resp.Status == oauth.ValidateStatusInvalid {
		logging.Info("Bridge", "Stored credential no longer valid, clearing")
		if err := b.store.ClearPierreToken(); err != nil {
			logging.Error("Bridge", err, "Failed to clear invalid credential")
		}
		b.state.FinishConnecting(StateDisconnected)
		return
	}
	if resp.Refreshed() {
		if err := b.store.SetPierreToken(resp.TokenPair()); err != nil {
			logging.Error("Bridge", err, "Failed to persist refreshed credential")
		}
	}

	catalog, err := b.backend.FetchCatalog(budgetCtx)
	if err != nil {
		logging.Warn("Bridge", "Proactive connect: catalog fetch failed: %v", err)
		b.state.FinishConnecting(StateDisconnected)
		return
	}

	b.installCatalog(catalog)
	b.state.FinishConnecting(StateConnected)
	logging.Info("Bridge", "Resumed session with %d backend tools", len(catalog))
}

// onAuthenticated runs the post-auth sequence: refetch the catalog,
// swap it in, then let tool registration emit the list_changed
// notification. The order matters; clients must never observe the
// notification before the new catalog is readable.
func (b *Bridge) onAuthenticated(ctx context.Context) error {
	catalog, err := b.backend.FetchCatalog(ctx)
	if err != nil {
		b.state.FinishConnecting(StateDisconnected)
		return fmt.Errorf("catalog fetch after authentication failed: %w", err)
	}

	b.installCatalog(catalog)
	b.state.FinishConnecting(StateConnected)
	logging.Info("Bridge", "Authenticated, exposing %d backend tools", len(catalog))
	return nil
}

// installCatalog swaps the catalog cache, then syncs tool registration
// on the MCP server. AddTools/DeleteTools emit the client notification,
// so the cache swap strictly precedes it.
func (b *Bridge) installCatalog(backendTools []mcp.Tool) {
	merged := mergeCatalog(backendTools)
	b.catalog.Swap(Catalog{
		Tools:       merged,
		FetchedAt:   time.Now(),
		SourceState: StateConnected,
	})

	var serverTools []server.ServerTool
	var names []string
	for _, tool := range backendTools {
		if isLocalTool(tool.Name) {
			continue
		}
		serverTools = append(serverTools, server.ServerTool{
			Tool:    tool,
			Handler: b.proxyHandler(tool.Name),
		})
		names = append(names, tool.Name)
	}

	b.mu.Lock()
	previous := b.backendToolNames
	b.backendToolNames = names
	mcpServer := b.mcpServer
	b.mu.Unlock()

	if mcpServer == nil {
		return
	}
	if len(previous) > 0 {
		mcpServer.DeleteTools(previous...)
	}
	if len(serverTools) > 0 {
		mcpServer.AddTools(serverTools...)
	}
}

// demote drops back to the public catalog after the session died. The
// stored credential is left alone unless the backend rejected it.
func (b *Bridge) demote() {
	b.state.Set(StateDisconnected)
	b.catalog.Swap(Catalog{
		Tools:       publicTools(),
		FetchedAt:   time.Now(),
		SourceState: StateDisconnected,
	})

	b.mu.Lock()
	previous := b.backendToolNames
	b.backendToolNames = nil
	mcpServer := b.mcpServer
	b.mu.Unlock()

	if mcpServer != nil && len(previous) > 0 {
		mcpServer.DeleteTools(previous...)
	}
}

// startWatcher reacts to external credential file changes: a removed
// credential tears the session down, an added one triggers a connect.
func (b *Bridge) startWatcher(ctx context.Context) {
	watcher := credentials.NewWatcher(b.store)
	watcher.OnReload = func() {
		hasToken := b.store.PierreToken() != nil
		switch b.state.Current() {
		case StateConnected, StateDegraded:
			if !hasToken {
				logging.Info("Bridge", "Credential removed externally, disconnecting")
				b.demote()
			}
		case StateDisconnected:
			if hasToken && b.state.BeginConnecting() {
				go b.proactiveConnect(ctx)
			}
		}
	}
	if err := watcher.Start(); err != nil {
		logging.Warn("Bridge", "Credential watcher failed to start: %v", err)
		return
	}

	b.mu.Lock()
	b.watcher = watcher
	b.mu.Unlock()
}

// handleSessionAuthFailure runs the degraded transition: the backend
// already spent its silent retry, so the session is torn down.
func (b *Bridge) handleSessionAuthFailure() {
	if b.state.Current() != StateConnected {
		return
	}
	b.state.Set(StateDegraded)
	logging.Warn("Bridge", "Session auth failed after retry, disconnecting")
	b.demote()
}

var _ backendClient = (*backend.Client)(nil)
