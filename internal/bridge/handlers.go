package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pierrebridge/internal/backend"
	"pierrebridge/internal/tokens"
	"pierrebridge/pkg/logging"
)

// knownProviders are the fitness providers the backend can link.
var knownProviders = map[string]bool{
	"strava": true,
	"garmin": true,
	"fitbit": true,
}

// localServerTools binds the public tool definitions to their in-process
// handlers.
func (b *Bridge) localServerTools() []server.ServerTool {
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		toolConnectToPierre:     b.handleConnectToPierre,
		toolConnectProvider:     b.handleConnectProvider,
		toolGetConnectionStatus: b.handleGetConnectionStatus,
		toolDisconnectProvider:  b.handleDisconnectProvider,
	}

	var serverTools []server.ServerTool
	for _, tool := range publicTools() {
		serverTools = append(serverTools, server.ServerTool{
			Tool:    tool,
			Handler: handlers[tool.Name],
		})
	}
	return serverTools
}

// requestArguments extracts the argument map from an MCP request.
func requestArguments(req mcp.CallToolRequest) map[string]interface{} {
	if req.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	if args, ok := req.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

// handleConnectToPierre runs the interactive OAuth flow and, on
// success, the post-auth catalog refresh.
func (b *Bridge) handleConnectToPierre(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if b.state.Current() == StateConnected {
		return mcp.NewToolResultText("Already connected to Pierre. Run get_connection_status to see linked providers."), nil
	}
	return b.connectInteractive(ctx)
}

// handleConnectProvider authenticates with Pierre if needed, then
// forwards the provider link request to the backend.
func (b *Bridge) handleConnectProvider(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArguments(req)
	provider, _ := args["provider"].(string)
	if provider == "" {
		return mcp.NewToolResultError("missing required argument \"provider\""), nil
	}
	if !knownProviders[provider] {
		return mcp.NewToolResultError(fmt.Sprintf("unknown provider %q, supported: strava, garmin, fitbit", provider)), nil
	}

	if b.state.Current() != StateConnected {
		result, err := b.connectInteractive(ctx)
		if err != nil || (result != nil && result.IsError) {
			return result, err
		}
		if b.state.Current() != StateConnected {
			return result, nil
		}
	}

	result, err := b.backend.CallTool(ctx, tokens.ScopePierre, toolConnectProvider, args)
	if err != nil {
		return b.backendErrorResult(toolConnectProvider, err), nil
	}
	return result, nil
}

// handleGetConnectionStatus reports the bridge state and stored
// credentials per scope without a network round trip.
func (b *Bridge) handleGetConnectionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	providers := map[string]bool{}
	for name := range knownProviders {
		providers[name] = b.tokens.Connected(name)
	}

	status := map[string]interface{}{
		"bridge_state":    string(b.state.Current()),
		"pierre":          b.tokens.Connected(tokens.ScopePierre),
		"providers":       providers,
		"catalog_tools":   len(b.catalog.Snapshot().Tools),
		"catalog_fetched": b.catalog.Snapshot().FetchedAt,
	}

	payload, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// handleDisconnectProvider removes the stored credential for one
// provider. Other scopes are untouched.
func (b *Bridge) handleDisconnectProvider(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArguments(req)
	provider, _ := args["provider"].(string)
	if provider == "" {
		return mcp.NewToolResultError("missing required argument \"provider\""), nil
	}
	if !knownProviders[provider] {
		return mcp.NewToolResultError(fmt.Sprintf("unknown provider %q", provider)), nil
	}

	if !b.tokens.Connected(provider) {
		return mcp.NewToolResultText(fmt.Sprintf("%s is not connected.", provider)), nil
	}
	if err := b.tokens.Disconnect(provider); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to disconnect %s: %v", provider, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Disconnected %s and removed its stored tokens.", provider)), nil
}

// connectInteractive drives the browser OAuth flow end to end, then the
// post-auth catalog refresh. The whole flow runs inside a connect
// attempt so the connecting state is observable while the browser
// redirect is pending.
func (b *Bridge) connectInteractive(ctx context.Context) (*mcp.CallToolResult, error) {
	if !b.state.BeginConnecting() {
		return mcp.NewToolResultText("A connection attempt is already in progress. Try again in a moment."), nil
	}

	authCtx, cancel := context.WithTimeout(ctx, b.cfg.AuthTimeout)
	defer cancel()

	authURL, err := b.auth.StartAuthFlow(authCtx)
	if err != nil {
		b.state.FinishConnecting(StateDisconnected)
		return mcp.NewToolResultError(fmt.Sprintf("failed to start authentication: %v", err)), nil
	}

	if err := b.openBrowser(authURL); err != nil {
		logging.Warn("Bridge", "Could not open browser: %v", err)
	}
	logging.Info("Bridge", "Waiting for authorization at %s", authURL)

	if _, err := b.auth.WaitForCallback(authCtx); err != nil {
		b.state.FinishConnecting(StateDisconnected)
		return mcp.NewToolResultError(fmt.Sprintf("authentication failed: %v\nOpen this URL to retry: %s", err, authURL)), nil
	}

	if err := b.onAuthenticated(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("authenticated, but the session could not be established: %v", err)), nil
	}

	return mcp.NewToolResultText("Connected to Pierre. Your fitness tools are now available."), nil
}

// proxyHandler forwards a backend tool call under the resolved scope.
func (b *Bridge) proxyHandler(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := requestArguments(req)

		tool, ok := b.catalog.Lookup(name)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown tool %q", name)), nil
		}
		if err := validateArguments(tool.InputSchema, args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		scope := tokens.ScopePierre
		if provider, ok := args["provider"].(string); ok && b.tokens.Connected(provider) {
			scope = provider
		}

		result, err := b.backend.CallTool(ctx, scope, name, args)
		if err != nil {
			return b.backendErrorResult(name, err), nil
		}
		return result, nil
	}
}

// backendErrorResult maps backend failures to protocol error results.
// A failed call never takes the bridge down; auth failures additionally
// tear the session back to the public catalog.
func (b *Bridge) backendErrorResult(name string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, tokens.ErrReauthRequired):
		b.handleSessionAuthFailure()
		return mcp.NewToolResultError("Your Pierre session expired. Run connect_to_pierre to sign in again.")

	case errors.Is(err, tokens.ErrNotConnected):
		return mcp.NewToolResultError("Not connected to Pierre. Run connect_to_pierre first.")

	case backend.IsAuthError(err):
		b.handleSessionAuthFailure()
		return mcp.NewToolResultError("The backend rejected the session credentials. Run connect_to_pierre to sign in again.")

	case backend.IsRateLimited(err):
		return mcp.NewToolResultError(fmt.Sprintf("The backend is rate limiting requests: %v", err))

	default:
		logging.Error("Bridge", err, "Tool call %s failed", name)
		return mcp.NewToolResultError(fmt.Sprintf("tool %s failed: %v", name, err))
	}
}
