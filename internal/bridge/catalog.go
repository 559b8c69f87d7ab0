package bridge

import (
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Local tool names, always present regardless of auth state.
const (
	toolConnectToPierre     = "connect_to_pierre"
	toolConnectProvider     = "connect_provider"
	toolGetConnectionStatus = "get_connection_status"
	toolDisconnectProvider  = "disconnect_provider"
)

// Catalog is the tool set currently exposed to clients, replaced by
// value on every transition so readers never observe a partial update.
type Catalog struct {
	Tools       []mcp.Tool
	FetchedAt   time.Time
	SourceState ConnectionState
}

// catalogCache holds the current catalog behind a mutex. Snapshots are
// copies; the cached slice is never handed out for mutation.
type catalogCache struct {
	mu      sync.RWMutex
	current Catalog
}

func newCatalogCache() *catalogCache {
	return &catalogCache{
		current: Catalog{
			Tools:       publicTools(),
			FetchedAt:   time.Now(),
			SourceState: StateDisconnected,
		},
	}
}

// Snapshot returns a copy of the current catalog.
func (c *catalogCache) Snapshot() Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := c.current
	snapshot.Tools = make([]mcp.Tool, len(c.current.Tools))
	copy(snapshot.Tools, c.current.Tools)
	return snapshot
}

// Swap replaces the catalog wholesale.
func (c *catalogCache) Swap(next Catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = next
}

// Lookup returns the tool definition for name, if the catalog has it.
func (c *catalogCache) Lookup(name string) (mcp.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, tool := range c.current.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return mcp.Tool{}, false
}

// isLocalTool reports whether the bridge handles name in-process.
func isLocalTool(name string) bool {
	switch name {
	case toolConnectToPierre, toolConnectProvider, toolGetConnectionStatus, toolDisconnectProvider:
		return true
	}
	return false
}

// publicTools is the fixed discovery subset available before
// authentication. Never empty: a client must always be able to find
// the tool that starts the login flow.
func publicTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        toolConnectToPierre,
			Description: "Connect to Pierre - Authenticate with Pierre Fitness Server to access your fitness data. This will open a browser window for secure login. Use this when you're not connected or need to reconnect.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]interface{}{},
			},
		},
		{
			Name:        toolConnectProvider,
			Description: "Connect to Fitness Provider - Authenticate with Pierre and link a fitness provider (like Strava or Fitbit) so its data becomes available. This will open a browser window for secure authentication.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"provider": map[string]interface{}{
						"type":        "string",
						"description": "Fitness provider to connect to. Supported providers: 'strava', 'fitbit'",
					},
				},
				Required: []string{"provider"},
			},
		},
		{
			Name:        toolGetConnectionStatus,
			Description: "Check which fitness providers are currently connected and authorized for the user. Returns connection status for all supported providers.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]interface{}{},
			},
		},
		{
			Name:        toolDisconnectProvider,
			Description: "Disconnect and remove stored tokens for a specific fitness provider. This revokes access to the provider's data.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"provider": map[string]interface{}{
						"type":        "string",
						"description": "Fitness provider to disconnect (e.g., 'strava', 'fitbit')",
					},
				},
				Required: []string{"provider"},
			},
		},
	}
}

// mergeCatalog combines the public subset with the backend catalog. The
// public tools always come first and shadow any backend tool with the
// same name, so the merged set is a strict superset of the public one.
func mergeCatalog(backendTools []mcp.Tool) []mcp.Tool {
	merged := publicTools()
	for _, tool := range backendTools {
		if isLocalTool(tool.Name) {
			continue
		}
		merged = append(merged, tool)
	}
	return merged
}
