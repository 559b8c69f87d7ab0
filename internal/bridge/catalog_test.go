package bridge

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicToolsNeverEmpty(t *testing.T) {
	tools := publicTools()
	require.NotEmpty(t, tools)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	assert.True(t, names[toolConnectToPierre], "the login entry point must always be discoverable")
	assert.True(t, names[toolConnectProvider])
	assert.True(t, names[toolGetConnectionStatus])
	assert.True(t, names[toolDisconnectProvider])
}

func TestMergeCatalogIsSuperset(t *testing.T) {
	backendTools := []mcp.Tool{
		{Name: "get_activities"},
		{Name: "get_athlete"},
	}

	merged := mergeCatalog(backendTools)

	names := map[string]bool{}
	for _, tool := range merged {
		names[tool.Name] = true
	}
	for _, tool := range publicTools() {
		assert.True(t, names[tool.Name], "merged catalog must contain public tool %s", tool.Name)
	}
	assert.True(t, names["get_activities"])
	assert.True(t, names["get_athlete"])
	assert.Len(t, merged, len(publicTools())+2)
}

func TestMergeCatalogLocalToolsShadowBackend(t *testing.T) {
	backendTools := []mcp.Tool{
		{Name: toolGetConnectionStatus, Description: "backend version"},
		{Name: "get_stats"},
	}

	merged := mergeCatalog(backendTools)

	count := 0
	for _, tool := range merged {
		if tool.Name == toolGetConnectionStatus {
			count++
			assert.NotEqual(t, "backend version", tool.Description, "local definition wins")
		}
	}
	assert.Equal(t, 1, count)
}

func TestCatalogCacheSnapshotIsolation(t *testing.T) {
	cache := newCatalogCache()

	snapshot := cache.Snapshot()
	require.NotEmpty(t, snapshot.Tools)
	snapshot.Tools[0].Name = "mutated"

	fresh := cache.Snapshot()
	assert.NotEqual(t, "mutated", fresh.Tools[0].Name, "snapshots must not alias the cached slice")
}

func TestCatalogCacheRepeatedReadsAreStable(t *testing.T) {
	cache := newCatalogCache()
	cache.Swap(Catalog{
		Tools:       mergeCatalog([]mcp.Tool{{Name: "get_activities"}, {Name: "get_athlete"}}),
		SourceState: StateConnected,
	})

	names := func(c Catalog) []string {
		var out []string
		for _, tool := range c.Tools {
			out = append(out, tool.Name)
		}
		return out
	}

	// Sequential reads with no intervening swap return the same tool
	// name set in the same order.
	first := names(cache.Snapshot())
	for i := 0; i < 2; i++ {
		assert.Equal(t, first, names(cache.Snapshot()))
	}
}

func TestCatalogCacheLookup(t *testing.T) {
	cache := newCatalogCache()

	tool, ok := cache.Lookup(toolConnectToPierre)
	require.True(t, ok)
	assert.Equal(t, toolConnectToPierre, tool.Name)

	_, ok = cache.Lookup("nonexistent")
	assert.False(t, ok)
}
