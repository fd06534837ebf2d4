package mcpserver

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/quanta"
)

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func TestParsePubkeyHex(t *testing.T) {
	key := quanta.Pubkey{1, 2, 3}
	got, err := parsePubkeyHex(hex.EncodeToString(key[:]))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = parsePubkeyHex("not-hex")
	assert.Error(t, err)

	_, err = parsePubkeyHex("aabb")
	assert.Error(t, err)
}

func TestHandleGetConfig(t *testing.T) {
	store := market.NewMemoryStore()
	admin := quanta.Pubkey{9}
	require.NoError(t, store.CreateConfig(context.Background(), &market.Config{Admin: admin, PlatformFeeBPS: 500}))

	h := NewHandlers(store)
	result, err := h.HandleGetConfig(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"PlatformFeeBPS": 500`)
}

func TestHandleGetListing(t *testing.T) {
	store := market.NewMemoryStore()
	key := quanta.Pubkey{1}
	require.NoError(t, store.CreateListing(context.Background(), &market.Listing{Key: key, Status: market.ListingStatusActive}))

	h := NewHandlers(store)
	result, err := h.HandleGetListing(context.Background(), makeRequest(map[string]any{"key": hex.EncodeToString(key[:])}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"active"`)
}

func TestHandleGetListing_BadKey(t *testing.T) {
	h := NewHandlers(market.NewMemoryStore())
	result, err := h.HandleGetListing(context.Background(), makeRequest(map[string]any{"key": "zz"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListActiveListings(t *testing.T) {
	store := market.NewMemoryStore()
	for i := 0; i < 3; i++ {
		key := quanta.Pubkey{byte(i + 1)}
		require.NoError(t, store.CreateListing(context.Background(), &market.Listing{Key: key, Status: market.ListingStatusActive}))
	}

	h := NewHandlers(store)
	result, err := h.HandleListActiveListings(context.Background(), makeRequest(map[string]any{"limit": float64(2)}))
	require.NoError(t, err)
	assert.NotEmpty(t, resultText(t, result))
}
