package mcpserver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/quanta"
)

// Handlers serves read-only MCP tools directly off internal/market.Store.
type Handlers struct {
	store market.Store
}

// NewHandlers wraps a Store for the MCP tool handlers below.
func NewHandlers(store market.Store) *Handlers {
	return &Handlers{store: store}
}

func parsePubkeyHex(s string) (quanta.Pubkey, error) {
	var key quanta.Pubkey
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != len(key) {
		return key, fmt.Errorf("expected %d bytes, got %d", len(key), len(b))
	}
	copy(key[:], b)
	return key, nil
}

// toJSON renders a store entity as the tool's result text; ops tooling
// wants the raw fields, not a prose summary.
func toJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (h *Handlers) HandleGetConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := h.store.GetConfig(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get config: %v", err)), nil
	}
	return toJSON(cfg)
}

func (h *Handlers) HandleGetListing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := parsePubkeyHex(req.GetString("key", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("key: %v", err)), nil
	}
	l, err := h.store.GetListing(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get listing: %v", err)), nil
	}
	return toJSON(l)
}

func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listing, err := parsePubkeyHex(req.GetString("listing", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing: %v", err)), nil
	}
	e, err := h.store.GetEscrowByListing(ctx, listing)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get escrow: %v", err)), nil
	}
	return toJSON(e)
}

func (h *Handlers) HandleGetTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := parsePubkeyHex(req.GetString("key", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("key: %v", err)), nil
	}
	t, err := h.store.GetTransaction(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get transaction: %v", err)), nil
	}
	return toJSON(t)
}

func (h *Handlers) HandleGetDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := parsePubkeyHex(req.GetString("key", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("key: %v", err)), nil
	}
	d, err := h.store.GetDispute(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get dispute: %v", err)), nil
	}
	return toJSON(d)
}

func (h *Handlers) HandleListActiveListings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	listings, err := h.store.ListActiveListings(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list active listings: %v", err)), nil
	}
	return toJSON(listings)
}
