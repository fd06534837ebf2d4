package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the marketplace ops MCP server. Every tool here is
// read-only: there is no write surface, ranking, or search, per
// SPEC_FULL.md §4.13 — this is an operator introspection aid, not a client.

var ToolGetConfig = mcp.NewTool("get_config",
	mcp.WithDescription(
		"Fetch the marketplace's singleton Config: admin/treasury/backend-authority "+
			"keys, platform and dispute fee basis points, pause state, and lifetime stats."),
)

var ToolGetListing = mcp.NewTool("get_listing",
	mcp.WithDescription("Fetch a Listing by its key."),
	mcp.WithString("key",
		mcp.Required(),
		mcp.Description("Hex-encoded 32-byte listing key")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription("Fetch the Escrow for a given listing key."),
	mcp.WithString("listing",
		mcp.Required(),
		mcp.Description("Hex-encoded 32-byte listing key")),
)

var ToolGetTransaction = mcp.NewTool("get_transaction",
	mcp.WithDescription("Fetch a Transaction by its key."),
	mcp.WithString("key",
		mcp.Required(),
		mcp.Description("Hex-encoded 32-byte transaction key")),
)

var ToolGetDispute = mcp.NewTool("get_dispute",
	mcp.WithDescription("Fetch a Dispute by its key."),
	mcp.WithString("key",
		mcp.Required(),
		mcp.Description("Hex-encoded 32-byte dispute key")),
)

var ToolListActiveListings = mcp.NewTool("list_active_listings",
	mcp.WithDescription("List currently Active listings, most recently created first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of listings to return (default 20)")),
)
