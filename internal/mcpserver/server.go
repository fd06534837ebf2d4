// Package mcpserver exposes a handful of read-only ops tools over the
// marketplace's Store, following the teacher's internal/mcpserver
// tool-registration pattern (github.com/mark3labs/mcp-go). Unlike the
// teacher's version, which fronts an HTTP API for agent clients, this one
// talks directly to internal/market.Store in-process: it is an
// operator/introspection surface, not a client SDK.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/solmarket/internal/market"
)

// NewMCPServer creates a configured MCP server with every ops tool registered.
func NewMCPServer(store market.Store) *server.MCPServer {
	s := server.NewMCPServer("alancoin-marketplace-ops", "1.0.0")
	h := NewHandlers(store)

	s.AddTool(ToolGetConfig, h.HandleGetConfig)
	s.AddTool(ToolGetListing, h.HandleGetListing)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolGetTransaction, h.HandleGetTransaction)
	s.AddTool(ToolGetDispute, h.HandleGetDispute)
	s.AddTool(ToolListActiveListings, h.HandleListActiveListings)

	return s
}
