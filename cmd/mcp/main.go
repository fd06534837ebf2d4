// Command mcp runs the marketplace ops MCP server over stdio: a handful of
// read-only introspection tools for an operator's LLM client, backed
// directly by internal/market.Store. See internal/mcpserver for the tool
// set and SPEC_FULL.md §4.13 for why this has no write tools.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/mcpserver"
)

func main() {
	store, db, err := openStore(os.Getenv("DATABASE_URL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp: failed to open store: %v\n", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	s := mcpserver.NewMCPServer(store)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "mcp: server error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(databaseURL string) (market.Store, *sql.DB, error) {
	if databaseURL == "" {
		return market.NewMemoryStore(), nil, nil
	}
	dsn := databaseURL
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "connect_timeout=5"
	} else {
		dsn += " connect_timeout=5"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return market.NewPostgresStore(db), db, nil
}
