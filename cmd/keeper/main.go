// Command keeper runs the marketplace's sweep loop: the ticker-driven
// caller of SettleAuction, ExpireListing, and ExpireWithdrawal that keeps
// ended auctions, expired listings, and stale withdrawal tickets from
// sitting forever without anyone calling the public instruction that
// closes them out. It holds no state-mutation logic itself — see
// keeper.go and DESIGN.md.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/solmarket/internal/config"
	"github.com/mbd888/solmarket/internal/engine"
	"github.com/mbd888/solmarket/internal/logging"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/runtime"
	"github.com/mbd888/solmarket/internal/verify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keeper: config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("keeper: failed to open store", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	eng := engine.New(engine.Deps{
		Store:    store,
		Clock:    runtime.WallClock{},
		Rent:     runtime.NewSimRent(),
		Xfer:     runtime.NewSimLedger(),
		Verifier: verify.NewECDSAVerifier(),
	})

	k := NewKeeper(eng, cfg.KeeperInterval, logger)
	logger.Info("keeper: starting", "interval", cfg.KeeperInterval)
	k.Start(ctx)
	logger.Info("keeper: stopped")
}

// openStore opens a PostgresStore against cfg.DatabaseURL, or falls back to
// an in-memory store for local development when it is unset.
func openStore(cfg *config.Config, logger *slog.Logger) (market.Store, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store (DATABASE_URL not set)")
		return market.NewMemoryStore(), nil, nil
	}

	dsn := appendDSNParams(cfg.DatabaseURL, cfg.DBConnectTimeout, cfg.DBStatementTimeout)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	if err := db.Ping(); err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	logger.Info("using PostgreSQL store", "url", maskDSN(cfg.DatabaseURL))
	return market.NewPostgresStore(db), db, nil
}

// appendDSNParams adds connect_timeout and statement_timeout to a PostgreSQL DSN.
func appendDSNParams(dsn string, connectTimeout, statementTimeout int) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sconnect_timeout=%d&statement_timeout=%d", dsn, sep, connectTimeout, statementTimeout)
	}
	return fmt.Sprintf("%s connect_timeout=%d statement_timeout=%d", dsn, connectTimeout, statementTimeout)
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
