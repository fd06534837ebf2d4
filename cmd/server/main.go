// Command server keeps the marketplace contract core's shared state alive:
// it owns the Postgres connection pool (or an in-memory store for local
// development), the live event feed, Prometheus metrics, and a health
// endpoint. It exposes no REST/RPC instruction surface of its own — cmd/mcp
// and cmd/keeper connect to the same store independently; cmd/keeper calls
// internal/engine directly and cmd/mcp only reads the store; see DESIGN.md for why the HTTP instruction
// surface was dropped in favor of this split.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/solmarket/internal/config"
	"github.com/mbd888/solmarket/internal/events"
	"github.com/mbd888/solmarket/internal/logging"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/metrics"
	"github.com/mbd888/solmarket/internal/traces"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "json")
	logger.Info("starting marketplace core",
		"version", Version, "commit", Commit, "build_time", BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("failed to initialize tracing", "error", err)
		tracerShutdown = func(context.Context) error { return nil }
	}
	defer tracerShutdown(context.Background())

	store, db, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		go metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
	}

	_ = store // kept open for its connection pool; cmd/keeper/cmd/mcp open their own

	hub := events.NewHub(logger)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
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
