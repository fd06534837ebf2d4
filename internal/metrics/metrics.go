// Package metrics provides Prometheus instrumentation for the marketplace
// engine: instruction counters/latencies in place of the teacher's HTTP
// request metrics (this core has no HTTP surface of its own), plus the
// escrow/dispute/websocket gauges generalized to the new domain.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InstructionsTotal counts engine instructions by name and outcome
	// ("ok" or a marketerr sentinel name), the core's analogue of the
	// teacher's per-route HTTP request counter.
	InstructionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "instructions_total",
			Help:      "Total engine instructions processed by name and outcome.",
		},
		[]string{"instruction", "outcome"},
	)

	// InstructionDuration observes instruction processing latency by name.
	InstructionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Name:      "instruction_duration_seconds",
			Help:      "Engine instruction processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instruction"},
	)

	// TransactionsTotal counts completed sales by final status.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "transactions_total",
			Help:      "Total transactions recorded by status.",
		},
		[]string{"status"},
	)

	// EscrowsTotal counts escrow close-outs by final status.
	EscrowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "escrows_total",
			Help:      "Total escrow close-outs by status.",
		},
		[]string{"status"},
	)

	// DisputesTotal counts dispute resolutions by branch.
	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "disputes_total",
			Help:      "Total disputes resolved by resolution kind.",
		},
		[]string{"resolution"},
	)

	// ActiveListings tracks currently Active listings.
	ActiveListings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Name:      "active_listings",
			Help:      "Number of listings currently in Active status.",
		},
	)

	// PendingWithdrawalsGauge tracks outstanding PendingWithdrawal tickets.
	PendingWithdrawalsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Name:      "pending_withdrawals",
			Help:      "Number of outstanding pending withdrawals across all listings.",
		},
	)

	// ActiveWebSocketClients tracks connected live-feed WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// EscrowDuration observes time from escrow creation to close-out.
	EscrowDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Name:      "escrow_duration_seconds",
		Help:      "Time from escrow creation to close-out in seconds.",
		Buckets:   []float64{10, 30, 60, 3600, 86400, 7 * 86400, 30 * 86400},
	})
)

func init() {
	prometheus.MustRegister(
		InstructionsTotal,
		InstructionDuration,
		TransactionsTotal,
		EscrowsTotal,
		DisputesTotal,
		ActiveListings,
		PendingWithdrawalsGauge,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		EscrowDuration,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler, mounted by cmd/server
// at /metrics alongside the /ws live feed and the health check.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveInstruction records one engine instruction's outcome and latency.
// outcome is "ok" or the sentinel error's short name (see marketerr).
func ObserveInstruction(instruction, outcome string, duration time.Duration) {
	InstructionsTotal.WithLabelValues(instruction, outcome).Inc()
	InstructionDuration.WithLabelValues(instruction).Observe(duration.Seconds())
}
