// Keeper is a ticker-driven poller that calls the same public engine
// instructions an external caller could: it holds no instruction logic of
// its own. Grounded on the teacher's internal/escrow.Timer loop shape
// (ticker + stop channel + atomic running flag + panic-recovering sweep),
// repurposed from an auto-mutating timer into an instruction-triggering
// one, since spec.md §5 forbids timer-driven state mutation inside
// internal/engine itself.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/solmarket/internal/engine"
	"github.com/mbd888/solmarket/internal/listing"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/retry"
)

// discoveryRetryAttempts/Delay bound retries of the read-only queries that
// discover sweep candidates, absorbing transient Postgres flakiness the way
// the teacher's internal/gateway wraps its store calls with retry.Do. The
// instruction calls themselves are not retried: each already moves funds
// and persists state in one pass, so blindly retrying a failed call risks
// a double side effect.
const (
	discoveryRetryAttempts = 3
	discoveryRetryDelay    = 50 * time.Millisecond
)

const sweepBatchSize = 100

// Keeper periodically sweeps for auctions past end_time, expired BuyNow
// listings, and withdrawal tickets past their claim window.
type Keeper struct {
	eng      *engine.Engine
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewKeeper builds a Keeper driving eng's public instruction methods.
func NewKeeper(eng *engine.Engine, interval time.Duration, logger *slog.Logger) *Keeper {
	return &Keeper{
		eng:      eng,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (k *Keeper) Running() bool {
	return k.running.Load()
}

// Start begins the sweep loop; it blocks until ctx is cancelled or Stop is
// called. Call in a goroutine, or as main's final blocking call.
func (k *Keeper) Start(ctx context.Context) {
	k.running.Store(true)
	defer k.running.Store(false)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.safeSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-k.stop:
			return
		case <-ticker.C:
			k.safeSweep(ctx)
		}
	}
}

// Stop signals the sweep loop to stop.
func (k *Keeper) Stop() {
	select {
	case k.stop <- struct{}{}:
	default:
	}
}

func (k *Keeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("panic in keeper sweep", "panic", fmt.Sprint(r))
		}
	}()
	k.sweepListings(ctx)
	k.sweepWithdrawals(ctx)
}

// sweepListings settles ended auctions with a winning bidder and expires
// BuyNow listings that ran past end_time with no bidder. Auctions that ended
// without a bid are left to the seller's own CancelAuction call: the only
// no-bid listings this sweep touches are those expired BuyNow listings.
func (k *Keeper) sweepListings(ctx context.Context) {
	var cfg *market.Config
	err := retry.Do(ctx, discoveryRetryAttempts, discoveryRetryDelay, func() error {
		var err error
		cfg, err = k.eng.Store.GetConfig(ctx)
		return err
	})
	if err != nil {
		k.logger.Warn("keeper: failed to load config", "error", err)
		return
	}

	var active []*market.Listing
	err = retry.Do(ctx, discoveryRetryAttempts, discoveryRetryDelay, func() error {
		var err error
		active, err = k.eng.Store.ListActiveListings(ctx, sweepBatchSize)
		return err
	})
	if err != nil {
		k.logger.Warn("keeper: failed to list active listings", "error", err)
		return
	}

	now := k.eng.Clock.Now()
	for _, l := range active {
		if l.EndTime > now {
			continue
		}
		switch {
		case l.Type == market.ListingTypeAuction && l.CurrentBidder != nil:
			_, _, err := k.eng.Listing.SettleAuction(ctx, listing.SettleParams{
				Listing: l.Key,
				Caller:  cfg.Admin,
				Bidder:  *l.CurrentBidder,
				Admin:   cfg.Admin,
			})
			if err != nil {
				k.logger.Warn("keeper: settle auction failed", "listing", l.Key, "error", err)
				continue
			}
			k.logger.Info("keeper: settled auction", "listing", l.Key, "bidder", *l.CurrentBidder)

		case l.Type == market.ListingTypeBuyNow && l.CurrentBidder == nil:
			_, err := k.eng.Listing.ExpireListing(ctx, listing.ExpireParams{Listing: l.Key})
			if err != nil {
				k.logger.Warn("keeper: expire listing failed", "listing", l.Key, "error", err)
				continue
			}
			k.logger.Info("keeper: expired listing", "listing", l.Key)
		}
	}
}

// sweepWithdrawals expires pending-withdrawal tickets past their claim
// window: each ticket's amount is paid out of the issuing listing's escrow
// to the ticket's user, and the ticket is closed.
func (k *Keeper) sweepWithdrawals(ctx context.Context) {
	var expired []*market.PendingWithdrawal
	err := retry.Do(ctx, discoveryRetryAttempts, discoveryRetryDelay, func() error {
		var err error
		expired, err = k.eng.Store.ListExpiredPendingWithdrawals(ctx, k.eng.Clock.Now(), sweepBatchSize)
		return err
	})
	if err != nil {
		k.logger.Warn("keeper: failed to list expired withdrawals", "error", err)
		return
	}

	for _, w := range expired {
		if err := k.eng.Withdrawal.ExpireWithdrawal(ctx, w.Key); err != nil {
			k.logger.Warn("keeper: expire withdrawal failed", "withdrawal", w.Key, "error", err)
			continue
		}
		k.logger.Info("keeper: expired withdrawal", "withdrawal", w.Key, "user", w.User)
	}
}
