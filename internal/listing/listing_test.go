package listing

import (
	"context"
	"log/slog"
	"testing"

	"github.com/mbd888/solmarket/internal/events"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/marketerr"
	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/mbd888/solmarket/internal/runtime"
	"github.com/mbd888/solmarket/internal/withdrawal"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, market.Store, *runtime.SimLedger, *runtime.SimClock) {
	t.Helper()
	store := market.NewMemoryStore()
	clock := runtime.NewSimClock(1000)
	rent := runtime.NewSimRent()
	ledger := runtime.NewSimLedger()
	wsvc := withdrawal.New(store, clock, rent, ledger)
	svc := New(store, clock, rent, ledger, wsvc, nil)

	require.NoError(t, store.CreateConfig(context.Background(), &market.Config{
		Admin:          quanta.Pubkey{99},
		PlatformFeeBPS: 250,
		DisputeFeeBPS:  100,
	}))
	return svc, store, ledger, clock
}

func TestCreateListing_Auction(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	seller := quanta.Pubkey{1}

	l, e, err := svc.CreateListing(ctx, CreateParams{
		Seller:        seller,
		Type:          market.ListingTypeAuction,
		StartingPrice: 1_000_000_000,
		ReservePrice:  ptr(uint64(1_000_000_000)),
		Duration:      3600,
	})
	require.NoError(t, err)
	require.Equal(t, market.ListingStatusActive, l.Status)
	require.Equal(t, uint16(250), l.PlatformFeeBPS)
	require.Equal(t, uint64(0), e.Amount)
}

func TestCreateListing_BuyNowRequiresPrice(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, _, err := svc.CreateListing(context.Background(), CreateParams{
		Seller:        quanta.Pubkey{1},
		Type:          market.ListingTypeBuyNow,
		StartingPrice: 100,
		Duration:      3600,
	})
	require.ErrorIs(t, err, marketerr.ErrBuyNowPriceRequired)
}

func TestPlaceBid_StartsTimerAtReserve(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	seller, bidder := quanta.Pubkey{1}, quanta.Pubkey{2}
	ledger.Fund(bidder, 10_000_000_000)

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, ReservePrice: ptr(uint64(1_000_000_000)),
		Duration: 3600,
	})
	require.NoError(t, err)

	l, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder, Amount: 1_000_000_000})
	require.NoError(t, err)
	require.True(t, l.AuctionStarted)
	require.Equal(t, clock.Now()+3600, l.EndTime)

	escrow, err := store.GetEscrowByListing(ctx, l.Key)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000), escrow.Amount)
}

func TestPlaceBid_BelowReserveDoesNotStartTimer(t *testing.T) {
	svc, store, ledger, _ := newTestService(t)
	ctx := context.Background()
	seller, bidder := quanta.Pubkey{1}, quanta.Pubkey{2}
	ledger.Fund(bidder, 10_000_000_000)

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 5_000_000_000, ReservePrice: ptr(uint64(5_000_000_000)),
		Duration: 3600,
	})
	require.NoError(t, err)

	_, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder, Amount: 1_000_000_000})
	require.ErrorIs(t, err, marketerr.ErrBidBelowReserve)
	l, err = store.GetListing(ctx, l.Key)
	require.NoError(t, err)
	require.False(t, l.AuctionStarted)
}

func TestPlaceBid_DisplacesPriorBidderWithTicket(t *testing.T) {
	svc, store, ledger, _ := newTestService(t)
	ctx := context.Background()
	seller, bidder1, bidder2 := quanta.Pubkey{1}, quanta.Pubkey{2}, quanta.Pubkey{3}
	ledger.Fund(bidder1, 10_000_000_000)
	ledger.Fund(bidder2, 10_000_000_000)

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, Duration: 3600,
	})
	require.NoError(t, err)

	l, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder1, Amount: 1_000_000_000})
	require.NoError(t, err)

	l, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder2, Amount: 1_100_000_000})
	require.NoError(t, err)
	require.Equal(t, bidder2, *l.CurrentBidder)
	require.Equal(t, uint64(1), l.WithdrawalCount)

	withdrawals, err := store.ListPendingWithdrawalsByListing(ctx, l.Key)
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	require.Equal(t, bidder1, withdrawals[0].User)
	require.Equal(t, uint64(1_000_000_000), withdrawals[0].Amount)
}

func TestPlaceBid_IncrementTooSmall(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ctx := context.Background()
	seller, bidder1, bidder2 := quanta.Pubkey{1}, quanta.Pubkey{2}, quanta.Pubkey{3}
	ledger.Fund(bidder1, 10_000_000_000)
	ledger.Fund(bidder2, 10_000_000_000)

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, Duration: 3600,
	})
	require.NoError(t, err)
	l, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder1, Amount: 1_000_000_000})
	require.NoError(t, err)

	_, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder2, Amount: 1_000_000_001})
	require.ErrorIs(t, err, marketerr.ErrBidIncrementTooSmall)
}

func TestPlaceBid_AntiSnipeExtendsEndTime(t *testing.T) {
	svc, _, ledger, clock := newTestService(t)
	ctx := context.Background()
	seller, bidder := quanta.Pubkey{1}, quanta.Pubkey{2}
	ledger.Fund(bidder, 10_000_000_000)

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, Duration: 1000,
	})
	require.NoError(t, err)
	l, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder, Amount: 1_000_000_000})
	require.NoError(t, err)
	require.True(t, l.AuctionStarted)

	clock.Advance(1000 - market.AntiSnipeWindow + 1)
	bidder2 := quanta.Pubkey{4}
	ledger.Fund(bidder2, 10_000_000_000)
	l, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder2, Amount: 2_000_000_000})
	require.NoError(t, err)
	require.Equal(t, clock.Now()+market.AntiSnipeWindow, l.EndTime)
}

func TestBuyNow_HappyPath(t *testing.T) {
	svc, store, ledger, _ := newTestService(t)
	ctx := context.Background()
	seller, buyer := quanta.Pubkey{1}, quanta.Pubkey{2}
	ledger.Fund(buyer, 10_000_000_000)

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeBuyNow,
		StartingPrice: 1_000_000_000, BuyNowPrice: ptr(uint64(2_000_000_000)),
		Duration: 3600,
	})
	require.NoError(t, err)

	l, tx, err := svc.BuyNow(ctx, BuyNowParams{Listing: l.Key, Buyer: buyer})
	require.NoError(t, err)
	require.Equal(t, market.ListingStatusSold, l.Status)
	require.Equal(t, uint64(2_000_000_000), tx.SalePrice)
	require.Equal(t, market.TransactionStatusInEscrow, tx.Status)

	escrow, err := store.GetEscrowByListing(ctx, l.Key)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000_000), escrow.Amount)
}

func TestSettleAuction_AfterEnd(t *testing.T) {
	svc, _, ledger, clock := newTestService(t)
	ctx := context.Background()
	seller, bidder, admin := quanta.Pubkey{1}, quanta.Pubkey{2}, quanta.Pubkey{99}
	ledger.Fund(bidder, 10_000_000_000)

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, Duration: 3600,
	})
	require.NoError(t, err)
	l, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder, Amount: 1_000_000_000})
	require.NoError(t, err)

	clock.Advance(3601)
	l, tx, err := svc.SettleAuction(ctx, SettleParams{Listing: l.Key, Caller: seller, Bidder: bidder, Admin: admin})
	require.NoError(t, err)
	require.Equal(t, market.ListingStatusSold, l.Status)
	require.Equal(t, bidder, tx.Buyer)
	require.Equal(t, uint64(1_000_000_000), tx.SalePrice)
}

func TestSettleAuction_BeforeEndFails(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ctx := context.Background()
	seller, bidder, admin := quanta.Pubkey{1}, quanta.Pubkey{2}, quanta.Pubkey{99}
	ledger.Fund(bidder, 10_000_000_000)

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, Duration: 3600,
	})
	require.NoError(t, err)
	l, err = svc.PlaceBid(ctx, BidParams{Listing: l.Key, Bidder: bidder, Amount: 1_000_000_000})
	require.NoError(t, err)

	_, _, err = svc.SettleAuction(ctx, SettleParams{Listing: l.Key, Caller: seller, Bidder: bidder, Admin: admin})
	require.ErrorIs(t, err, marketerr.ErrAuctionNotEnded)
}

func TestCancelAuction_NoBids(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()
	seller := quanta.Pubkey{1}

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, Duration: 3600,
	})
	require.NoError(t, err)

	clock.Advance(3601)
	l, err = svc.CancelAuction(ctx, CancelParams{Listing: l.Key, Seller: seller})
	require.NoError(t, err)
	require.Equal(t, market.ListingStatusCancelled, l.Status)

	_, err = store.GetEscrowByListing(ctx, l.Key)
	require.Error(t, err)
}

func TestCancelAuction_WrongSeller(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()
	seller := quanta.Pubkey{1}

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, Duration: 3600,
	})
	require.NoError(t, err)
	clock.Advance(3601)

	_, err = svc.CancelAuction(ctx, CancelParams{Listing: l.Key, Seller: quanta.Pubkey{55}})
	require.ErrorIs(t, err, marketerr.ErrNotSeller)
}

func TestExpireListing_BuyNow(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()
	seller := quanta.Pubkey{1}

	l, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: seller, Type: market.ListingTypeBuyNow,
		StartingPrice: 1, BuyNowPrice: ptr(uint64(2_000_000_000)),
		Duration: 3600,
	})
	require.NoError(t, err)

	clock.Advance(3601)
	l, err = svc.ExpireListing(ctx, ExpireParams{Listing: l.Key})
	require.NoError(t, err)
	require.Equal(t, market.ListingStatusExpired, l.Status)
}

func TestPublishesEvents(t *testing.T) {
	store := market.NewMemoryStore()
	clock := runtime.NewSimClock(1000)
	rent := runtime.NewSimRent()
	ledger := runtime.NewSimLedger()
	wsvc := withdrawal.New(store, clock, rent, ledger)
	hub := events.NewHub(slog.Default())
	svc := New(store, clock, rent, ledger, wsvc, hub)
	require.NoError(t, store.CreateConfig(context.Background(), &market.Config{PlatformFeeBPS: 250}))

	ctx := context.Background()
	_, _, err := svc.CreateListing(ctx, CreateParams{
		Seller: quanta.Pubkey{1}, Type: market.ListingTypeAuction,
		StartingPrice: 1, Duration: 3600,
	})
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }
