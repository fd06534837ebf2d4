package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/solmarket/internal/dispute"
	"github.com/mbd888/solmarket/internal/listing"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/mbd888/solmarket/internal/runtime"
)

// stubVerifier always approves: these scenarios exercise the accounting and
// state machine, not signature verification itself (internal/verify covers
// that in isolation).
type stubVerifier struct{ ok bool }

func (v stubVerifier) Verify(quanta.Pubkey, []byte, []byte) bool { return v.ok }

func newScenarioEngine(t *testing.T) (*Engine, *runtime.SimClock, *runtime.SimLedger) {
	t.Helper()
	clock := runtime.NewSimClock(0)
	ledger := runtime.NewSimLedger()
	eng := New(Deps{
		Store:    market.NewMemoryStore(),
		Clock:    clock,
		Rent:     runtime.NewSimRent(),
		Xfer:     ledger,
		Verifier: stubVerifier{ok: true},
	})
	return eng, clock, ledger
}

func seedConfig(t *testing.T, eng *Engine, admin, treasury, backend quanta.Pubkey) {
	t.Helper()
	require.NoError(t, eng.Store.CreateConfig(context.Background(), &market.Config{
		Admin:            admin,
		Treasury:         treasury,
		BackendAuthority: backend,
		PlatformFeeBPS:   500,
		DisputeFeeBPS:    200,
	}))
}

// Scenario 1: buy-now happy path (spec.md §8.1).
func TestScenario_BuyNowHappyPath(t *testing.T) {
	eng, clock, ledger := newScenarioEngine(t)
	ctx := context.Background()
	admin, treasury, backend := quanta.Pubkey{0xA}, quanta.Pubkey{0xB}, quanta.Pubkey{0xC}
	seedConfig(t, eng, admin, treasury, backend)

	seller, buyer := quanta.Pubkey{1}, quanta.Pubkey{2}
	buyNowPrice := uint64(2_000_000_000)
	ledger.Fund(buyer, 3_000_000_000)

	l, _, err := eng.Listing.CreateListing(ctx, listing.CreateParams{
		Seller:        seller,
		Salt:          1,
		Type:          market.ListingTypeAuction,
		StartingPrice: buyNowPrice,
		BuyNowPrice:   &buyNowPrice,
		Duration:      86400,
	})
	require.NoError(t, err)

	_, tx, err := eng.Listing.BuyNow(ctx, listing.BuyNowParams{Listing: l.Key, Buyer: buyer})
	require.NoError(t, err)

	escrow, err := eng.Store.GetEscrowByListing(ctx, l.Key)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000), escrow.Amount)
	assert.Equal(t, uint64(100_000_000), tx.PlatformFee)
	assert.Equal(t, uint64(1_900_000_000), tx.SellerProceeds)

	reloaded, err := eng.Store.GetListing(ctx, l.Key)
	require.NoError(t, err)
	assert.Equal(t, market.ListingStatusSold, reloaded.Status)
	assert.Equal(t, clock.Now(), reloaded.EndTime)
}

// Scenario 2: contested auction with a displaced bidder (spec.md §8.2).
func TestScenario_ContestedAuctionWithDisplacedBidder(t *testing.T) {
	eng, clock, ledger := newScenarioEngine(t)
	ctx := context.Background()
	admin, treasury, backend := quanta.Pubkey{0xA}, quanta.Pubkey{0xB}, quanta.Pubkey{0xC}
	seedConfig(t, eng, admin, treasury, backend)

	seller, b1, b2 := quanta.Pubkey{1}, quanta.Pubkey{2}, quanta.Pubkey{3}
	reserve := uint64(1_000_000_000)
	ledger.Fund(b1, 2_000_000_000)
	ledger.Fund(b2, 2_000_000_000)

	l, _, err := eng.Listing.CreateListing(ctx, listing.CreateParams{
		Seller:        seller,
		Salt:          1,
		Type:          market.ListingTypeAuction,
		StartingPrice: reserve,
		ReservePrice:  &reserve,
		Duration:      3600,
	})
	require.NoError(t, err)

	clock.Set(10)
	l, err = eng.Listing.PlaceBid(ctx, listing.BidParams{Listing: l.Key, Bidder: b1, Amount: 1_000_000_000})
	require.NoError(t, err)
	assert.True(t, l.AuctionStarted)
	assert.Equal(t, int64(3610), l.EndTime)

	clock.Set(3600)
	l, err = eng.Listing.PlaceBid(ctx, listing.BidParams{Listing: l.Key, Bidder: b2, Amount: 1_200_000_000})
	require.NoError(t, err)
	assert.Equal(t, int64(4500), l.EndTime)

	clock.Set(4500)
	_, tx, err := eng.Listing.SettleAuction(ctx, listing.SettleParams{Listing: l.Key, Caller: seller, Bidder: b2, Admin: admin})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_200_000_000), tx.SalePrice)

	withdrawals, err := eng.Store.ListPendingWithdrawalsByListing(ctx, l.Key)
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	assert.Equal(t, b1, withdrawals[0].User)
	assert.Equal(t, uint64(1_000_000_000), withdrawals[0].Amount)

	escrow, err := eng.Store.GetEscrowByListing(ctx, l.Key)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_200_000_000), escrow.Amount)
}

// Scenario 3: withdraw the displaced bid, then finalize the sale
// (spec.md §8.3, continuing scenario 2).
func TestScenario_WithdrawThenFinalize(t *testing.T) {
	eng, clock, ledger := newScenarioEngine(t)
	ctx := context.Background()
	admin, treasury, backend := quanta.Pubkey{0xA}, quanta.Pubkey{0xB}, quanta.Pubkey{0xC}
	seedConfig(t, eng, admin, treasury, backend)

	seller, b1, b2 := quanta.Pubkey{1}, quanta.Pubkey{2}, quanta.Pubkey{3}
	reserve := uint64(1_000_000_000)
	ledger.Fund(b1, 2_000_000_000)
	ledger.Fund(b2, 2_000_000_000)

	l, _, err := eng.Listing.CreateListing(ctx, listing.CreateParams{
		Seller:        seller,
		Salt:          1,
		Type:          market.ListingTypeAuction,
		StartingPrice: reserve,
		ReservePrice:  &reserve,
		Duration:      3600,
	})
	require.NoError(t, err)
	clock.Set(10)
	_, err = eng.Listing.PlaceBid(ctx, listing.BidParams{Listing: l.Key, Bidder: b1, Amount: 1_000_000_000})
	require.NoError(t, err)
	clock.Set(3600)
	_, err = eng.Listing.PlaceBid(ctx, listing.BidParams{Listing: l.Key, Bidder: b2, Amount: 1_200_000_000})
	require.NoError(t, err)
	clock.Set(4500)
	_, tx, err := eng.Listing.SettleAuction(ctx, listing.SettleParams{Listing: l.Key, Caller: seller, Bidder: b2, Admin: admin})
	require.NoError(t, err)

	withdrawals, err := eng.Store.ListPendingWithdrawalsByListing(ctx, l.Key)
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	require.NoError(t, eng.Withdrawal.Withdraw(ctx, withdrawals[0].Key, b1))

	escrow, err := eng.Store.GetEscrowByListing(ctx, l.Key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_200_000_000), escrow.Amount)

	_, err = eng.Completion.ConfirmTransfer(ctx, tx.Key, seller)
	require.NoError(t, err)
	_, err = eng.Completion.BackendVerify(ctx, tx.Key, backend, []byte("sig"))
	require.NoError(t, err)

	clock.Advance(market.GracePeriod)
	tx, err = eng.Completion.Finalize(ctx, tx.Key, seller, treasury)
	require.NoError(t, err)

	assert.Equal(t, market.TransactionStatusCompleted, tx.Status)
	treasuryBal, err := ledger.CustodyBalance(ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, uint64(60_000_000), treasuryBal)
	sellerBal, err := ledger.CustodyBalance(ctx, seller)
	require.NoError(t, err)
	// Proceeds plus the escrow's rent reserve, returned when it is closed.
	assert.Equal(t, uint64(1_140_000_000)+runtime.NewSimRent().MinimumBalance(listing.EscrowAccountSpace), sellerBal)

	_, err = eng.Store.GetEscrowByListing(ctx, l.Key)
	assert.Error(t, err)

	cfg, err := eng.Store.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.TotalSales)
	assert.Equal(t, uint64(1_200_000_000), cfg.TotalVolume)
}

// Scenario 4: emergency refund is only available if the seller never
// confirmed transfer (spec.md §8.4).
func TestScenario_EmergencyRefundOnlyIfNotConfirmed(t *testing.T) {
	eng, clock, ledger := newScenarioEngine(t)
	ctx := context.Background()
	admin, treasury, backend := quanta.Pubkey{0xA}, quanta.Pubkey{0xB}, quanta.Pubkey{0xC}
	seedConfig(t, eng, admin, treasury, backend)

	seller, buyer := quanta.Pubkey{1}, quanta.Pubkey{2}
	price := uint64(1_000_000_000)
	ledger.Fund(buyer, 2_000_000_000)

	l, _, err := eng.Listing.CreateListing(ctx, listing.CreateParams{
		Seller: seller, Salt: 1, Type: market.ListingTypeBuyNow,
		StartingPrice: price, BuyNowPrice: &price, Duration: 86400,
	})
	require.NoError(t, err)
	_, tx, err := eng.Listing.BuyNow(ctx, listing.BuyNowParams{Listing: l.Key, Buyer: buyer})
	require.NoError(t, err)

	clock.Advance(market.TransferWindow + 1)
	refunded, err := eng.Completion.EmergencyRefund(ctx, tx.Key, buyer)
	require.NoError(t, err)
	assert.Equal(t, market.TransactionStatusRefunded, refunded.Status)
	buyerBal, err := ledger.CustodyBalance(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000), buyerBal) // funded balance fully restored

	// Same setup, but the seller confirms before the deadline: emergency
	// refund must now be rejected.
	eng2, clock2, ledger2 := newScenarioEngine(t)
	seedConfig(t, eng2, admin, treasury, backend)
	ledger2.Fund(buyer, 2_000_000_000)
	l2, _, err := eng2.Listing.CreateListing(ctx, listing.CreateParams{
		Seller: seller, Salt: 1, Type: market.ListingTypeBuyNow,
		StartingPrice: price, BuyNowPrice: &price, Duration: 86400,
	})
	require.NoError(t, err)
	_, tx2, err := eng2.Listing.BuyNow(ctx, listing.BuyNowParams{Listing: l2.Key, Buyer: buyer})
	require.NoError(t, err)

	clock2.Set(1 * 24 * 3600)
	_, err = eng2.Completion.ConfirmTransfer(ctx, tx2.Key, seller)
	require.NoError(t, err)

	clock2.Set(market.TransferWindow + 1)
	_, err = eng2.Completion.EmergencyRefund(ctx, tx2.Key, buyer)
	assert.Error(t, err)
}

// Scenario 5: dispute with contest then re-proposal (spec.md §8.5).
func TestScenario_DisputeContestThenReproposal(t *testing.T) {
	eng, clock, ledger := newScenarioEngine(t)
	ctx := context.Background()
	admin, treasury, backend := quanta.Pubkey{0xA}, quanta.Pubkey{0xB}, quanta.Pubkey{0xC}
	seedConfig(t, eng, admin, treasury, backend)

	seller, buyer := quanta.Pubkey{1}, quanta.Pubkey{2}
	price := uint64(1_000_000_000)
	ledger.Fund(buyer, 2_000_000_000)

	l, _, err := eng.Listing.CreateListing(ctx, listing.CreateParams{
		Seller: seller, Salt: 1, Type: market.ListingTypeBuyNow,
		StartingPrice: price, BuyNowPrice: &price, Duration: 86400,
	})
	require.NoError(t, err)
	_, tx, err := eng.Listing.BuyNow(ctx, listing.BuyNowParams{Listing: l.Key, Buyer: buyer})
	require.NoError(t, err)
	_, err = eng.Completion.ConfirmTransfer(ctx, tx.Key, seller)
	require.NoError(t, err)

	d, err := eng.Dispute.OpenDispute(ctx, dispute.OpenParams{Transaction: tx.Key, Initiator: buyer, Reason: "item not as described"})
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), d.DisputeFee) // 200 bps of 1e9

	d, err = eng.Dispute.ProposeResolution(ctx, dispute.ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionReleaseSeller},
	})
	require.NoError(t, err)

	_, err = eng.Dispute.ContestResolution(ctx, dispute.ContestParams{Dispute: d.Key, Caller: buyer})
	require.NoError(t, err)

	clock.Advance(market.DisputeTimelock + 1)
	_, err = eng.Dispute.ExecuteResolution(ctx, dispute.ExecuteParams{Dispute: d.Key, Admin: admin, Treasury: treasury})
	assert.Error(t, err)

	buyerShare := uint64(400_000_000)
	sellerShare := uint64(600_000_000)
	d, err = eng.Dispute.ProposeResolution(ctx, dispute.ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionPartialRefund, BuyerAmount: buyerShare, SellerAmount: sellerShare},
	})
	require.NoError(t, err)

	clock.Advance(market.DisputeTimelock + 1)
	resolved, err := eng.Dispute.ExecuteResolution(ctx, dispute.ExecuteParams{Dispute: d.Key, Admin: admin, Treasury: treasury})
	require.NoError(t, err)
	assert.Equal(t, market.DisputeStatusResolved, resolved.Status)

	finalTx, err := eng.Store.GetTransaction(ctx, tx.Key)
	require.NoError(t, err)
	assert.Equal(t, market.TransactionStatusCompleted, finalTx.Status)

	buyerBal, err := ledger.CustodyBalance(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000)-price-d.DisputeFee+buyerShare, buyerBal)
	sellerBal, err := ledger.CustodyBalance(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, sellerShare+runtime.NewSimRent().MinimumBalance(listing.EscrowAccountSpace), sellerBal)
	treasuryBal, err := ledger.CustodyBalance(ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, d.DisputeFee, treasuryBal)

	_, err = eng.Store.GetDispute(ctx, d.Key)
	assert.Error(t, err)
}

// Scenario 6: the consecutive-bid spam bound and its reset on a different
// bidder (spec.md §8.6).
func TestScenario_ConsecutiveBidSpamBound(t *testing.T) {
	eng, _, ledger := newScenarioEngine(t)
	ctx := context.Background()
	admin, treasury, backend := quanta.Pubkey{0xA}, quanta.Pubkey{0xB}, quanta.Pubkey{0xC}
	seedConfig(t, eng, admin, treasury, backend)

	seller, bidder, other := quanta.Pubkey{1}, quanta.Pubkey{2}, quanta.Pubkey{3}
	ledger.Fund(bidder, 100_000_000_000)
	ledger.Fund(other, 100_000_000_000)

	l, _, err := eng.Listing.CreateListing(ctx, listing.CreateParams{
		Seller: seller, Salt: 1, Type: market.ListingTypeAuction,
		StartingPrice: 1_000_000_000, Duration: 86400,
	})
	require.NoError(t, err)

	nextAmount := func(current uint64) uint64 {
		increment, err := quanta.BPS(current, market.MinIncrementBPS)
		require.NoError(t, err)
		if increment < market.MinIncrementFloor {
			increment = market.MinIncrementFloor
		}
		return current + increment
	}

	amount := uint64(1_000_000_000)
	for i := 0; i < 10; i++ {
		l, err = eng.Listing.PlaceBid(ctx, listing.BidParams{Listing: l.Key, Bidder: bidder, Amount: amount})
		require.NoErrorf(t, err, "bid %d from same bidder should succeed", i+1)
		amount = nextAmount(amount)
	}
	assert.Equal(t, uint32(10), l.ConsecutiveBidCount)

	_, err = eng.Listing.PlaceBid(ctx, listing.BidParams{Listing: l.Key, Bidder: bidder, Amount: amount})
	assert.Error(t, err)

	l, err = eng.Listing.PlaceBid(ctx, listing.BidParams{Listing: l.Key, Bidder: other, Amount: amount})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), l.ConsecutiveBidCount)

	amount = nextAmount(amount)
	_, err = eng.Listing.PlaceBid(ctx, listing.BidParams{Listing: l.Key, Bidder: bidder, Amount: amount})
	require.NoError(t, err)
}
