package dispute

import (
	"context"
	"testing"

	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/marketerr"
	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/mbd888/solmarket/internal/runtime"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, market.Store, *runtime.SimLedger, *runtime.SimClock) {
	t.Helper()
	store := market.NewMemoryStore()
	clock := runtime.NewSimClock(1000)
	rent := runtime.NewSimRent()
	ledger := runtime.NewSimLedger()
	svc := New(store, clock, rent, ledger, nil)
	return svc, store, ledger, clock
}

var admin, treasury, seller, buyer = quanta.Pubkey{9}, quanta.Pubkey{8}, quanta.Pubkey{2}, quanta.Pubkey{3}

func seedDisputableTransaction(t *testing.T, store market.Store, ledger *runtime.SimLedger, clock *runtime.SimClock, disputeFeeBPS uint16) *market.Transaction {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateConfig(ctx, &market.Config{Admin: admin, Treasury: treasury}))

	listingKey := quanta.Pubkey{1}
	require.NoError(t, store.CreateListing(ctx, &market.Listing{
		Key: listingKey, Seller: seller, Status: market.ListingStatusSold, DisputeFeeBPS: disputeFeeBPS,
	}))

	escrowKey := quanta.Pubkey{4}
	require.NoError(t, store.CreateEscrow(ctx, &market.Escrow{Key: escrowKey, Listing: listingKey, Amount: 1_000_000_000}))
	rent := runtime.NewSimRent()
	ledger.Fund(escrowKey, 1_000_000_000+rent.MinimumBalance(0))

	tx := &market.Transaction{
		Key: quanta.Pubkey{5}, Listing: listingKey, Seller: seller, Buyer: buyer,
		SalePrice: 1_000_000_000, PlatformFee: 25_000_000, SellerProceeds: 975_000_000,
		Status: market.TransactionStatusInEscrow, CreatedAt: clock.Now(),
	}
	require.NoError(t, store.CreateTransaction(ctx, tx))
	ledger.Fund(buyer, 1_000_000_000)
	return tx
}

func TestOpenDispute_HappyPath(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	tx := seedDisputableTransaction(t, store, ledger, clock, 1000)

	d, err := svc.OpenDispute(ctx, OpenParams{Transaction: tx.Key, Initiator: tx.Buyer, Reason: "item not as described"})
	require.NoError(t, err)
	require.Equal(t, market.DisputeStatusOpen, d.Status)
	require.Equal(t, uint64(100_000_000), d.DisputeFee)

	got, err := store.GetTransaction(ctx, tx.Key)
	require.NoError(t, err)
	require.Equal(t, market.TransactionStatusDisputed, got.Status)
}

func TestOpenDispute_NotParty(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	tx := seedDisputableTransaction(t, store, ledger, clock, 1000)

	_, err := svc.OpenDispute(ctx, OpenParams{Transaction: tx.Key, Initiator: quanta.Pubkey{77}})
	require.ErrorIs(t, err, marketerr.ErrNotPartyToTransaction)
}

func TestOpenDispute_PastDeadlineAfterSellerConfirmed(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	tx := seedDisputableTransaction(t, store, ledger, clock, 1000)

	confirmedAt := clock.Now()
	tx.SellerConfirmedTransfer = true
	tx.SellerConfirmedAt = &confirmedAt
	require.NoError(t, store.UpdateTransaction(ctx, tx))

	clock.Advance(market.GracePeriod + 1)
	_, err := svc.OpenDispute(ctx, OpenParams{Transaction: tx.Key, Initiator: tx.Buyer})
	require.ErrorIs(t, err, marketerr.ErrDisputeDeadlineExpired)
}

func openedDispute(t *testing.T, svc *Service, store market.Store, ledger *runtime.SimLedger, clock *runtime.SimClock) (*market.Dispute, *market.Transaction) {
	t.Helper()
	ctx := context.Background()
	tx := seedDisputableTransaction(t, store, ledger, clock, 1000)
	d, err := svc.OpenDispute(ctx, OpenParams{Transaction: tx.Key, Initiator: tx.Buyer, Reason: "x"})
	require.NoError(t, err)
	return d, tx
}

func TestProposeAndExecute_FullRefund(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	d, tx := openedDispute(t, svc, store, ledger, clock)

	_, err := svc.ProposeResolution(ctx, ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionFullRefund},
	})
	require.NoError(t, err)

	clock.Advance(market.DisputeTimelock + 1)
	got, err := svc.ExecuteResolution(ctx, ExecuteParams{Dispute: d.Key, Admin: admin, Treasury: treasury})
	require.NoError(t, err)
	require.Equal(t, market.DisputeStatusResolved, got.Status)

	gotTx, err := store.GetTransaction(ctx, tx.Key)
	require.NoError(t, err)
	require.Equal(t, market.TransactionStatusRefunded, gotTx.Status)

	_, err = store.GetDispute(ctx, d.Key)
	require.Error(t, err)
}

func TestProposeAndExecute_ReleaseToSeller(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	d, tx := openedDispute(t, svc, store, ledger, clock)

	_, err := svc.ProposeResolution(ctx, ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionReleaseSeller},
	})
	require.NoError(t, err)

	clock.Advance(market.DisputeTimelock + 1)
	_, err = svc.ExecuteResolution(ctx, ExecuteParams{Dispute: d.Key, Admin: admin, Treasury: treasury})
	require.NoError(t, err)

	gotTx, err := store.GetTransaction(ctx, tx.Key)
	require.NoError(t, err)
	require.Equal(t, market.TransactionStatusCompleted, gotTx.Status)
}

func TestProposeResolution_PartialRefundMustEqualSalePrice(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	d, _ := openedDispute(t, svc, store, ledger, clock)

	_, err := svc.ProposeResolution(ctx, ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionPartialRefund, BuyerAmount: 100, SellerAmount: 200},
	})
	require.ErrorIs(t, err, marketerr.ErrPartialRefundMustEqualSalePrice)
}

func TestProposeAndExecute_PartialRefund(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	d, tx := openedDispute(t, svc, store, ledger, clock)

	_, err := svc.ProposeResolution(ctx, ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionPartialRefund, BuyerAmount: 400_000_000, SellerAmount: 600_000_000},
	})
	require.NoError(t, err)

	clock.Advance(market.DisputeTimelock + 1)
	_, err = svc.ExecuteResolution(ctx, ExecuteParams{Dispute: d.Key, Admin: admin, Treasury: treasury})
	require.NoError(t, err)

	gotTx, err := store.GetTransaction(ctx, tx.Key)
	require.NoError(t, err)
	require.Equal(t, market.TransactionStatusCompleted, gotTx.Status)
}

func TestContestResolution_BlocksExecution(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	d, _ := openedDispute(t, svc, store, ledger, clock)

	_, err := svc.ProposeResolution(ctx, ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionFullRefund},
	})
	require.NoError(t, err)

	_, err = svc.ContestResolution(ctx, ContestParams{Dispute: d.Key, Caller: seller})
	require.NoError(t, err)

	clock.Advance(market.DisputeTimelock + 1)
	_, err = svc.ExecuteResolution(ctx, ExecuteParams{Dispute: d.Key, Admin: admin, Treasury: treasury})
	require.ErrorIs(t, err, marketerr.ErrAlreadyContested)
}

func TestContestResolution_TwiceFails(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	d, _ := openedDispute(t, svc, store, ledger, clock)

	_, err := svc.ProposeResolution(ctx, ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionFullRefund},
	})
	require.NoError(t, err)

	_, err = svc.ContestResolution(ctx, ContestParams{Dispute: d.Key, Caller: seller})
	require.NoError(t, err)
	_, err = svc.ContestResolution(ctx, ContestParams{Dispute: d.Key, Caller: buyer})
	require.ErrorIs(t, err, marketerr.ErrAlreadyContested)
}

func TestExecuteResolution_BeforeTimelockFails(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	d, _ := openedDispute(t, svc, store, ledger, clock)

	_, err := svc.ProposeResolution(ctx, ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionFullRefund},
	})
	require.NoError(t, err)

	_, err = svc.ExecuteResolution(ctx, ExecuteParams{Dispute: d.Key, Admin: admin, Treasury: treasury})
	require.ErrorIs(t, err, marketerr.ErrTimelockNotExpired)
}

func TestExecuteResolution_WrongTreasuryFails(t *testing.T) {
	svc, store, ledger, clock := newTestService(t)
	ctx := context.Background()
	d, _ := openedDispute(t, svc, store, ledger, clock)

	_, err := svc.ProposeResolution(ctx, ProposeParams{
		Dispute: d.Key, Admin: admin,
		Resolution: market.DisputeResolution{Kind: market.ResolutionFullRefund},
	})
	require.NoError(t, err)

	clock.Advance(market.DisputeTimelock + 1)
	_, err = svc.ExecuteResolution(ctx, ExecuteParams{Dispute: d.Key, Admin: admin, Treasury: quanta.Pubkey{55}})
	require.ErrorIs(t, err, marketerr.ErrInvalidTreasury)
}
