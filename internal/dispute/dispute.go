// Package dispute implements the two-phase-timelocked dispute protocol:
// open, propose a resolution, contest it once, and execute it once
// uncontested past the timelock. Grounded on the teacher's
// internal/escrow/multistep.go multi-party payout split and
// internal/ledger.go's PartialEscrowSettle.
package dispute

import (
	"context"
	"sync"

	"github.com/mbd888/solmarket/internal/escrowacct"
	"github.com/mbd888/solmarket/internal/events"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/marketerr"
	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/mbd888/solmarket/internal/runtime"
)

// DisputeAccountSpace is the nominal account size used for rent refund on
// dispute close-out.
const DisputeAccountSpace = 256

// Service drives a Transaction's Disputed branch.
type Service struct {
	Store market.Store
	Clock runtime.Clock
	Rent  runtime.RentOracle
	Xfer  runtime.Transferor
	Hub   *events.Hub

	locks sync.Map // transaction key -> *sync.Mutex
}

func New(store market.Store, clock runtime.Clock, rent runtime.RentOracle, xfer runtime.Transferor, hub *events.Hub) *Service {
	return &Service{Store: store, Clock: clock, Rent: rent, Xfer: xfer, Hub: hub}
}

func (s *Service) lock(key quanta.Pubkey) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) publish(typ events.Type, listing quanta.Pubkey, data any) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(events.NewEvent(typ, s.Clock.Now(), listing, data))
}

// OpenParams parameterizes OpenDispute.
type OpenParams struct {
	Transaction quanta.Pubkey
	Initiator   quanta.Pubkey
	Reason      string
}

// OpenDispute lets either party contest an InEscrow Transaction, paying the
// listing-captured dispute_fee into the new Dispute account.
func (s *Service) OpenDispute(ctx context.Context, p OpenParams) (*market.Dispute, error) {
	mu := s.lock(p.Transaction)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Store.GetTransaction(ctx, p.Transaction)
	if err != nil {
		return nil, err
	}
	if t.Status != market.TransactionStatusInEscrow {
		return nil, marketerr.ErrInvalidTransactionStatus
	}
	if p.Initiator != t.Buyer && p.Initiator != t.Seller {
		return nil, marketerr.ErrNotPartyToTransaction
	}
	now := s.Clock.Now()
	if t.SellerConfirmedAt != nil && now > *t.SellerConfirmedAt+market.GracePeriod {
		return nil, marketerr.ErrDisputeDeadlineExpired
	}

	l, err := s.Store.GetListing(ctx, t.Listing)
	if err != nil {
		return nil, err
	}
	disputeFee, err := quanta.BPS(t.SalePrice, l.DisputeFeeBPS)
	if err != nil {
		return nil, err
	}

	respondent := t.Buyer
	if p.Initiator == t.Buyer {
		respondent = t.Seller
	}

	disputeKey, bump := quanta.DerivePDA([]byte("dispute"), p.Transaction[:])
	d := &market.Dispute{
		Key:         disputeKey,
		Transaction: p.Transaction,
		Initiator:   p.Initiator,
		Respondent:  respondent,
		Reason:      p.Reason,
		Status:      market.DisputeStatusOpen,
		DisputeFee:  disputeFee,
		CreatedAt:   now,
		Bump:        bump,
	}

	if err := s.Xfer.Transfer(ctx, p.Initiator, disputeKey, disputeFee); err != nil {
		return nil, err
	}
	if err := s.Xfer.CreditRentExempt(ctx, disputeKey, DisputeAccountSpace); err != nil {
		_ = s.Xfer.Transfer(ctx, disputeKey, p.Initiator, disputeFee)
		return nil, err
	}
	t.Status = market.TransactionStatusDisputed
	if err := s.Store.UpdateTransaction(ctx, t); err != nil {
		return nil, err
	}
	if err := s.Store.CreateDispute(ctx, d); err != nil {
		return nil, err
	}

	s.publish(events.DisputeOpened, t.Listing, map[string]any{"dispute": disputeKey, "initiator": p.Initiator})
	return d, nil
}

// ProposeParams parameterizes ProposeResolution.
type ProposeParams struct {
	Dispute      quanta.Pubkey
	Admin        quanta.Pubkey
	Resolution   market.DisputeResolution
	Notes        *string
}

// ProposeResolution is an admin-only action starting (or restarting) the
// 48h resolution timelock.
func (s *Service) ProposeResolution(ctx context.Context, p ProposeParams) (*market.Dispute, error) {
	d, err := s.Store.GetDispute(ctx, p.Dispute)
	if err != nil {
		return nil, err
	}

	mu := s.lock(d.Transaction)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if p.Admin != cfg.Admin {
		return nil, marketerr.ErrNotAdmin
	}
	if d.Status != market.DisputeStatusOpen && d.Status != market.DisputeStatusUnderReview {
		return nil, marketerr.ErrDisputeNotOpen
	}

	t, err := s.Store.GetTransaction(ctx, d.Transaction)
	if err != nil {
		return nil, err
	}
	if err := validateResolution(p.Resolution, t.SalePrice); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	res := p.Resolution
	d.Status = market.DisputeStatusUnderReview
	d.PendingResolution = &res
	d.PendingResolutionAt = &now
	d.ResolutionNotes = p.Notes
	d.Contested = false

	if err := s.Store.UpdateDispute(ctx, d); err != nil {
		return nil, err
	}

	s.publish(events.ResolutionProposed, t.Listing, map[string]any{"dispute": d.Key, "kind": res.Kind})
	return d, nil
}

func validateResolution(r market.DisputeResolution, salePrice uint64) error {
	switch r.Kind {
	case market.ResolutionFullRefund, market.ResolutionReleaseSeller:
		return nil
	case market.ResolutionPartialRefund:
		if r.BuyerAmount == 0 && r.SellerAmount == 0 {
			return marketerr.ErrInvalidRefundAmounts
		}
		sum, err := quanta.AddChecked(r.BuyerAmount, r.SellerAmount)
		if err != nil {
			return err
		}
		if sum != salePrice {
			return marketerr.ErrPartialRefundMustEqualSalePrice
		}
		return nil
	default:
		return marketerr.ErrInvalidRefundAmounts
	}
}

// ContestParams parameterizes ContestResolution.
type ContestParams struct {
	Dispute quanta.Pubkey
	Caller  quanta.Pubkey
}

// ContestResolution lets either party object, once, while the timelock is
// still running; execution is blocked until the admin re-proposes.
func (s *Service) ContestResolution(ctx context.Context, p ContestParams) (*market.Dispute, error) {
	d, err := s.Store.GetDispute(ctx, p.Dispute)
	if err != nil {
		return nil, err
	}

	mu := s.lock(d.Transaction)
	mu.Lock()
	defer mu.Unlock()

	if p.Caller != d.Initiator && p.Caller != d.Respondent {
		return nil, marketerr.ErrNotPartyToTransaction
	}
	if d.Status != market.DisputeStatusUnderReview || d.PendingResolutionAt == nil {
		return nil, marketerr.ErrNoPendingChange
	}
	if d.Contested {
		return nil, marketerr.ErrAlreadyContested
	}
	if s.Clock.Now() >= *d.PendingResolutionAt+market.DisputeTimelock {
		return nil, marketerr.ErrTimelockNotExpired
	}

	d.Contested = true
	if err := s.Store.UpdateDispute(ctx, d); err != nil {
		return nil, err
	}

	t, err := s.Store.GetTransaction(ctx, d.Transaction)
	if err != nil {
		return nil, err
	}
	s.publish(events.DisputeContested, t.Listing, map[string]any{"dispute": d.Key})
	return d, nil
}

// ExecuteParams parameterizes ExecuteResolution.
type ExecuteParams struct {
	Dispute  quanta.Pubkey
	Admin    quanta.Pubkey
	Treasury quanta.Pubkey
}

// ExecuteResolution pays out the pending resolution once uncontested and
// past the 48h timelock.
func (s *Service) ExecuteResolution(ctx context.Context, p ExecuteParams) (*market.Dispute, error) {
	d, err := s.Store.GetDispute(ctx, p.Dispute)
	if err != nil {
		return nil, err
	}

	mu := s.lock(d.Transaction)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if p.Admin != cfg.Admin {
		return nil, marketerr.ErrNotAdmin
	}
	if p.Treasury != cfg.Treasury {
		return nil, marketerr.ErrInvalidTreasury
	}
	if d.Status != market.DisputeStatusUnderReview || d.PendingResolution == nil || d.PendingResolutionAt == nil {
		return nil, marketerr.ErrNoPendingChange
	}
	if d.Contested {
		return nil, marketerr.ErrAlreadyContested
	}
	if s.Clock.Now() < *d.PendingResolutionAt+market.DisputeTimelock {
		return nil, marketerr.ErrTimelockNotExpired
	}

	t, err := s.Store.GetTransaction(ctx, d.Transaction)
	if err != nil {
		return nil, err
	}
	escrow, err := s.Store.GetEscrowByListing(ctx, t.Listing)
	if err != nil {
		return nil, err
	}
	rentReserve := s.Rent.MinimumBalance(0)
	if err := escrowacct.RequireCustody(ctx, s.Xfer, escrow.Key, t.SalePrice, rentReserve); err != nil {
		return nil, err
	}
	if err := escrowacct.NoPendingWithdrawals(escrow.Amount, t.SalePrice); err != nil {
		return nil, err
	}

	res := *d.PendingResolution
	switch res.Kind {
	case market.ResolutionFullRefund:
		if err := s.Xfer.Transfer(ctx, escrow.Key, t.Buyer, t.SalePrice); err != nil {
			return nil, err
		}
		if err := s.Xfer.Transfer(ctx, d.Key, t.Buyer, d.DisputeFee); err != nil {
			return nil, err
		}
		t.Status = market.TransactionStatusRefunded
	case market.ResolutionReleaseSeller:
		if err := s.Xfer.Transfer(ctx, escrow.Key, p.Treasury, t.PlatformFee); err != nil {
			return nil, err
		}
		if err := s.Xfer.Transfer(ctx, escrow.Key, t.Seller, t.SellerProceeds); err != nil {
			return nil, err
		}
		if err := s.Xfer.Transfer(ctx, d.Key, p.Treasury, d.DisputeFee); err != nil {
			return nil, err
		}
		now := s.Clock.Now()
		t.Status = market.TransactionStatusCompleted
		t.CompletedAt = &now
	case market.ResolutionPartialRefund:
		if err := s.Xfer.Transfer(ctx, escrow.Key, t.Buyer, res.BuyerAmount); err != nil {
			return nil, err
		}
		if err := s.Xfer.Transfer(ctx, escrow.Key, t.Seller, res.SellerAmount); err != nil {
			return nil, err
		}
		if err := s.Xfer.Transfer(ctx, d.Key, p.Treasury, d.DisputeFee); err != nil {
			return nil, err
		}
		now := s.Clock.Now()
		t.Status = market.TransactionStatusCompleted
		t.CompletedAt = &now
	default:
		return nil, marketerr.ErrInvalidRefundAmounts
	}

	if err := s.Xfer.CloseAccount(ctx, escrow.Key, t.Seller, 48); err != nil {
		return nil, err
	}
	if err := s.Xfer.CloseAccount(ctx, d.Key, p.Admin, DisputeAccountSpace); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	d.Status = market.DisputeStatusResolved
	d.Resolution = &res
	d.ResolvedAt = &now

	if err := s.Store.UpdateTransaction(ctx, t); err != nil {
		return nil, err
	}
	if err := s.Store.DeleteEscrow(ctx, escrow.Key); err != nil {
		return nil, err
	}
	if err := s.Store.DeleteDispute(ctx, d.Key); err != nil {
		return nil, err
	}

	s.publish(events.DisputeResolved, t.Listing, map[string]any{"dispute": d.Key, "kind": res.Kind})
	return d, nil
}
