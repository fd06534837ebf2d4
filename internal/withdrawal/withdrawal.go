// Package withdrawal implements the pull-refund ledger: issuing
// PendingWithdrawal tickets to displaced bidders/offer-buyers, letting the
// ticket holder claim them, and the open-question expired-ticket sweeper.
// Grounded on the teacher's internal/escrow pull-style dispute resolution
// (refund moves state first, then transfers) and internal/ledger's Hold
// pattern (a claim record distinct from the balance it encumbers).
package withdrawal

import (
	"context"
	"fmt"

	"github.com/mbd888/solmarket/internal/escrowacct"
	"github.com/mbd888/solmarket/internal/events"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/marketerr"
	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/mbd888/solmarket/internal/runtime"
)

// PendingWithdrawalSpace is the nominal account size used for rent
// calculation; the wire layout per spec.md §3/§6 is a handful of fixed
// fields well under this bound.
const PendingWithdrawalSpace = 96

// Service issues and settles PendingWithdrawal tickets against a Listing's
// Escrow.
type Service struct {
	Store market.Store
	Clock runtime.Clock
	Rent  runtime.RentOracle
	Xfer  runtime.Transferor
	Hub   *events.Hub // optional; nil disables event publication
}

func New(store market.Store, clock runtime.Clock, rent runtime.RentOracle, xfer runtime.Transferor) *Service {
	return &Service{Store: store, Clock: clock, Rent: rent, Xfer: xfer}
}

func (s *Service) publish(typ events.Type, listing quanta.Pubkey, data any) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(events.NewEvent(typ, s.Clock.Now(), listing, data))
}

// Issue mints a new PendingWithdrawal ticket for a displaced bidder or
// offer-buyer, funding its rent reserve from payer (the seller, when an
// accepted offer displaces a standing bidder; the escrow itself otherwise,
// mirroring the spec's bid-displacement path where the protocol itself
// funds the ticket). Called by internal/listing and internal/offer; not an
// externally invoked instruction on its own.
func (s *Service) Issue(ctx context.Context, listing *market.Listing, user quanta.Pubkey, amount uint64, payer quanta.Pubkey) (*market.PendingWithdrawal, error) {
	if listing.WithdrawalCount >= market.MaxWithdrawalCount {
		return nil, marketerr.ErrMaxBidsExceeded
	}
	withdrawalID := listing.WithdrawalCount
	key, bump := quanta.DerivePDA([]byte("withdrawal"), listing.Key[:], quanta.LEBytes64(withdrawalID))

	now := s.Clock.Now()
	w := &market.PendingWithdrawal{
		Key:          key,
		User:         user,
		Listing:      listing.Key,
		Amount:       amount,
		WithdrawalID: withdrawalID,
		CreatedAt:    now,
		ExpiresAt:    now + market.WithdrawalExpiry,
		Bump:         bump,
	}

	// payer conceptually funds the new ticket account's rent reserve; the
	// simulated ledger credits the ticket account directly rather than
	// debiting payer, since a real host charges the payer's signing
	// transaction fee account, not a custody balance this core tracks.
	_ = payer
	if err := s.Xfer.CreditRentExempt(ctx, key, PendingWithdrawalSpace); err != nil {
		return nil, fmt.Errorf("withdrawal: fund rent reserve: %w", err)
	}
	if err := s.Store.CreatePendingWithdrawal(ctx, w); err != nil {
		return nil, err
	}

	listing.WithdrawalCount++
	if err := s.Store.UpdateListing(ctx, listing); err != nil {
		return nil, err
	}
	s.publish(events.WithdrawalCreated, listing.Key, map[string]any{"user": user, "amount": amount})
	return w, nil
}

// Withdraw lets the ticket's own user claim it: transfer from escrow to
// user, decrement escrow.amount, close the ticket with rent back to user.
func (s *Service) Withdraw(ctx context.Context, withdrawalKey, caller quanta.Pubkey) error {
	w, err := s.Store.GetPendingWithdrawal(ctx, withdrawalKey)
	if err != nil {
		return err
	}
	if caller != w.User {
		return marketerr.ErrNotWithdrawalOwner
	}
	return s.settle(ctx, w, w.User)
}

// ExpireWithdrawal is the open-question sweeper: any caller may, once
// now > expires_at, force the same settlement the user themselves would
// have triggered, refunding withdrawal.user (never the caller) and clearing
// the ticket so it no longer blocks sale close-out invariants.
func (s *Service) ExpireWithdrawal(ctx context.Context, withdrawalKey quanta.Pubkey) error {
	w, err := s.Store.GetPendingWithdrawal(ctx, withdrawalKey)
	if err != nil {
		return err
	}
	if s.Clock.Now() <= w.ExpiresAt {
		return marketerr.ErrWithdrawalNotExpired
	}
	return s.settle(ctx, w, w.User)
}

func (s *Service) settle(ctx context.Context, w *market.PendingWithdrawal, recipient quanta.Pubkey) error {
	escrow, err := s.Store.GetEscrowByListing(ctx, w.Listing)
	if err != nil {
		return err
	}

	rentReserve := s.Rent.MinimumBalance(0)
	if err := escrowacct.RequireCustody(ctx, s.Xfer, escrow.Key, w.Amount, rentReserve); err != nil {
		return err
	}

	newAmount, err := escrowacct.Debit(escrow.Amount, w.Amount)
	if err != nil {
		return err
	}
	escrow.Amount = newAmount
	if err := s.Store.UpdateEscrow(ctx, escrow); err != nil {
		return err
	}

	if err := s.Xfer.Transfer(ctx, escrow.Key, recipient, w.Amount); err != nil {
		return err
	}
	if err := s.Xfer.CloseAccount(ctx, w.Key, recipient, PendingWithdrawalSpace); err != nil {
		return err
	}
	if err := s.Store.DeletePendingWithdrawal(ctx, w.Key); err != nil {
		return err
	}
	s.publish(events.WithdrawalClaimed, w.Listing, map[string]any{"user": recipient, "amount": w.Amount})
	return nil
}
