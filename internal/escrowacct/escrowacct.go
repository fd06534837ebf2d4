// Package escrowacct implements the custody-accounting invariants shared by
// every path that moves funds into or out of a market.Escrow: checked
// increments/decrements of the tracked amount, and the pre-transfer and
// close-out balance checks from the spec's escrow accounting rules. It plays
// the role the teacher's internal/escrow package plays for its own
// buyer-protection escrows, generalized from a single Status-driven account
// to the PDA-custodied Escrow/OfferEscrow pair.
package escrowacct

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/mbd888/solmarket/internal/runtime"
)

var (
	// ErrInsufficientCustody means custody_balance < required + rent_reserve
	// ahead of an outbound transfer.
	ErrInsufficientCustody = errors.New("escrowacct: insufficient custody balance")
	// ErrPendingWithdrawalsExist signals a sale-path close-out found surplus
	// escrow.amount beyond what the sale itself owes: unclaimed
	// PendingWithdrawal tickets are still outstanding.
	ErrPendingWithdrawalsExist = errors.New("escrowacct: pending withdrawals exist")
)

// Credit increments a tracked amount by delta with overflow checking.
func Credit(amount uint64, delta uint64) (uint64, error) {
	return quanta.AddChecked(amount, delta)
}

// Debit decrements a tracked amount by delta with underflow checking.
func Debit(amount uint64, delta uint64) (uint64, error) {
	return quanta.SubChecked(amount, delta)
}

// RequireCustody enforces custody_balance >= required + rentReserve ahead of
// any outbound transfer from account.
func RequireCustody(ctx context.Context, xfer runtime.Transferor, account quanta.Pubkey, required, rentReserve uint64) error {
	balance, err := xfer.CustodyBalance(ctx, account)
	if err != nil {
		return fmt.Errorf("escrowacct: read custody balance: %w", err)
	}
	need, err := quanta.AddChecked(required, rentReserve)
	if err != nil {
		return err
	}
	if balance < need {
		return ErrInsufficientCustody
	}
	return nil
}

// EscrowBalanceMatch is the close-out invariant: custody_balance >=
// escrow.amount + rentReserve.
func EscrowBalanceMatch(ctx context.Context, xfer runtime.Transferor, escrowAccount quanta.Pubkey, trackedAmount, rentReserve uint64) error {
	return RequireCustody(ctx, xfer, escrowAccount, trackedAmount, rentReserve)
}

// NoPendingWithdrawals is the sale-path close-out invariant: trackedAmount
// must equal exactly what the sale itself owes (platformFee+sellerProceeds,
// or salePrice on the dispute/emergency paths). Any surplus means unclaimed
// PendingWithdrawal tickets are still outstanding and the instruction must
// fail rather than let their claims be silently dropped.
func NoPendingWithdrawals(trackedAmount, owed uint64) error {
	if trackedAmount != owed {
		return ErrPendingWithdrawalsExist
	}
	return nil
}
