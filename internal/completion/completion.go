// Package completion implements the Transaction state machine: seller
// confirmation, backend verification (with its two emergency fallbacks),
// the grace-period finalize path, the buyer's confirm-receipt path, and
// emergency refund for a seller who never confirmed. Grounded on the
// teacher's internal/escrow.go MarkDelivered/Confirm/AutoRelease state
// machine and its per-id sync.Map locking.
package completion

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

// EscrowAccountSpace is the nominal account size used for rent refunds when
// an Escrow closes; must match internal/listing's EscrowAccountSpace.
const EscrowAccountSpace = 48

// Service drives a Transaction from InEscrow through to Completed or
// Refunded.
type Service struct {
	Store    market.Store
	Clock    runtime.Clock
	Rent     runtime.RentOracle
	Xfer     runtime.Transferor
	Verifier runtime.BackendVerifier
	Hub      *events.Hub

	locks sync.Map // transaction key -> *sync.Mutex
}

func New(store market.Store, clock runtime.Clock, rent runtime.RentOracle, xfer runtime.Transferor, verifier runtime.BackendVerifier, hub *events.Hub) *Service {
	return &Service{Store: store, Clock: clock, Rent: rent, Xfer: xfer, Verifier: verifier, Hub: hub}
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

// ConfirmTransfer is the seller's attestation that the asset was handed off.
func (s *Service) ConfirmTransfer(ctx context.Context, tx quanta.Pubkey, seller quanta.Pubkey) (*market.Transaction, error) {
	mu := s.lock(tx)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Store.GetTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if seller != t.Seller {
		return nil, marketerr.ErrNotSeller
	}
	if t.Status != market.TransactionStatusInEscrow {
		return nil, marketerr.ErrInvalidTransactionStatus
	}
	if t.SellerConfirmedTransfer {
		return nil, marketerr.ErrAlreadyConfirmed
	}

	now := s.Clock.Now()
	t.SellerConfirmedTransfer = true
	t.SellerConfirmedAt = &now
	if err := s.Store.UpdateTransaction(ctx, t); err != nil {
		return nil, err
	}

	s.publish(events.SellerConfirmedTransfer, t.Listing, map[string]any{"transaction": t.Key})
	return t, nil
}

// BackendVerify records successful off-chain upload verification, gated on
// a backend_authority signature over the transaction key.
func (s *Service) BackendVerify(ctx context.Context, tx quanta.Pubkey, backendAuthority quanta.Pubkey, signature []byte) (*market.Transaction, error) {
	mu := s.lock(tx)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Store.GetTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if backendAuthority != cfg.BackendAuthority {
		return nil, marketerr.ErrNotBackendAuthority
	}
	if !s.Verifier.Verify(backendAuthority, t.Key[:], signature) {
		return nil, marketerr.ErrNotBackendAuthority
	}
	if t.Status != market.TransactionStatusInEscrow || !t.SellerConfirmedTransfer {
		return nil, marketerr.ErrInvalidTransactionStatus
	}
	if t.UploadsVerified {
		return nil, marketerr.ErrAlreadyVerified
	}

	now := s.Clock.Now()
	t.UploadsVerified = true
	t.VerificationTimestamp = &now
	if err := s.Store.UpdateTransaction(ctx, t); err != nil {
		return nil, err
	}

	s.publish(events.UploadsVerified, t.Listing, map[string]any{"transaction": t.Key})
	return t, nil
}

// emergencyVerify is the shared body of the two 30-day backend-timeout
// fallbacks; only the caller-identity check differs between them.
func (s *Service) emergencyVerify(ctx context.Context, tx quanta.Pubkey) (*market.Transaction, error) {
	t, err := s.Store.GetTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if t.Status != market.TransactionStatusInEscrow || !t.SellerConfirmedTransfer {
		return nil, marketerr.ErrInvalidTransactionStatus
	}
	if t.UploadsVerified {
		return nil, marketerr.ErrAlreadyVerified
	}
	if t.SellerConfirmedAt == nil || s.Clock.Now() < *t.SellerConfirmedAt+market.BackendTimeout {
		return nil, marketerr.ErrBackendTimeoutNotExpired
	}

	now := s.Clock.Now()
	t.UploadsVerified = true
	t.VerificationTimestamp = &now
	t.VerificationHash = market.EmergencyVerificationHash
	if err := s.Store.UpdateTransaction(ctx, t); err != nil {
		return nil, err
	}

	s.publish(events.EmergencyVerification, t.Listing, map[string]any{"transaction": t.Key})
	return t, nil
}

// EmergencyAutoVerify lets the buyer force uploads_verified after a
// 30-day unresponsive backend.
func (s *Service) EmergencyAutoVerify(ctx context.Context, tx quanta.Pubkey, buyer quanta.Pubkey) (*market.Transaction, error) {
	mu := s.lock(tx)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Store.GetTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if buyer != t.Buyer {
		return nil, marketerr.ErrNotBuyer
	}
	return s.emergencyVerify(ctx, tx)
}

// AdminEmergencyVerify is the admin's analogue of EmergencyAutoVerify.
func (s *Service) AdminEmergencyVerify(ctx context.Context, tx quanta.Pubkey, admin quanta.Pubkey) (*market.Transaction, error) {
	mu := s.lock(tx)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if admin != cfg.Admin {
		return nil, marketerr.ErrNotAdmin
	}
	return s.emergencyVerify(ctx, tx)
}

// Finalize is the seller's own closeout path, legal 7 days after
// seller_confirmed_at once uploads are verified.
func (s *Service) Finalize(ctx context.Context, tx quanta.Pubkey, seller, treasury quanta.Pubkey) (*market.Transaction, error) {
	mu := s.lock(tx)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Store.GetTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if seller != t.Seller {
		return nil, marketerr.ErrNotSeller
	}
	if t.Status != market.TransactionStatusInEscrow {
		return nil, marketerr.ErrCannotFinalizeDisputed
	}
	if !t.SellerConfirmedTransfer || !t.UploadsVerified {
		return nil, marketerr.ErrInvalidTransactionStatus
	}
	if t.SellerConfirmedAt == nil || s.Clock.Now() < *t.SellerConfirmedAt+market.GracePeriod {
		return nil, marketerr.ErrGracePeriodNotExpired
	}
	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if treasury != cfg.Treasury {
		return nil, marketerr.ErrInvalidTreasury
	}

	return s.complete(ctx, t, cfg, treasury)
}

// ConfirmReceipt is the buyer's analogue of Finalize, with no grace period.
func (s *Service) ConfirmReceipt(ctx context.Context, tx quanta.Pubkey, buyer, treasury quanta.Pubkey) (*market.Transaction, error) {
	mu := s.lock(tx)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Store.GetTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if buyer != t.Buyer {
		return nil, marketerr.ErrNotBuyer
	}
	if t.Status != market.TransactionStatusInEscrow {
		return nil, marketerr.ErrCannotFinalizeDisputed
	}
	if !t.UploadsVerified {
		return nil, marketerr.ErrInvalidTransactionStatus
	}
	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if treasury != cfg.Treasury {
		return nil, marketerr.ErrInvalidTreasury
	}

	return s.complete(ctx, t, cfg, treasury)
}

// complete runs the shared escrow-release accounting for Finalize and
// ConfirmReceipt: platform_fee to treasury, seller_proceeds to seller,
// saturating-add lifetime stats, Completed status, Escrow closed to seller.
func (s *Service) complete(ctx context.Context, t *market.Transaction, cfg *market.Config, treasury quanta.Pubkey) (*market.Transaction, error) {
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

	if err := s.Xfer.Transfer(ctx, escrow.Key, treasury, t.PlatformFee); err != nil {
		return nil, err
	}
	if err := s.Xfer.Transfer(ctx, escrow.Key, t.Seller, t.SellerProceeds); err != nil {
		return nil, err
	}
	if err := s.Xfer.CloseAccount(ctx, escrow.Key, t.Seller, EscrowAccountSpace); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	t.Status = market.TransactionStatusCompleted
	t.CompletedAt = &now
	if err := s.Store.UpdateTransaction(ctx, t); err != nil {
		return nil, err
	}
	if err := s.Store.DeleteEscrow(ctx, escrow.Key); err != nil {
		return nil, err
	}

	cfg.TotalVolume = quanta.SaturatingAdd(cfg.TotalVolume, t.SalePrice)
	cfg.TotalSales = quanta.SaturatingAdd(cfg.TotalSales, 1)
	if err := s.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}

	s.publish(events.TransactionCompleted, t.Listing, map[string]any{"transaction": t.Key, "sale_price": t.SalePrice})
	return t, nil
}

// EmergencyRefund returns sale funds to the buyer when the seller never
// confirmed transfer before transfer_deadline.
func (s *Service) EmergencyRefund(ctx context.Context, tx quanta.Pubkey, buyer quanta.Pubkey) (*market.Transaction, error) {
	mu := s.lock(tx)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Store.GetTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if buyer != t.Buyer {
		return nil, marketerr.ErrNotBuyer
	}
	if t.Status != market.TransactionStatusInEscrow {
		return nil, marketerr.ErrInvalidTransactionStatus
	}
	if t.SellerConfirmedTransfer {
		return nil, marketerr.ErrAlreadyConfirmed
	}
	if s.Clock.Now() <= t.TransferDeadline {
		return nil, marketerr.ErrTransferDeadlineNotExpired
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

	if err := s.Xfer.Transfer(ctx, escrow.Key, t.Buyer, t.SalePrice); err != nil {
		return nil, err
	}
	if err := s.Xfer.CloseAccount(ctx, escrow.Key, t.Seller, EscrowAccountSpace); err != nil {
		return nil, err
	}

	t.Status = market.TransactionStatusRefunded
	if err := s.Store.UpdateTransaction(ctx, t); err != nil {
		return nil, err
	}
	if err := s.Store.DeleteEscrow(ctx, escrow.Key); err != nil {
		return nil, err
	}

	s.publish(events.TransactionCompleted, t.Listing, map[string]any{"transaction": t.Key, "refunded": true})
	return t, nil
}
