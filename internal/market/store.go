package market

import (
	"context"

	"github.com/mbd888/solmarket/internal/quanta"
)

// Store persists all marketplace entities. MemoryStore and PostgresStore
// both implement it, the same dual-implementation shape the teacher uses
// for internal/stakes and internal/gateway.
type Store interface {
	// Config is a singleton: GetConfig returns ErrNotFound before
	// initialize() has run.
	GetConfig(ctx context.Context) (*Config, error)
	CreateConfig(ctx context.Context, cfg *Config) error
	UpdateConfig(ctx context.Context, cfg *Config) error

	CreateListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, key quanta.Pubkey) (*Listing, error)
	UpdateListing(ctx context.Context, l *Listing) error
	ListActiveListings(ctx context.Context, limit int) ([]*Listing, error)

	CreateEscrow(ctx context.Context, e *Escrow) error
	GetEscrow(ctx context.Context, key quanta.Pubkey) (*Escrow, error)
	GetEscrowByListing(ctx context.Context, listing quanta.Pubkey) (*Escrow, error)
	UpdateEscrow(ctx context.Context, e *Escrow) error
	DeleteEscrow(ctx context.Context, key quanta.Pubkey) error

	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, key quanta.Pubkey) (*Transaction, error)
	GetTransactionByListing(ctx context.Context, listing quanta.Pubkey) (*Transaction, error)
	UpdateTransaction(ctx context.Context, t *Transaction) error

	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, key quanta.Pubkey) (*Dispute, error)
	GetDisputeByTransaction(ctx context.Context, tx quanta.Pubkey) (*Dispute, error)
	UpdateDispute(ctx context.Context, d *Dispute) error
	DeleteDispute(ctx context.Context, key quanta.Pubkey) error

	CreateOffer(ctx context.Context, o *Offer) error
	GetOffer(ctx context.Context, key quanta.Pubkey) (*Offer, error)
	UpdateOffer(ctx context.Context, o *Offer) error
	ListOffersByListing(ctx context.Context, listing quanta.Pubkey) ([]*Offer, error)

	CreateOfferEscrow(ctx context.Context, oe *OfferEscrow) error
	GetOfferEscrow(ctx context.Context, key quanta.Pubkey) (*OfferEscrow, error)
	GetOfferEscrowByOffer(ctx context.Context, offer quanta.Pubkey) (*OfferEscrow, error)
	UpdateOfferEscrow(ctx context.Context, oe *OfferEscrow) error
	DeleteOfferEscrow(ctx context.Context, key quanta.Pubkey) error

	CreatePendingWithdrawal(ctx context.Context, w *PendingWithdrawal) error
	GetPendingWithdrawal(ctx context.Context, key quanta.Pubkey) (*PendingWithdrawal, error)
	DeletePendingWithdrawal(ctx context.Context, key quanta.Pubkey) error
	ListPendingWithdrawalsByListing(ctx context.Context, listing quanta.Pubkey) ([]*PendingWithdrawal, error)

	// ListExpiredPendingWithdrawals returns withdrawal tickets with
	// expires_at <= now, oldest first, for cmd/keeper's sweep. Mirrors the
	// teacher's escrow.Store.ListExpired.
	ListExpiredPendingWithdrawals(ctx context.Context, now int64, limit int) ([]*PendingWithdrawal, error)
}
