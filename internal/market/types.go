// Package market holds the typed entity records of the escrow/auction
// marketplace (Config, Listing, Escrow, Transaction, Dispute, Offer,
// OfferEscrow, PendingWithdrawal) and the Store interface that persists
// them, mirroring the teacher's internal/stakes package shape: plain
// structs, a narrow Store interface, and separate memory/Postgres
// implementations.
package market

import (
	"errors"

	"github.com/mbd888/solmarket/internal/quanta"
)

// ErrNotFound is returned by any Store Get when the record does not exist.
var ErrNotFound = errors.New("market: record not found")

// ListingType distinguishes an English auction from a fixed-price listing.
type ListingType string

const (
	ListingTypeAuction ListingType = "auction"
	ListingTypeBuyNow  ListingType = "buy_now"
)

// ListingStatus is the lifecycle state of a Listing. Active -> {Sold,
// Cancelled, Expired} is the only allowed transition; the latter three are
// terminal.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
	ListingStatusExpired   ListingStatus = "expired"
)

// TransactionStatus is the lifecycle state of a Transaction.
type TransactionStatus string

const (
	TransactionStatusInEscrow  TransactionStatus = "in_escrow"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
	TransactionStatusDisputed  TransactionStatus = "disputed"
)

// DisputeStatus is the lifecycle state of a Dispute.
type DisputeStatus string

const (
	DisputeStatusOpen       DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusResolved   DisputeStatus = "resolved"
)

// ResolutionKind is the tag of the DisputeResolution sum type.
type ResolutionKind string

const (
	ResolutionFullRefund     ResolutionKind = "full_refund"
	ResolutionReleaseSeller  ResolutionKind = "release_to_seller"
	ResolutionPartialRefund  ResolutionKind = "partial_refund"
)

// DisputeResolution is a tagged variant: the PartialRefund branch carries a
// (buyer, seller) payout payload, the other two branches carry none.
type DisputeResolution struct {
	Kind         ResolutionKind
	BuyerAmount  uint64 // only meaningful when Kind == ResolutionPartialRefund
	SellerAmount uint64 // only meaningful when Kind == ResolutionPartialRefund
}

// OfferStatus is the lifecycle state of an Offer.
type OfferStatus string

const (
	OfferStatusActive    OfferStatus = "active"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusCancelled OfferStatus = "cancelled"
	OfferStatusExpired   OfferStatus = "expired"
)

// PendingKeyChange records a proposed admin/treasury rotation awaiting its
// 48-hour timelock.
type PendingKeyChange struct {
	Key         quanta.Pubkey
	ProposedAt  int64
}

// Config is the platform singleton.
type Config struct {
	Admin            quanta.Pubkey
	Treasury         quanta.Pubkey
	BackendAuthority quanta.Pubkey
	PlatformFeeBPS   uint16
	DisputeFeeBPS    uint16
	TotalVolume      uint64
	TotalSales       uint64
	Paused           bool
	PendingAdmin     *PendingKeyChange
	PendingTreasury  *PendingKeyChange
	Version          uint64
}

// MaxPlatformFeeBPS and MaxDisputeFeeBPS bound Config's fee fields.
const (
	MaxPlatformFeeBPS = 1000 // 10%
	MaxDisputeFeeBPS  = 500  // 5%
)

// Listing is a seller's auction or fixed-price offering.
type Listing struct {
	Key                   quanta.Pubkey
	Seller                quanta.Pubkey
	ListingID             []byte // opaque, <=64 bytes, caller-supplied business identifier
	Salt                  uint64 // PDA-derivation salt, distinct from ListingID
	Type                  ListingType
	StartingPrice         uint64
	ReservePrice          *uint64
	BuyNowPrice           *uint64
	CurrentBid            uint64
	CurrentBidder         *quanta.Pubkey
	CreatedAt             int64
	AuctionStarted        bool
	AuctionStartTime      *int64
	EndTime               int64
	Status                ListingStatus
	PlatformFeeBPS        uint16 // captured from Config at creation
	DisputeFeeBPS         uint16 // captured from Config at creation
	PaymentMint           *quanta.Pubkey
	RequiredHandle        *string
	WithdrawalCount       uint64
	OfferCount            uint64
	LastBidder            *quanta.Pubkey
	ConsecutiveBidCount   uint32
	LastOfferBuyer        *quanta.Pubkey
	ConsecutiveOfferCount uint32
	Bump                  uint8
	Version               uint64
}

// MaxDuration is the longest an auction/listing may run: 30 days.
const MaxDuration = 30 * 24 * 3600

// MaxWithdrawalCount, MaxOfferCount bound per-listing spam.
const (
	MaxWithdrawalCount       = 1000
	MaxOfferCount            = 100
	MaxConsecutiveBidCount   = 10
	MaxConsecutiveOfferCount = 10
)

// AntiSnipeWindow is the pre-end interval within which a bid extends end_time.
const AntiSnipeWindow = 15 * 60

// MinIncrementBPS and MinIncrementFloor implement the "5% or 0.1 native
// unit, whichever is greater" minimum-increment rule. 0.1 native units at
// 9 decimals (the spec's worked examples) is 100_000_000 quanta.
const (
	MinIncrementBPS   = 500 // 5%
	MinIncrementFloor = 100_000_000
)

// IsTerminal reports whether a Listing has left the Active state.
func (l *Listing) IsTerminal() bool {
	return l.Status != ListingStatusActive
}

// Escrow custodies a Listing's sale funds. The zero value is never valid:
// every Listing owns exactly one Escrow created atomically with it.
type Escrow struct {
	Key     quanta.Pubkey
	Listing quanta.Pubkey
	Amount  uint64 // tracked amount: what the escrow owes identifiable claimants
	Bump    uint8
	Version uint64
}

// GracePeriod is the delay after seller confirmation before finalize is
// callable without buyer action.
const GracePeriod = 7 * 24 * 3600

// TransferWindow is how long a buyer has to receive the asset before an
// unconfirmed sale becomes eligible for emergency refund.
const TransferWindow = 7 * 24 * 3600

// BackendTimeout is how long after seller confirmation the backend has to
// verify before the emergency fallbacks unlock.
const BackendTimeout = 30 * 24 * 3600

// EmergencyVerificationHash is the sentinel verification_hash written by
// the emergency fallback paths (buyer/admin) instead of a backend-issued hash.
var EmergencyVerificationHash = []byte("EMERGENCY_VERIFICATION")

// Transaction records a successful sale and gates fund release.
type Transaction struct {
	Key                    quanta.Pubkey
	Listing                quanta.Pubkey
	Seller                 quanta.Pubkey
	Buyer                  quanta.Pubkey
	SalePrice              uint64
	PlatformFee            uint64
	SellerProceeds         uint64
	Status                 TransactionStatus
	TransferDeadline       int64
	CreatedAt              int64
	SellerConfirmedTransfer bool
	SellerConfirmedAt      *int64
	CompletedAt            *int64
	UploadsVerified        bool
	VerificationTimestamp  *int64
	VerificationHash       []byte // <=64 bytes
	Bump                   uint8
	Version                uint64
}

// DisputeTimelock is the delay between proposing and executing a dispute
// resolution.
const DisputeTimelock = 48 * 3600

// AdminTimelock is the delay between proposing and executing an admin or
// treasury key rotation.
const AdminTimelock = 48 * 3600

// Dispute records a contested Transaction.
type Dispute struct {
	Key                  quanta.Pubkey
	Transaction          quanta.Pubkey
	Initiator            quanta.Pubkey
	Respondent           quanta.Pubkey
	Reason               string // <=500 bytes
	Status               DisputeStatus
	Resolution           *DisputeResolution
	ResolutionNotes      *string // <=1000 bytes
	DisputeFee           uint64
	CreatedAt            int64
	ResolvedAt           *int64
	PendingResolution    *DisputeResolution
	PendingResolutionAt  *int64
	Contested            bool
	Bump                 uint8
	Version              uint64
}

// Offer is a buyer's standing offer on an Active listing.
type Offer struct {
	Key       quanta.Pubkey
	Listing   quanta.Pubkey
	Buyer     quanta.Pubkey
	OfferSeed uint64
	Amount    uint64
	Deadline  int64
	Status    OfferStatus
	CreatedAt int64
	Bump      uint8
	Version   uint64
}

// OfferEscrow custodies an Offer's funds until accept/cancel/expire.
type OfferEscrow struct {
	Key     quanta.Pubkey
	Offer   quanta.Pubkey
	Amount  uint64
	Bump    uint8
	Version uint64
}

// WithdrawalExpiry is how long a PendingWithdrawal remains claimable before
// it is eligible for the (explicit, caller-triggered) expire-withdrawal path.
const WithdrawalExpiry = 7 * 24 * 3600

// PendingWithdrawal is a pull-refund ticket issued to a displaced bidder.
type PendingWithdrawal struct {
	Key          quanta.Pubkey
	User         quanta.Pubkey
	Listing      quanta.Pubkey
	Amount       uint64
	WithdrawalID uint64
	CreatedAt    int64
	ExpiresAt    int64
	Bump         uint8
	Version      uint64
}

// RequiredHandleMaxLen bounds Listing.RequiredHandle.
const RequiredHandleMaxLen = 39

// ValidHandle reports whether handle satisfies the spec's format rule:
// alphanumeric-or-hyphen, no leading/trailing/consecutive hyphens, <=39
// bytes.
func ValidHandle(handle string) bool {
	if handle == "" || len(handle) > RequiredHandleMaxLen {
		return false
	}
	if handle[0] == '-' || handle[len(handle)-1] == '-' {
		return false
	}
	prevHyphen := false
	for i := 0; i < len(handle); i++ {
		c := handle[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			prevHyphen = false
		case c == '-':
			if prevHyphen {
				return false
			}
			prevHyphen = true
		default:
			return false
		}
	}
	return true
}
