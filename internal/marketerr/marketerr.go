// Package marketerr collects the sentinel errors shared across the contract
// core's operation packages (internal/listing, internal/offer,
// internal/withdrawal, internal/completion, internal/dispute,
// internal/adminenvelope), grouped by cause rather than by package, the way
// the teacher's internal/ledger and internal/escrow packages each define a
// small var block of sentinels at the top of the file.
package marketerr

import "errors"

// Authorization: wrong signer.
var (
	ErrNotAdmin              = errors.New("marketerr: caller is not admin")
	ErrNotSeller             = errors.New("marketerr: caller is not seller")
	ErrNotBuyer              = errors.New("marketerr: caller is not buyer")
	ErrNotOfferOwner         = errors.New("marketerr: caller is not offer owner")
	ErrNotWithdrawalOwner    = errors.New("marketerr: caller is not withdrawal owner")
	ErrNotBackendAuthority   = errors.New("marketerr: signature is not from backend authority")
	ErrNotExpectedAdmin      = errors.New("marketerr: caller does not match expected admin")
	ErrNotPartyToTransaction = errors.New("marketerr: caller is neither buyer nor seller")
	ErrUnauthorizedSettlement = errors.New("marketerr: caller may not settle this auction")
)

// State: wrong lifecycle stage.
var (
	ErrListingNotActive        = errors.New("marketerr: listing not active")
	ErrAuctionEnded             = errors.New("marketerr: auction already ended")
	ErrAuctionNotEnded          = errors.New("marketerr: auction has not ended")
	ErrListingExpired           = errors.New("marketerr: listing already expired")
	ErrListingNotExpired        = errors.New("marketerr: listing not past end time")
	ErrInvalidTransactionStatus = errors.New("marketerr: invalid transaction status for operation")
	ErrOfferNotActive           = errors.New("marketerr: offer not active")
	ErrOfferExpired             = errors.New("marketerr: offer already expired")
	ErrOfferNotExpired          = errors.New("marketerr: offer not past deadline")
	ErrDisputeNotOpen           = errors.New("marketerr: dispute not open")
	ErrAlreadyConfirmed         = errors.New("marketerr: already confirmed")
	ErrAlreadyVerified          = errors.New("marketerr: already verified")
	ErrAlreadyContested         = errors.New("marketerr: resolution already contested")
	ErrNoPendingChange          = errors.New("marketerr: no pending change to execute")
	ErrTimelockNotExpired       = errors.New("marketerr: timelock has not expired")
	ErrGracePeriodNotExpired    = errors.New("marketerr: grace period has not expired")
	ErrBackendTimeoutNotExpired = errors.New("marketerr: backend timeout has not expired")
	ErrDisputeDeadlineExpired   = errors.New("marketerr: dispute filing deadline has passed")
	ErrContractPaused           = errors.New("marketerr: contract is paused")
	ErrCannotFinalizeDisputed   = errors.New("marketerr: cannot finalize a disputed transaction")
	ErrWithdrawalNotExpired     = errors.New("marketerr: withdrawal has not passed its expiry")
	ErrTransferDeadlineNotExpired = errors.New("marketerr: transfer deadline has not passed")
)

// Validation: parameter out of bounds.
var (
	ErrInvalidPrice                  = errors.New("marketerr: invalid price")
	ErrInvalidDuration                = errors.New("marketerr: invalid duration")
	ErrInvalidDeadline                = errors.New("marketerr: invalid deadline")
	ErrInvalidHandle                  = errors.New("marketerr: invalid required handle")
	ErrFeeTooHigh                     = errors.New("marketerr: fee exceeds maximum")
	ErrBidTooLow                      = errors.New("marketerr: bid too low")
	ErrBidBelowReserve                = errors.New("marketerr: bid below reserve price")
	ErrBidIncrementTooSmall           = errors.New("marketerr: bid increment too small")
	ErrStartingPriceMustEqualReserve  = errors.New("marketerr: starting price must equal reserve price")
	ErrBuyNowPriceRequired            = errors.New("marketerr: buy-now price required")
	ErrInvalidRefundAmounts           = errors.New("marketerr: invalid refund amounts")
	ErrPartialRefundMustEqualSalePrice = errors.New("marketerr: partial refund amounts must sum to sale price")
	ErrInvalidOfferSeed               = errors.New("marketerr: offer seed does not match listing offer count")
	ErrInvalidPaymentMint             = errors.New("marketerr: listing requires non-native payment mint")
)

// Accounting: escrow-invariant failure.
var (
	ErrInsufficientBalance        = errors.New("marketerr: insufficient balance")
	ErrInsufficientEscrowBalance  = errors.New("marketerr: insufficient escrow balance")
	ErrEscrowBalanceMismatch      = errors.New("marketerr: escrow balance mismatch")
	ErrPendingWithdrawalsExist    = errors.New("marketerr: pending withdrawals exist")
	ErrMathOverflow               = errors.New("marketerr: arithmetic overflow")
)

// Identity: passed account doesn't match expected key.
var (
	ErrInvalidTreasury       = errors.New("marketerr: account does not match treasury")
	ErrInvalidSeller         = errors.New("marketerr: account does not match seller")
	ErrInvalidBuyer          = errors.New("marketerr: account does not match buyer")
	ErrInvalidBidder         = errors.New("marketerr: account does not match current bidder")
	ErrInvalidPreviousBidder = errors.New("marketerr: account does not match previous bidder")
	ErrInvalidOffer          = errors.New("marketerr: account does not match offer")
)

// Spam-bound.
var (
	ErrMaxBidsExceeded             = errors.New("marketerr: max withdrawal count exceeded")
	ErrMaxOffersExceeded           = errors.New("marketerr: max offer count exceeded")
	ErrMaxConsecutiveBidsExceeded   = errors.New("marketerr: max consecutive bids exceeded")
	ErrMaxConsecutiveOffersExceeded = errors.New("marketerr: max consecutive offers exceeded")
)
