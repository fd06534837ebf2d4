// Package listing implements the listing and auction state machine:
// create, bid, buy-now, settle, cancel, and expire, with the reserve-gated
// timer start, anti-snipe extension, minimum-increment rule, and the
// consecutive-bid spam bound from spec.md §4.2. Grounded on the teacher's
// internal/escrow.Service: a per-key sync.Map of mutexes serializing state
// transitions, and a transfer-then-persist-with-best-effort-compensation
// ordering for the single fund-moving step of each operation.
package listing

import (
	"context"
	"sync"

	"github.com/mbd888/solmarket/internal/escrowacct"
	"github.com/mbd888/solmarket/internal/events"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/marketerr"
	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/mbd888/solmarket/internal/runtime"
	"github.com/mbd888/solmarket/internal/withdrawal"
)

// Nominal account sizes used only for rent computation.
const (
	ListingAccountSpace = 256
	EscrowAccountSpace  = 48
	TxFeeBuffer         = 10_000
)

// Service implements the listing & auction engine.
type Service struct {
	Store      market.Store
	Clock      runtime.Clock
	Rent       runtime.RentOracle
	Xfer       runtime.Transferor
	Withdrawal *withdrawal.Service
	Hub        *events.Hub // optional; nil disables event publication

	locks sync.Map // listing key -> *sync.Mutex
}

// New builds a listing Service. withdrawalSvc issues tickets for displaced
// bidders; it must share the same Store/Clock/Rent/Xfer.
func New(store market.Store, clock runtime.Clock, rent runtime.RentOracle, xfer runtime.Transferor, withdrawalSvc *withdrawal.Service, hub *events.Hub) *Service {
	return &Service{Store: store, Clock: clock, Rent: rent, Xfer: xfer, Withdrawal: withdrawalSvc, Hub: hub}
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

// CreateParams parameterizes CreateListing.
type CreateParams struct {
	Seller         quanta.Pubkey
	ListingID      []byte
	Salt           uint64
	Type           market.ListingType
	StartingPrice  uint64
	ReservePrice   *uint64
	BuyNowPrice    *uint64
	Duration       int64
	PaymentMint    *quanta.Pubkey
	RequiredHandle *string
}

// CreateListing atomically initializes a Listing and its Escrow.
func (s *Service) CreateListing(ctx context.Context, p CreateParams) (*market.Listing, *market.Escrow, error) {
	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Paused {
		return nil, nil, marketerr.ErrContractPaused
	}
	if p.StartingPrice == 0 {
		return nil, nil, marketerr.ErrInvalidPrice
	}
	if p.Duration <= 0 || p.Duration > market.MaxDuration {
		return nil, nil, marketerr.ErrInvalidDuration
	}
	if p.Type == market.ListingTypeBuyNow && p.BuyNowPrice == nil {
		return nil, nil, marketerr.ErrBuyNowPriceRequired
	}
	if p.ReservePrice != nil && *p.ReservePrice != p.StartingPrice {
		return nil, nil, marketerr.ErrStartingPriceMustEqualReserve
	}
	if p.RequiredHandle != nil && !market.ValidHandle(*p.RequiredHandle) {
		return nil, nil, marketerr.ErrInvalidHandle
	}
	if p.PaymentMint != nil {
		return nil, nil, marketerr.ErrInvalidPaymentMint
	}

	listingKey, listingBump := quanta.DerivePDA([]byte("listing"), p.Seller[:], quanta.LEBytes64(p.Salt))
	escrowKey, escrowBump := quanta.DerivePDA([]byte("escrow"), listingKey[:])

	now := s.Clock.Now()
	l := &market.Listing{
		Key:            listingKey,
		Seller:         p.Seller,
		ListingID:      p.ListingID,
		Salt:           p.Salt,
		Type:           p.Type,
		StartingPrice:  p.StartingPrice,
		ReservePrice:   p.ReservePrice,
		BuyNowPrice:    p.BuyNowPrice,
		CreatedAt:      now,
		EndTime:        now + p.Duration,
		Status:         market.ListingStatusActive,
		PlatformFeeBPS: cfg.PlatformFeeBPS,
		DisputeFeeBPS:  cfg.DisputeFeeBPS,
		PaymentMint:    p.PaymentMint,
		RequiredHandle: p.RequiredHandle,
		Bump:           listingBump,
	}
	e := &market.Escrow{Key: escrowKey, Listing: listingKey, Bump: escrowBump}

	if err := s.Xfer.CreditRentExempt(ctx, listingKey, ListingAccountSpace); err != nil {
		return nil, nil, err
	}
	if err := s.Xfer.CreditRentExempt(ctx, escrowKey, EscrowAccountSpace); err != nil {
		return nil, nil, err
	}
	if err := s.Store.CreateListing(ctx, l); err != nil {
		return nil, nil, err
	}
	if err := s.Store.CreateEscrow(ctx, e); err != nil {
		return nil, nil, err
	}

	s.publish(events.ListingCreated, listingKey, map[string]any{"seller": p.Seller, "type": p.Type})
	return l, e, nil
}

// BidParams parameterizes PlaceBid.
type BidParams struct {
	Listing quanta.Pubkey
	Bidder  quanta.Pubkey
	Amount  uint64
}

// PlaceBid runs the full checks -> effects -> interactions bid pipeline.
func (s *Service) PlaceBid(ctx context.Context, p BidParams) (*market.Listing, error) {
	mu := s.lock(p.Listing)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, marketerr.ErrContractPaused
	}
	l, err := s.Store.GetListing(ctx, p.Listing)
	if err != nil {
		return nil, err
	}
	if l.Status != market.ListingStatusActive || l.Type != market.ListingTypeAuction {
		return nil, marketerr.ErrListingNotActive
	}
	if p.Bidder == l.Seller {
		return nil, marketerr.ErrInvalidBidder
	}
	now := s.Clock.Now()
	if l.AuctionStarted && now >= l.EndTime {
		return nil, marketerr.ErrAuctionEnded
	}

	withdrawalRent := uint64(0)
	if l.CurrentBidder != nil {
		withdrawalRent = s.Rent.MinimumBalance(withdrawal.PendingWithdrawalSpace)
	}
	required, err := quanta.AddChecked(p.Amount, withdrawalRent)
	if err != nil {
		return nil, err
	}
	required, err = quanta.AddChecked(required, TxFeeBuffer)
	if err != nil {
		return nil, err
	}
	balance, err := s.Xfer.CustodyBalance(ctx, p.Bidder)
	if err != nil {
		return nil, err
	}
	if balance < required {
		return nil, marketerr.ErrInsufficientBalance
	}
	if l.WithdrawalCount >= market.MaxWithdrawalCount {
		return nil, marketerr.ErrMaxBidsExceeded
	}
	sameBidder := l.LastBidder != nil && *l.LastBidder == p.Bidder
	if sameBidder && l.ConsecutiveBidCount >= market.MaxConsecutiveBidCount {
		return nil, marketerr.ErrMaxConsecutiveBidsExceeded
	}
	if !l.AuctionStarted && l.ReservePrice != nil && p.Amount < *l.ReservePrice {
		return nil, marketerr.ErrBidBelowReserve
	}
	if l.CurrentBid > 0 {
		minIncrement, err := quanta.BPS(l.CurrentBid, market.MinIncrementBPS)
		if err != nil {
			return nil, err
		}
		if minIncrement < market.MinIncrementFloor {
			minIncrement = market.MinIncrementFloor
		}
		floor, err := quanta.AddChecked(l.CurrentBid, minIncrement)
		if err != nil {
			return nil, err
		}
		if p.Amount < floor {
			return nil, marketerr.ErrBidIncrementTooSmall
		}
	} else if p.Amount < l.StartingPrice {
		return nil, marketerr.ErrBidTooLow
	}

	escrow, err := s.Store.GetEscrowByListing(ctx, p.Listing)
	if err != nil {
		return nil, err
	}

	oldBid, oldBidder := l.CurrentBid, l.CurrentBidder
	oldEndTime := l.EndTime

	l.CurrentBid = p.Amount
	l.CurrentBidder = &p.Bidder
	if sameBidder {
		l.ConsecutiveBidCount++
	} else {
		l.LastBidder = &p.Bidder
		l.ConsecutiveBidCount = 1
	}

	if !l.AuctionStarted && (l.ReservePrice == nil || p.Amount >= *l.ReservePrice) {
		l.AuctionStarted = true
		startTime := now
		l.AuctionStartTime = &startTime
		l.EndTime = now + (oldEndTime - l.CreatedAt)
	}
	if l.AuctionStarted && now > l.EndTime-market.AntiSnipeWindow {
		l.EndTime = now + market.AntiSnipeWindow
	}

	newAmount, err := escrowacct.Credit(escrow.Amount, p.Amount)
	if err != nil {
		return nil, err
	}
	escrow.Amount = newAmount

	if err := s.Xfer.Transfer(ctx, p.Bidder, escrow.Key, p.Amount); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateEscrow(ctx, escrow); err != nil {
		_ = s.Xfer.Transfer(ctx, escrow.Key, p.Bidder, p.Amount)
		return nil, err
	}
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return nil, err
	}

	if oldBidder != nil {
		if _, err := s.Withdrawal.Issue(ctx, l, *oldBidder, oldBid, escrow.Key); err != nil {
			return nil, err
		}
	}

	s.publish(events.BidPlaced, p.Listing, map[string]any{"bidder": p.Bidder, "amount": p.Amount})
	return l, nil
}

// BuyNowParams parameterizes BuyNow.
type BuyNowParams struct {
	Listing quanta.Pubkey
	Buyer   quanta.Pubkey
}

// BuyNow executes an immediate sale at the listing's buy_now_price.
func (s *Service) BuyNow(ctx context.Context, p BuyNowParams) (*market.Listing, *market.Transaction, error) {
	mu := s.lock(p.Listing)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Paused {
		return nil, nil, marketerr.ErrContractPaused
	}
	l, err := s.Store.GetListing(ctx, p.Listing)
	if err != nil {
		return nil, nil, err
	}
	if l.Status != market.ListingStatusActive {
		return nil, nil, marketerr.ErrListingNotActive
	}
	if l.BuyNowPrice == nil {
		return nil, nil, marketerr.ErrBuyNowPriceRequired
	}
	now := s.Clock.Now()
	if now >= l.EndTime {
		return nil, nil, marketerr.ErrAuctionEnded
	}
	if p.Buyer == l.Seller {
		return nil, nil, marketerr.ErrInvalidBuyer
	}
	if l.PaymentMint != nil {
		return nil, nil, marketerr.ErrInvalidPaymentMint
	}

	price := *l.BuyNowPrice
	balance, err := s.Xfer.CustodyBalance(ctx, p.Buyer)
	if err != nil {
		return nil, nil, err
	}
	if balance < price+TxFeeBuffer {
		return nil, nil, marketerr.ErrInsufficientBalance
	}

	escrow, err := s.Store.GetEscrowByListing(ctx, p.Listing)
	if err != nil {
		return nil, nil, err
	}

	oldBid, oldBidder := l.CurrentBid, l.CurrentBidder
	l.Status = market.ListingStatusSold
	l.EndTime = now

	newAmount, err := escrowacct.Credit(escrow.Amount, price)
	if err != nil {
		return nil, nil, err
	}
	escrow.Amount = newAmount

	platformFee, err := quanta.BPS(price, l.PlatformFeeBPS)
	if err != nil {
		return nil, nil, err
	}
	sellerProceeds, err := quanta.SubChecked(price, platformFee)
	if err != nil {
		return nil, nil, err
	}

	txKey, txBump := quanta.DerivePDA([]byte("transaction"), p.Listing[:])
	tx := &market.Transaction{
		Key:              txKey,
		Listing:          p.Listing,
		Seller:           l.Seller,
		Buyer:            p.Buyer,
		SalePrice:        price,
		PlatformFee:      platformFee,
		SellerProceeds:   sellerProceeds,
		Status:           market.TransactionStatusInEscrow,
		TransferDeadline: now + market.TransferWindow,
		CreatedAt:        now,
		Bump:             txBump,
	}

	if err := s.Xfer.Transfer(ctx, p.Buyer, escrow.Key, price); err != nil {
		return nil, nil, err
	}
	if err := s.Xfer.CreditRentExempt(ctx, txKey, 256); err != nil {
		_ = s.Xfer.Transfer(ctx, escrow.Key, p.Buyer, price)
		return nil, nil, err
	}
	if err := s.Store.UpdateEscrow(ctx, escrow); err != nil {
		return nil, nil, err
	}
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return nil, nil, err
	}
	if err := s.Store.CreateTransaction(ctx, tx); err != nil {
		return nil, nil, err
	}

	if oldBidder != nil {
		if _, err := s.Withdrawal.Issue(ctx, l, *oldBidder, oldBid, escrow.Key); err != nil {
			return nil, nil, err
		}
	}

	s.publish(events.SaleCompleted, p.Listing, map[string]any{"buyer": p.Buyer, "sale_price": price})
	return l, tx, nil
}

// SettleParams parameterizes SettleAuction.
type SettleParams struct {
	Listing quanta.Pubkey
	Caller  quanta.Pubkey
	Bidder  quanta.Pubkey // must equal listing.CurrentBidder
	Admin   quanta.Pubkey
}

// SettleAuction closes an ended auction, minting its Transaction.
func (s *Service) SettleAuction(ctx context.Context, p SettleParams) (*market.Listing, *market.Transaction, error) {
	mu := s.lock(p.Listing)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.Store.GetListing(ctx, p.Listing)
	if err != nil {
		return nil, nil, err
	}
	if l.Status != market.ListingStatusActive || l.Type != market.ListingTypeAuction {
		return nil, nil, marketerr.ErrListingNotActive
	}
	now := s.Clock.Now()
	if l.AuctionStarted && now < l.EndTime {
		return nil, nil, marketerr.ErrAuctionNotEnded
	}
	if p.Caller != l.Seller && p.Caller != p.Admin {
		if l.CurrentBidder == nil || p.Caller != *l.CurrentBidder {
			return nil, nil, marketerr.ErrUnauthorizedSettlement
		}
	}
	if l.CurrentBidder == nil || p.Bidder != *l.CurrentBidder {
		return nil, nil, marketerr.ErrInvalidBidder
	}

	escrow, err := s.Store.GetEscrowByListing(ctx, p.Listing)
	if err != nil {
		return nil, nil, err
	}

	price := l.CurrentBid
	platformFee, err := quanta.BPS(price, l.PlatformFeeBPS)
	if err != nil {
		return nil, nil, err
	}
	sellerProceeds, err := quanta.SubChecked(price, platformFee)
	if err != nil {
		return nil, nil, err
	}

	l.Status = market.ListingStatusSold

	txKey, txBump := quanta.DerivePDA([]byte("transaction"), p.Listing[:])
	tx := &market.Transaction{
		Key:              txKey,
		Listing:          p.Listing,
		Seller:           l.Seller,
		Buyer:            *l.CurrentBidder,
		SalePrice:        price,
		PlatformFee:      platformFee,
		SellerProceeds:   sellerProceeds,
		Status:           market.TransactionStatusInEscrow,
		TransferDeadline: now + market.TransferWindow,
		CreatedAt:        now,
		Bump:             txBump,
	}

	if err := s.Xfer.CreditRentExempt(ctx, txKey, 256); err != nil {
		return nil, nil, err
	}
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return nil, nil, err
	}
	if err := s.Store.CreateTransaction(ctx, tx); err != nil {
		return nil, nil, err
	}
	_ = escrow // tracked amount unchanged: funds already moved in on each bid

	s.publish(events.SaleCompleted, p.Listing, map[string]any{"buyer": tx.Buyer, "sale_price": price})
	return l, tx, nil
}

// CancelParams parameterizes CancelAuction.
type CancelParams struct {
	Listing quanta.Pubkey
	Seller  quanta.Pubkey
}

// CancelAuction lets the seller withdraw a bid-free auction listing.
func (s *Service) CancelAuction(ctx context.Context, p CancelParams) (*market.Listing, error) {
	mu := s.lock(p.Listing)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.Store.GetListing(ctx, p.Listing)
	if err != nil {
		return nil, err
	}
	if l.Status != market.ListingStatusActive || l.Type != market.ListingTypeAuction {
		return nil, marketerr.ErrListingNotActive
	}
	if p.Seller != l.Seller {
		return nil, marketerr.ErrNotSeller
	}
	if l.CurrentBidder != nil {
		return nil, marketerr.ErrInvalidBidder
	}
	now := s.Clock.Now()
	if l.AuctionStarted && now < l.EndTime {
		return nil, marketerr.ErrAuctionNotEnded
	}

	l.Status = market.ListingStatusCancelled
	if err := s.closeEmptyEscrow(ctx, l, l.Seller); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return nil, err
	}

	s.publish(events.AuctionCancelled, p.Listing, nil)
	return l, nil
}

// ExpireParams parameterizes ExpireListing.
type ExpireParams struct {
	Listing quanta.Pubkey
}

// ExpireListing closes an Active BuyNow listing past end_time with no bidder.
func (s *Service) ExpireListing(ctx context.Context, p ExpireParams) (*market.Listing, error) {
	mu := s.lock(p.Listing)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.Store.GetListing(ctx, p.Listing)
	if err != nil {
		return nil, err
	}
	if l.Status != market.ListingStatusActive || l.Type != market.ListingTypeBuyNow {
		return nil, marketerr.ErrListingNotActive
	}
	now := s.Clock.Now()
	if now < l.EndTime {
		return nil, marketerr.ErrListingNotExpired
	}
	if l.CurrentBidder != nil {
		return nil, marketerr.ErrInvalidBidder
	}

	l.Status = market.ListingStatusExpired
	if err := s.closeEmptyEscrow(ctx, l, l.Seller); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return nil, err
	}

	s.publish(events.ListingExpired, p.Listing, nil)
	return l, nil
}

// closeEmptyEscrow closes a listing's Escrow, requiring its tracked amount
// be zero (no bid ever landed, by construction of the callers above) and
// refunding its rent reserve to rentRecipient.
func (s *Service) closeEmptyEscrow(ctx context.Context, l *market.Listing, rentRecipient quanta.Pubkey) error {
	escrow, err := s.Store.GetEscrowByListing(ctx, l.Key)
	if err != nil {
		return err
	}
	if err := escrowacct.NoPendingWithdrawals(escrow.Amount, 0); err != nil {
		return err
	}
	if err := s.Xfer.CloseAccount(ctx, escrow.Key, rentRecipient, EscrowAccountSpace); err != nil {
		return err
	}
	return s.Store.DeleteEscrow(ctx, escrow.Key)
}
