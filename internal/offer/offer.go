// Package offer implements the standing-offer engine: make, cancel,
// expire, and accept, with the same consecutive-offer spam bound and
// offer-seed PDA-squatting guard as the listing engine's bid path.
// Grounded on the teacher's internal/stakes.go holding create/cancel/fill
// lifecycle, generalized from a revenue-share holding to a buyer's offer.
package offer

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

// OfferEscrowSpace is the nominal account size used for rent computation.
const OfferEscrowSpace = 48

// Service implements the offer engine.
type Service struct {
	Store      market.Store
	Clock      runtime.Clock
	Rent       runtime.RentOracle
	Xfer       runtime.Transferor
	Withdrawal *withdrawal.Service
	Hub        *events.Hub

	locks sync.Map // listing key -> *sync.Mutex
}

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

// MakeParams parameterizes MakeOffer.
type MakeParams struct {
	Listing   quanta.Pubkey
	Buyer     quanta.Pubkey
	Amount    uint64
	Deadline  int64
	OfferSeed uint64
}

// MakeOffer opens a new standing Offer and its OfferEscrow.
func (s *Service) MakeOffer(ctx context.Context, p MakeParams) (*market.Offer, *market.OfferEscrow, error) {
	mu := s.lock(p.Listing)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.Store.GetListing(ctx, p.Listing)
	if err != nil {
		return nil, nil, err
	}
	if l.Status != market.ListingStatusActive {
		return nil, nil, marketerr.ErrListingNotActive
	}
	if p.Amount == 0 {
		return nil, nil, marketerr.ErrInvalidPrice
	}
	now := s.Clock.Now()
	if p.Deadline <= now {
		return nil, nil, marketerr.ErrInvalidDeadline
	}
	if p.Buyer == l.Seller {
		return nil, nil, marketerr.ErrInvalidBuyer
	}
	if l.OfferCount >= market.MaxOfferCount {
		return nil, nil, marketerr.ErrMaxOffersExceeded
	}
	if p.OfferSeed != l.OfferCount {
		return nil, nil, marketerr.ErrInvalidOfferSeed
	}
	balance, err := s.Xfer.CustodyBalance(ctx, p.Buyer)
	if err != nil {
		return nil, nil, err
	}
	if balance < p.Amount {
		return nil, nil, marketerr.ErrInsufficientBalance
	}

	sameBuyer := l.LastOfferBuyer != nil && *l.LastOfferBuyer == p.Buyer
	if sameBuyer && l.ConsecutiveOfferCount >= market.MaxConsecutiveOfferCount {
		return nil, nil, marketerr.ErrMaxConsecutiveOffersExceeded
	}

	offerKey, offerBump := quanta.DerivePDA([]byte("offer"), p.Listing[:], p.Buyer[:], quanta.LEBytes64(p.OfferSeed))
	escrowKey, escrowBump := quanta.DerivePDA([]byte("offer_escrow"), offerKey[:])

	o := &market.Offer{
		Key:       offerKey,
		Listing:   p.Listing,
		Buyer:     p.Buyer,
		OfferSeed: p.OfferSeed,
		Amount:    p.Amount,
		Deadline:  p.Deadline,
		Status:    market.OfferStatusActive,
		CreatedAt: now,
		Bump:      offerBump,
	}
	oe := &market.OfferEscrow{Key: escrowKey, Offer: offerKey, Amount: p.Amount, Bump: escrowBump}

	if sameBuyer {
		l.ConsecutiveOfferCount++
	} else {
		l.LastOfferBuyer = &p.Buyer
		l.ConsecutiveOfferCount = 1
	}
	l.OfferCount++

	if err := s.Xfer.Transfer(ctx, p.Buyer, escrowKey, p.Amount); err != nil {
		return nil, nil, err
	}
	if err := s.Xfer.CreditRentExempt(ctx, escrowKey, OfferEscrowSpace); err != nil {
		_ = s.Xfer.Transfer(ctx, escrowKey, p.Buyer, p.Amount)
		return nil, nil, err
	}
	if err := s.Store.CreateOffer(ctx, o); err != nil {
		return nil, nil, err
	}
	if err := s.Store.CreateOfferEscrow(ctx, oe); err != nil {
		return nil, nil, err
	}
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return nil, nil, err
	}

	s.publish(events.OfferCreated, p.Listing, map[string]any{"buyer": p.Buyer, "amount": p.Amount})
	return o, oe, nil
}

// CancelParams parameterizes CancelOffer.
type CancelParams struct {
	Offer quanta.Pubkey
	Buyer quanta.Pubkey
}

// CancelOffer lets the offer's own buyer withdraw it.
func (s *Service) CancelOffer(ctx context.Context, p CancelParams) (*market.Offer, error) {
	o, err := s.Store.GetOffer(ctx, p.Offer)
	if err != nil {
		return nil, err
	}
	if p.Buyer != o.Buyer {
		return nil, marketerr.ErrNotOfferOwner
	}
	if o.Status != market.OfferStatusActive {
		return nil, marketerr.ErrOfferNotActive
	}
	return s.closeOut(ctx, o, market.OfferStatusCancelled, events.OfferCancelled)
}

// ExpireParams parameterizes ExpireOffer.
type ExpireParams struct {
	Offer quanta.Pubkey
	Buyer quanta.Pubkey
}

// ExpireOffer lets the offer's own buyer reclaim it past its deadline.
func (s *Service) ExpireOffer(ctx context.Context, p ExpireParams) (*market.Offer, error) {
	o, err := s.Store.GetOffer(ctx, p.Offer)
	if err != nil {
		return nil, err
	}
	if p.Buyer != o.Buyer {
		return nil, marketerr.ErrNotOfferOwner
	}
	if o.Status != market.OfferStatusActive {
		return nil, marketerr.ErrOfferNotActive
	}
	if s.Clock.Now() <= o.Deadline {
		return nil, marketerr.ErrOfferNotExpired
	}
	return s.closeOut(ctx, o, market.OfferStatusExpired, events.OfferExpired)
}

func (s *Service) closeOut(ctx context.Context, o *market.Offer, status market.OfferStatus, evt events.Type) (*market.Offer, error) {
	mu := s.lock(o.Listing)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.Store.GetListing(ctx, o.Listing)
	if err != nil {
		return nil, err
	}
	oe, err := s.Store.GetOfferEscrowByOffer(ctx, o.Key)
	if err != nil {
		return nil, err
	}

	o.Status = status
	if l.LastOfferBuyer != nil && *l.LastOfferBuyer == o.Buyer {
		l.ConsecutiveOfferCount = 0
	}

	if err := s.Xfer.CloseAccount(ctx, oe.Key, o.Buyer, OfferEscrowSpace); err != nil {
		return nil, err
	}
	if err := s.Store.DeleteOfferEscrow(ctx, oe.Key); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateOffer(ctx, o); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return nil, err
	}

	s.publish(evt, o.Listing, map[string]any{"offer": o.Key, "buyer": o.Buyer})
	return o, nil
}

// AcceptParams parameterizes AcceptOffer.
type AcceptParams struct {
	Offer  quanta.Pubkey
	Seller quanta.Pubkey
}

// AcceptOffer converts an Active offer into a Sold listing + Transaction,
// displacing any standing bidder via a PendingWithdrawal ticket.
func (s *Service) AcceptOffer(ctx context.Context, p AcceptParams) (*market.Listing, *market.Transaction, error) {
	o, err := s.Store.GetOffer(ctx, p.Offer)
	if err != nil {
		return nil, nil, err
	}

	mu := s.lock(o.Listing)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.Store.GetListing(ctx, o.Listing)
	if err != nil {
		return nil, nil, err
	}
	if l.Status != market.ListingStatusActive {
		return nil, nil, marketerr.ErrListingNotActive
	}
	if p.Seller != l.Seller {
		return nil, nil, marketerr.ErrNotSeller
	}
	if l.PaymentMint != nil {
		return nil, nil, marketerr.ErrInvalidPaymentMint
	}
	if o.Status != market.OfferStatusActive {
		return nil, nil, marketerr.ErrOfferNotActive
	}
	now := s.Clock.Now()
	if now > o.Deadline {
		return nil, nil, marketerr.ErrOfferExpired
	}

	oe, err := s.Store.GetOfferEscrowByOffer(ctx, o.Key)
	if err != nil {
		return nil, nil, err
	}
	escrow, err := s.Store.GetEscrowByListing(ctx, o.Listing)
	if err != nil {
		return nil, nil, err
	}

	oldBid, oldBidder := l.CurrentBid, l.CurrentBidder

	o.Status = market.OfferStatusAccepted
	l.Status = market.ListingStatusSold
	l.CurrentBid = o.Amount
	l.CurrentBidder = &o.Buyer
	if l.LastOfferBuyer != nil && *l.LastOfferBuyer == o.Buyer {
		l.ConsecutiveOfferCount = 0
	}

	newAmount, err := escrowacct.Credit(escrow.Amount, oe.Amount)
	if err != nil {
		return nil, nil, err
	}
	escrow.Amount = newAmount

	platformFee, err := quanta.BPS(o.Amount, l.PlatformFeeBPS)
	if err != nil {
		return nil, nil, err
	}
	sellerProceeds, err := quanta.SubChecked(o.Amount, platformFee)
	if err != nil {
		return nil, nil, err
	}

	txKey, txBump := quanta.DerivePDA([]byte("transaction"), o.Listing[:])
	tx := &market.Transaction{
		Key:              txKey,
		Listing:          o.Listing,
		Seller:           l.Seller,
		Buyer:            o.Buyer,
		SalePrice:        o.Amount,
		PlatformFee:      platformFee,
		SellerProceeds:   sellerProceeds,
		Status:           market.TransactionStatusInEscrow,
		TransferDeadline: now + market.TransferWindow,
		CreatedAt:        now,
		Bump:             txBump,
	}

	if err := s.Xfer.Transfer(ctx, oe.Key, escrow.Key, oe.Amount); err != nil {
		return nil, nil, err
	}
	if err := s.Xfer.CloseAccount(ctx, oe.Key, l.Seller, OfferEscrowSpace); err != nil {
		return nil, nil, err
	}
	if err := s.Xfer.CreditRentExempt(ctx, txKey, 256); err != nil {
		return nil, nil, err
	}
	if err := s.Store.DeleteOfferEscrow(ctx, oe.Key); err != nil {
		return nil, nil, err
	}
	if err := s.Store.UpdateEscrow(ctx, escrow); err != nil {
		return nil, nil, err
	}
	if err := s.Store.UpdateOffer(ctx, o); err != nil {
		return nil, nil, err
	}
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return nil, nil, err
	}
	if err := s.Store.CreateTransaction(ctx, tx); err != nil {
		return nil, nil, err
	}

	if oldBidder != nil && *oldBidder != o.Buyer && oldBid > 0 {
		if _, err := s.Withdrawal.Issue(ctx, l, *oldBidder, oldBid, l.Seller); err != nil {
			return nil, nil, err
		}
	}

	s.publish(events.OfferAccepted, o.Listing, map[string]any{"buyer": o.Buyer, "sale_price": o.Amount})
	return l, tx, nil
}
