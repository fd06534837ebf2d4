package market

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/solmarket/internal/quanta"
)

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation, used by cmd/server's
// default (no DATABASE_URL) mode and by every package's unit tests.
type MemoryStore struct {
	mu                 sync.RWMutex
	config             *Config
	listings           map[quanta.Pubkey]*Listing
	escrows            map[quanta.Pubkey]*Escrow
	escrowsByListing   map[quanta.Pubkey]quanta.Pubkey
	transactions       map[quanta.Pubkey]*Transaction
	txByListing        map[quanta.Pubkey]quanta.Pubkey
	disputes           map[quanta.Pubkey]*Dispute
	disputeByTx        map[quanta.Pubkey]quanta.Pubkey
	offers             map[quanta.Pubkey]*Offer
	offersByListing    map[quanta.Pubkey][]quanta.Pubkey
	offerEscrows       map[quanta.Pubkey]*OfferEscrow
	offerEscrowByOffer map[quanta.Pubkey]quanta.Pubkey
	withdrawals        map[quanta.Pubkey]*PendingWithdrawal
	withdrawalsByListing map[quanta.Pubkey][]quanta.Pubkey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:             make(map[quanta.Pubkey]*Listing),
		escrows:              make(map[quanta.Pubkey]*Escrow),
		escrowsByListing:     make(map[quanta.Pubkey]quanta.Pubkey),
		transactions:         make(map[quanta.Pubkey]*Transaction),
		txByListing:          make(map[quanta.Pubkey]quanta.Pubkey),
		disputes:             make(map[quanta.Pubkey]*Dispute),
		disputeByTx:          make(map[quanta.Pubkey]quanta.Pubkey),
		offers:               make(map[quanta.Pubkey]*Offer),
		offersByListing:      make(map[quanta.Pubkey][]quanta.Pubkey),
		offerEscrows:         make(map[quanta.Pubkey]*OfferEscrow),
		offerEscrowByOffer:   make(map[quanta.Pubkey]quanta.Pubkey),
		withdrawals:          make(map[quanta.Pubkey]*PendingWithdrawal),
		withdrawalsByListing: make(map[quanta.Pubkey][]quanta.Pubkey),
	}
}

// --- Config ---

func (m *MemoryStore) GetConfig(_ context.Context) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil, ErrNotFound
	}
	cp := *m.config
	return &cp, nil
}

func (m *MemoryStore) CreateConfig(_ context.Context, cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.config = &cp
	return nil
}

func (m *MemoryStore) UpdateConfig(_ context.Context, cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return ErrNotFound
	}
	cp := *cfg
	m.config = &cp
	return nil
}

// --- Listing ---

func (m *MemoryStore) CreateListing(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.listings[l.Key] = &cp
	return nil
}

func (m *MemoryStore) GetListing(_ context.Context, key quanta.Pubkey) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) UpdateListing(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[l.Key]; !ok {
		return ErrNotFound
	}
	cp := *l
	m.listings[l.Key] = &cp
	return nil
}

func (m *MemoryStore) ListActiveListings(_ context.Context, limit int) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Listing
	for _, l := range m.listings {
		if l.Status == ListingStatusActive {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt > result[j].CreatedAt })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Escrow ---

func (m *MemoryStore) CreateEscrow(_ context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.escrows[e.Key] = &cp
	m.escrowsByListing[e.Listing] = e.Key
	return nil
}

func (m *MemoryStore) GetEscrow(_ context.Context, key quanta.Pubkey) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.escrows[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetEscrowByListing(_ context.Context, listing quanta.Pubkey) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.escrowsByListing[listing]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.escrows[key]
	return &cp, nil
}

func (m *MemoryStore) UpdateEscrow(_ context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[e.Key]; !ok {
		return ErrNotFound
	}
	cp := *e
	m.escrows[e.Key] = &cp
	return nil
}

func (m *MemoryStore) DeleteEscrow(_ context.Context, key quanta.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.escrows, key)
	delete(m.escrowsByListing, e.Listing)
	return nil
}

// --- Transaction ---

func (m *MemoryStore) CreateTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transactions[t.Key] = &cp
	m.txByListing[t.Listing] = t.Key
	return nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, key quanta.Pubkey) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTransactionByListing(_ context.Context, listing quanta.Pubkey) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.txByListing[listing]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.transactions[key]
	return &cp, nil
}

func (m *MemoryStore) UpdateTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[t.Key]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.transactions[t.Key] = &cp
	return nil
}

// --- Dispute ---

func (m *MemoryStore) CreateDispute(_ context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.disputes[d.Key] = &cp
	m.disputeByTx[d.Transaction] = d.Key
	return nil
}

func (m *MemoryStore) GetDispute(_ context.Context, key quanta.Pubkey) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetDisputeByTransaction(_ context.Context, tx quanta.Pubkey) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.disputeByTx[tx]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.disputes[key]
	return &cp, nil
}

func (m *MemoryStore) UpdateDispute(_ context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[d.Key]; !ok {
		return ErrNotFound
	}
	cp := *d
	m.disputes[d.Key] = &cp
	return nil
}

func (m *MemoryStore) DeleteDispute(_ context.Context, key quanta.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.disputes, key)
	delete(m.disputeByTx, d.Transaction)
	return nil
}

// --- Offer ---

func (m *MemoryStore) CreateOffer(_ context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.offers[o.Key] = &cp
	m.offersByListing[o.Listing] = append(m.offersByListing[o.Listing], o.Key)
	return nil
}

func (m *MemoryStore) GetOffer(_ context.Context, key quanta.Pubkey) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateOffer(_ context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[o.Key]; !ok {
		return ErrNotFound
	}
	cp := *o
	m.offers[o.Key] = &cp
	return nil
}

func (m *MemoryStore) ListOffersByListing(_ context.Context, listing quanta.Pubkey) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := m.offersByListing[listing]
	result := make([]*Offer, 0, len(keys))
	for _, k := range keys {
		cp := *m.offers[k]
		result = append(result, &cp)
	}
	return result, nil
}

// --- OfferEscrow ---

func (m *MemoryStore) CreateOfferEscrow(_ context.Context, oe *OfferEscrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *oe
	m.offerEscrows[oe.Key] = &cp
	m.offerEscrowByOffer[oe.Offer] = oe.Key
	return nil
}

func (m *MemoryStore) GetOfferEscrow(_ context.Context, key quanta.Pubkey) (*OfferEscrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	oe, ok := m.offerEscrows[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *oe
	return &cp, nil
}

func (m *MemoryStore) GetOfferEscrowByOffer(_ context.Context, offer quanta.Pubkey) (*OfferEscrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.offerEscrowByOffer[offer]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.offerEscrows[key]
	return &cp, nil
}

func (m *MemoryStore) UpdateOfferEscrow(_ context.Context, oe *OfferEscrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offerEscrows[oe.Key]; !ok {
		return ErrNotFound
	}
	cp := *oe
	m.offerEscrows[oe.Key] = &cp
	return nil
}

func (m *MemoryStore) DeleteOfferEscrow(_ context.Context, key quanta.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oe, ok := m.offerEscrows[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.offerEscrows, key)
	delete(m.offerEscrowByOffer, oe.Offer)
	return nil
}

// --- PendingWithdrawal ---

func (m *MemoryStore) CreatePendingWithdrawal(_ context.Context, w *PendingWithdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.withdrawals[w.Key] = &cp
	m.withdrawalsByListing[w.Listing] = append(m.withdrawalsByListing[w.Listing], w.Key)
	return nil
}

func (m *MemoryStore) GetPendingWithdrawal(_ context.Context, key quanta.Pubkey) (*PendingWithdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.withdrawals[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) DeletePendingWithdrawal(_ context.Context, key quanta.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.withdrawals, key)
	keys := m.withdrawalsByListing[w.Listing]
	for i, k := range keys {
		if k == key {
			m.withdrawalsByListing[w.Listing] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) ListPendingWithdrawalsByListing(_ context.Context, listing quanta.Pubkey) ([]*PendingWithdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := m.withdrawalsByListing[listing]
	result := make([]*PendingWithdrawal, 0, len(keys))
	for _, k := range keys {
		if w, ok := m.withdrawals[k]; ok {
			cp := *w
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListExpiredPendingWithdrawals(_ context.Context, now int64, limit int) ([]*PendingWithdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*PendingWithdrawal
	for _, w := range m.withdrawals {
		if w.ExpiresAt <= now {
			cp := *w
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt < result[j].ExpiresAt })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
