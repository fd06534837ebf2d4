// Package runtime models the external collaborators a real on-chain host
// would supply: a clock, a rent oracle, signed transfers between custody
// accounts, and backend-authority signature verification. The contract core
// (internal/escrowacct, internal/listing, internal/offer, ...) depends only
// on these interfaces, never on a concrete chain, mirroring how the teacher
// codebase's domain packages depend on small Ledger/Store interfaces rather
// than importing internal/server directly.
package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/solmarket/internal/quanta"
)

// Clock supplies the current wall-clock time in seconds since epoch. Every
// deadline comparison in the core goes through this interface rather than
// time.Now(), so tests can advance time deterministically and so no
// production code path is timer-driven (see SPEC_FULL.md §5).
type Clock interface {
	Now() int64
}

// RentOracle reports the minimum custody balance an account of a given size
// must hold to remain allocated by the host.
type RentOracle interface {
	MinimumBalance(space int) uint64
}

// Transferor moves quanta between custody accounts and reports an account's
// current custody balance. A real host signs the transfer either with the
// owning key or with program-derived seeds; the simulation below just moves
// money between in-memory balances.
type Transferor interface {
	Transfer(ctx context.Context, from, to quanta.Pubkey, amount uint64) error
	CustodyBalance(ctx context.Context, account quanta.Pubkey) (uint64, error)
	CreditRentExempt(ctx context.Context, account quanta.Pubkey, space int) error
	CloseAccount(ctx context.Context, account, rentRecipient quanta.Pubkey, space int) error
}

// BackendVerifier checks whether a message was signed by the holder of a
// given public key. internal/verify implements this over secp256k1.
type BackendVerifier interface {
	Verify(pubkey quanta.Pubkey, message, signature []byte) bool
}

var ErrInsufficientCustody = errors.New("runtime: insufficient custody balance")

// WallClock reports real wall-clock time, for cmd/keeper and any other host
// that isn't driving time explicitly in tests.
type WallClock struct{}

func (WallClock) Now() int64 { return time.Now().Unix() }

// SimClock is a test/dev clock advanced explicitly rather than by wall time.
type SimClock struct {
	mu  sync.Mutex
	now int64
}

// NewSimClock creates a clock starting at the given unix-seconds timestamp.
func NewSimClock(start int64) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by delta seconds and returns the new time.
func (c *SimClock) Advance(delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += delta
	return c.now
}

// Set pins the clock to an absolute timestamp.
func (c *SimClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SimRent is a fixed-fee rent oracle for tests and for deployments with no
// real host rent schedule.
type SimRent struct {
	LamportsPerByte uint64
	BaseFee         uint64
}

// NewSimRent creates a rent oracle with reasonable defaults.
func NewSimRent() *SimRent {
	return &SimRent{LamportsPerByte: 6960, BaseFee: 890880}
}

func (r *SimRent) MinimumBalance(space int) uint64 {
	return r.BaseFee + uint64(space)*r.LamportsPerByte
}

// SimLedger is an in-memory Transferor backing custody accounts with plain
// uint64 balances, guarded by a mutex. It is used by the engine's own tests
// and by cmd/keeper, which has no real chain wired.
type SimLedger struct {
	mu       sync.Mutex
	balances map[quanta.Pubkey]uint64
}

// NewSimLedger creates an empty simulated custody ledger.
func NewSimLedger() *SimLedger {
	return &SimLedger{balances: make(map[quanta.Pubkey]uint64)}
}

// Fund credits an account directly, simulating an external deposit (e.g. a
// buyer wiring in quanta before placing a bid). Not part of the Transferor
// interface — it is test/bootstrap-only.
func (l *SimLedger) Fund(account quanta.Pubkey, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *SimLedger) Transfer(_ context.Context, from, to quanta.Pubkey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return ErrInsufficientCustody
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *SimLedger) CustodyBalance(_ context.Context, account quanta.Pubkey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// CreditRentExempt funds an account with the rent-exempt minimum for an
// account of the given size, simulating allocation of a new PDA account.
func (l *SimLedger) CreditRentExempt(_ context.Context, account quanta.Pubkey, space int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += NewSimRent().MinimumBalance(space)
	return nil
}

// CloseAccount refunds an account's entire remaining custody balance (its
// rent reserve, by construction once tracked amount has been drained to
// zero) to rentRecipient.
func (l *SimLedger) CloseAccount(_ context.Context, account, rentRecipient quanta.Pubkey, _ int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[account]
	delete(l.balances, account)
	l.balances[rentRecipient] += bal
	return nil
}
