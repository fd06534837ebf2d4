// Package engine composes the contract core's operation services into a
// single entrypoint, the way the teacher's internal/server wires its
// per-domain Services together from one Config/Store/Logger. Unlike the
// teacher, this core has no HTTP surface of its own (see DESIGN.md); engine
// is the composition root a host process (cmd/keeper, tests)
// calls directly, one method per spec instruction name.
package engine

import (
	"github.com/mbd888/solmarket/internal/adminenvelope"
	"github.com/mbd888/solmarket/internal/completion"
	"github.com/mbd888/solmarket/internal/dispute"
	"github.com/mbd888/solmarket/internal/events"
	"github.com/mbd888/solmarket/internal/listing"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/offer"
	"github.com/mbd888/solmarket/internal/runtime"
	"github.com/mbd888/solmarket/internal/withdrawal"
)

// Engine is the marketplace core: every instruction named in spec.md §4 is
// reachable as a method on one of its embedded services. Each sub-service
// owns its own per-key locking (internal/listing, internal/offer, ... each
// hold a sync.Map of mutexes), so Engine itself holds none.
type Engine struct {
	Store market.Store
	Clock runtime.Clock
	Hub   *events.Hub

	Admin      *adminenvelope.Service
	Listing    *listing.Service
	Offer      *offer.Service
	Withdrawal *withdrawal.Service
	Completion *completion.Service
	Dispute    *dispute.Service
}

// Deps bundles the external collaborators (spec.md §6) an Engine is wired
// against.
type Deps struct {
	Store    market.Store
	Clock    runtime.Clock
	Rent     runtime.RentOracle
	Xfer     runtime.Transferor
	Verifier runtime.BackendVerifier
	Hub      *events.Hub // optional; nil disables event publication
}

// New wires every sub-service against the same store, clock, and event hub,
// mirroring the teacher's single-constructor-per-request-cycle wiring in
// internal/server.New.
func New(d Deps) *Engine {
	withdrawalSvc := withdrawal.New(d.Store, d.Clock, d.Rent, d.Xfer)
	withdrawalSvc.Hub = d.Hub

	return &Engine{
		Store:      d.Store,
		Clock:      d.Clock,
		Hub:        d.Hub,
		Admin:      adminenvelope.New(d.Store, d.Clock, d.Hub),
		Listing:    listing.New(d.Store, d.Clock, d.Rent, d.Xfer, withdrawalSvc, d.Hub),
		Offer:      offer.New(d.Store, d.Clock, d.Rent, d.Xfer, withdrawalSvc, d.Hub),
		Withdrawal: withdrawalSvc,
		Completion: completion.New(d.Store, d.Clock, d.Rent, d.Xfer, d.Verifier, d.Hub),
		Dispute:    dispute.New(d.Store, d.Clock, d.Rent, d.Xfer, d.Hub),
	}
}
