// Package adminenvelope implements the marketplace Config singleton:
// one-time initialization gated on a compile-time-fixed expected admin,
// immediate pause, and two-step 48h-timelocked admin/treasury rotation.
// Grounded on the teacher's internal/admin package (admin-only operations
// against shared financial state) generalized from ad-hoc report endpoints
// to a proposal/timelock/execute state machine.
package adminenvelope

import (
	"context"

	"github.com/mbd888/solmarket/internal/events"
	"github.com/mbd888/solmarket/internal/market"
	"github.com/mbd888/solmarket/internal/marketerr"
	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/mbd888/solmarket/internal/runtime"
)

// ExpectedAdmin is the compile-time-fixed key allowed to initialize the
// Config singleton, preventing a frontrunner from calling initialize first
// and seizing admin control.
var ExpectedAdmin quanta.Pubkey

// Service drives the Config singleton's lifecycle.
type Service struct {
	Store market.Store
	Clock runtime.Clock
	Hub   *events.Hub
}

func New(store market.Store, clock runtime.Clock, hub *events.Hub) *Service {
	return &Service{Store: store, Clock: clock, Hub: hub}
}

func (s *Service) publish(typ events.Type, data any) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(events.NewEvent(typ, s.Clock.Now(), quanta.Pubkey{}, data))
}

// InitializeParams parameterizes Initialize.
type InitializeParams struct {
	Caller           quanta.Pubkey
	Admin            quanta.Pubkey
	Treasury         quanta.Pubkey
	BackendAuthority quanta.Pubkey
	PlatformFeeBPS   uint16
	DisputeFeeBPS    uint16
}

// Initialize creates the Config singleton. Caller must match ExpectedAdmin;
// fee parameters must fall within the protocol's maximums.
func (s *Service) Initialize(ctx context.Context, p InitializeParams) (*market.Config, error) {
	if p.Caller != ExpectedAdmin {
		return nil, marketerr.ErrNotExpectedAdmin
	}
	if p.PlatformFeeBPS > market.MaxPlatformFeeBPS {
		return nil, marketerr.ErrFeeTooHigh
	}
	if p.DisputeFeeBPS > market.MaxDisputeFeeBPS {
		return nil, marketerr.ErrFeeTooHigh
	}
	if _, err := s.Store.GetConfig(ctx); err == nil {
		return nil, marketerr.ErrNoPendingChange
	}

	cfg := &market.Config{
		Admin:            p.Admin,
		Treasury:         p.Treasury,
		BackendAuthority: p.BackendAuthority,
		PlatformFeeBPS:   p.PlatformFeeBPS,
		DisputeFeeBPS:    p.DisputeFeeBPS,
	}
	if err := s.Store.CreateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.publish(events.MarketplaceInitialized, map[string]any{"admin": p.Admin, "treasury": p.Treasury})
	return cfg, nil
}

// SetPaused flips the pause flag. Admin-only; takes effect immediately.
func (s *Service) SetPaused(ctx context.Context, caller quanta.Pubkey, paused bool) (*market.Config, error) {
	cfg, err := s.requireAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	cfg.Paused = paused
	if err := s.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	if paused {
		s.publish(events.ContractPaused, nil)
	}
	return cfg, nil
}

// ProposeAdmin records a pending admin rotation, starting its 48h timelock.
func (s *Service) ProposeAdmin(ctx context.Context, caller, candidate quanta.Pubkey) (*market.Config, error) {
	cfg, err := s.requireAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	cfg.PendingAdmin = &market.PendingKeyChange{Key: candidate, ProposedAt: now}
	if err := s.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.publish(events.AdminChangeProposed, map[string]any{"candidate": candidate})
	return cfg, nil
}

// ExecuteAdmin completes a pending admin rotation once its timelock has
// expired. Callable by anyone holding the pending key, mirroring the
// accept-then-own handshake the teacher's ownership transfers use.
func (s *Service) ExecuteAdmin(ctx context.Context, caller quanta.Pubkey) (*market.Config, error) {
	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.PendingAdmin == nil {
		return nil, marketerr.ErrNoPendingChange
	}
	if caller != cfg.PendingAdmin.Key {
		return nil, marketerr.ErrNotExpectedAdmin
	}
	if s.Clock.Now() < cfg.PendingAdmin.ProposedAt+market.AdminTimelock {
		return nil, marketerr.ErrTimelockNotExpired
	}
	cfg.Admin = cfg.PendingAdmin.Key
	cfg.PendingAdmin = nil
	if err := s.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.publish(events.AdminChanged, map[string]any{"admin": cfg.Admin})
	return cfg, nil
}

// ProposeTreasury records a pending treasury rotation, starting its 48h
// timelock.
func (s *Service) ProposeTreasury(ctx context.Context, caller, candidate quanta.Pubkey) (*market.Config, error) {
	cfg, err := s.requireAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	cfg.PendingTreasury = &market.PendingKeyChange{Key: candidate, ProposedAt: now}
	if err := s.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.publish(events.TreasuryChangeProposed, map[string]any{"candidate": candidate})
	return cfg, nil
}

// ExecuteTreasury completes a pending treasury rotation once its timelock
// has expired. Admin-only: unlike admin rotation, the new treasury account
// need not itself call execute.
func (s *Service) ExecuteTreasury(ctx context.Context, caller quanta.Pubkey) (*market.Config, error) {
	cfg, err := s.requireAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	if cfg.PendingTreasury == nil {
		return nil, marketerr.ErrNoPendingChange
	}
	if s.Clock.Now() < cfg.PendingTreasury.ProposedAt+market.AdminTimelock {
		return nil, marketerr.ErrTimelockNotExpired
	}
	cfg.Treasury = cfg.PendingTreasury.Key
	cfg.PendingTreasury = nil
	if err := s.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.publish(events.TreasuryChanged, map[string]any{"treasury": cfg.Treasury})
	return cfg, nil
}

func (s *Service) requireAdmin(ctx context.Context, caller quanta.Pubkey) (*market.Config, error) {
	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if caller != cfg.Admin {
		return nil, marketerr.ErrNotAdmin
	}
	return cfg, nil
}
