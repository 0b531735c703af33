// Package manager runs the control loops that advance offers, leases and
// owner changes through wall-clock transitions: fulfilling records whose
// start time passed, expiring records whose end time passed, retrying
// cancellations parked on a driver failure, and purging expired console
// tokens. Every per-record failure is absorbed and retried on a later tick.
package manager

import (
	"context"
	"time"

	"github.com/metalease/metalease/pkg/console"
	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/telemetry"
	"github.com/metalease/metalease/pkg/types"
)

// Config wires the manager's collaborators.
type Config struct {
	Engine  *engine.Engine
	Store   engine.Store
	Console *console.Service
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics

	// Tick is the spacing between loop runs.
	Tick time.Duration
}

// Manager drives the periodic lifecycle loops.
type Manager struct {
	engine  *engine.Engine
	store   engine.Store
	console *console.Service
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tick    time.Duration

	now func() time.Time
}

// New creates a manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		nop, _ := telemetry.NewLogger(telemetry.LoggingConfig{Level: "disabled"})
		logger = nop
	}
	return &Manager{
		engine:  cfg.Engine,
		store:   cfg.Store,
		console: cfg.Console,
		logger:  logger.NewComponentLogger("manager"),
		metrics: cfg.Metrics,
		tick:    cfg.Tick,
		now:     time.Now,
	}
}

// Run ticks until the context is cancelled. The first tick fires
// immediately.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.WithField("tick", m.tick.String()).Info("manager started")

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("manager stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs every loop once: fulfill first so freshly started records go
// live, then expire, then retry waiting cancellations, then purge tokens.
func (m *Manager) Tick(ctx context.Context) {
	m.runLoop(ctx, "fulfill_leases", m.fulfillLeases)
	m.runLoop(ctx, "fulfill_owner_changes", m.fulfillOwnerChanges)
	m.runLoop(ctx, "expire_leases", m.expireLeases)
	m.runLoop(ctx, "expire_offers", m.expireOffers)
	m.runLoop(ctx, "expire_owner_changes", m.expireOwnerChanges)
	m.runLoop(ctx, "cancel_waiting_leases", m.cancelWaitingLeases)
	m.runLoop(ctx, "purge_console_tokens", m.purgeConsoleTokens)
}

// runLoop times one loop pass and records its absorbed failures.
func (m *Manager) runLoop(ctx context.Context, name string, loop func(ctx context.Context) int) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	failures := loop(ctx)
	if m.metrics != nil {
		m.metrics.RecordLoop(name, time.Since(started), failures)
	}
	if failures > 0 {
		m.logger.WithField("loop", name).
			WithField("failures", failures).
			Warn("loop finished with record failures")
	}
}

func (m *Manager) fulfillLeases(ctx context.Context) int {
	now := m.now().UTC()
	leases, err := m.store.LeaseGetAll(ctx, engine.LeaseFilters{
		Statuses:        []types.LeaseStatus{types.LeaseStatusCreated, types.LeaseStatusWaitFulfill},
		StartTimeBefore: &now,
	})
	if err != nil {
		m.logger.WithError(err).Error("failed to list leases to fulfill")
		return 1
	}

	failures := 0
	for _, lease := range leases {
		if !lease.EndTime.After(now) {
			// Window already over; the expire loop retires it.
			continue
		}
		if err := m.engine.LeaseFulfill(ctx, lease.UUID); err != nil {
			failures++
			m.logger.WithError(err).WithLease(lease.UUID).Warn("failed to fulfill lease")
		}
	}
	return failures
}

func (m *Manager) fulfillOwnerChanges(ctx context.Context) int {
	now := m.now().UTC()
	changes, err := m.store.OwnerChangeGetAll(ctx, engine.OwnerChangeFilters{
		Statuses:        []types.OwnerChangeStatus{types.OwnerChangeStatusCreated},
		StartTimeBefore: &now,
	})
	if err != nil {
		m.logger.WithError(err).Error("failed to list owner changes to fulfill")
		return 1
	}

	failures := 0
	for _, oc := range changes {
		if !oc.EndTime.After(now) {
			continue
		}
		if err := m.engine.OwnerChangeFulfill(ctx, oc.UUID); err != nil {
			failures++
			m.logger.WithError(err).
				WithField("owner_change", oc.UUID).
				Warn("failed to fulfill owner change")
		}
	}
	return failures
}

func (m *Manager) expireLeases(ctx context.Context) int {
	now := m.now().UTC()
	leases, err := m.store.LeaseGetAll(ctx, engine.LeaseFilters{
		Statuses:      types.LeaseStatusesNonTerminal(),
		EndTimeBefore: &now,
	})
	if err != nil {
		m.logger.WithError(err).Error("failed to list leases to expire")
		return 1
	}

	failures := 0
	for _, lease := range leases {
		if err := m.engine.LeaseExpire(ctx, lease.UUID); err != nil {
			failures++
			m.logger.WithError(err).WithLease(lease.UUID).Warn("failed to expire lease")
		}
	}
	return failures
}

func (m *Manager) expireOffers(ctx context.Context) int {
	now := m.now().UTC()
	offers, err := m.store.OfferGetAll(ctx, engine.OfferFilters{
		Statuses: []types.OfferStatus{types.OfferStatusCreated, types.OfferStatusAvailable},
	})
	if err != nil {
		m.logger.WithError(err).Error("failed to list offers to expire")
		return 1
	}

	failures := 0
	for _, offer := range offers {
		if offer.EndTime.After(now) {
			continue
		}
		if err := m.engine.OfferExpire(ctx, offer.UUID); err != nil {
			failures++
			m.logger.WithError(err).WithOffer(offer.UUID).Warn("failed to expire offer")
		}
	}
	return failures
}

func (m *Manager) expireOwnerChanges(ctx context.Context) int {
	now := m.now().UTC()
	changes, err := m.store.OwnerChangeGetAll(ctx, engine.OwnerChangeFilters{
		Statuses: []types.OwnerChangeStatus{
			types.OwnerChangeStatusCreated,
			types.OwnerChangeStatusActive,
		},
		EndTimeBefore: &now,
	})
	if err != nil {
		m.logger.WithError(err).Error("failed to list owner changes to expire")
		return 1
	}

	failures := 0
	for _, oc := range changes {
		if err := m.engine.OwnerChangeExpire(ctx, oc.UUID); err != nil {
			failures++
			m.logger.WithError(err).
				WithField("owner_change", oc.UUID).
				Warn("failed to expire owner change")
		}
	}
	return failures
}

func (m *Manager) cancelWaitingLeases(ctx context.Context) int {
	leases, err := m.store.LeaseGetAll(ctx, engine.LeaseFilters{
		Statuses: []types.LeaseStatus{types.LeaseStatusWaitCancel},
	})
	if err != nil {
		m.logger.WithError(err).Error("failed to list waiting cancellations")
		return 1
	}

	failures := 0
	for _, lease := range leases {
		if err := m.engine.LeaseCancel(ctx, lease.UUID); err != nil {
			failures++
			m.logger.WithError(err).WithLease(lease.UUID).Warn("failed to cancel lease")
		}
	}
	return failures
}

func (m *Manager) purgeConsoleTokens(ctx context.Context) int {
	if m.console == nil {
		return 0
	}
	if _, err := m.console.PurgeExpired(ctx); err != nil {
		m.logger.WithError(err).Error("failed to purge console tokens")
		return 1
	}
	return 0
}
