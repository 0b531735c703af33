package commands

import (
	"context"
	"fmt"

	"github.com/metalease/metalease/pkg/config"
	"github.com/metalease/metalease/pkg/console"
	"github.com/metalease/metalease/pkg/drivers"
	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/identity"
	"github.com/metalease/metalease/pkg/locks"
	"github.com/metalease/metalease/pkg/stores"
	"github.com/metalease/metalease/pkg/telemetry"
)

// runtime holds the shared wiring used by both the serve and manager
// commands.
type runtime struct {
	cfg      config.Config
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	store    *stores.SQLiteStore
	drivers  *drivers.Registry
	identity identity.Identity
	engine   *engine.Engine
	console  *console.Service
}

// newRuntime loads the configuration and builds the store, drivers,
// identity provider, engine and console service. The caller owns Close.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	metrics := telemetry.NewMetrics(cfg.Metrics)

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.DatabasePath})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	locker, err := locks.NewManager(cfg.LockDir, cfg.LockTimeout(), metrics)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to set up locks: %w", err)
	}

	registry, err := drivers.NewFromConfig(cfg.Drivers, logger, metrics)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to set up drivers: %w", err)
	}

	var ident identity.Identity
	if cfg.IdentityFile != "" {
		static, err := identity.NewStaticProvider(cfg.IdentityFile)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load identity file: %w", err)
		}
		cached, err := identity.NewCached(static)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to set up identity cache: %w", err)
		}
		ident = cached
	}

	eng := engine.New(engine.Config{
		Store:               store,
		Locks:               locker,
		Drivers:             registry,
		Identity:            ident,
		Logger:              logger,
		Metrics:             metrics,
		DefaultResourceType: cfg.DefaultResourceType,
	})
	svc := console.NewService(console.Config{
		Store:       store,
		Logger:      logger,
		TTL:         cfg.TokenTTL(),
		URLTemplate: cfg.ConsoleURLTemplate,
	})

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		store:    store,
		drivers:  registry,
		identity: ident,
		engine:   eng,
		console:  svc,
	}, nil
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.WithError(err).Warn("failed to close store")
	}
}
