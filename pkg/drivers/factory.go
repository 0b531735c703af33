package drivers

import (
	"fmt"
	"time"

	"github.com/metalease/metalease/pkg/config"
	"github.com/metalease/metalease/pkg/telemetry"
)

// NewFromConfig builds a registry holding every enabled driver.
func NewFromConfig(cfg config.DriversConfig, logger *telemetry.Logger, metrics *telemetry.Metrics) (*Registry, error) {
	registry := NewRegistry()

	if cfg.Dummy.Enabled {
		dummy, err := NewDummyDriver(cfg.Dummy.NodeDir, logger.NewComponentLogger("driver.dummy"))
		if err != nil {
			return nil, fmt.Errorf("failed to create dummy driver: %w", err)
		}
		if err := registry.Register(dummy); err != nil {
			return nil, err
		}
	}

	if cfg.Baremetal.Enabled {
		baremetal, err := NewBaremetalDriver(BaremetalConfig{
			Endpoint:  cfg.Baremetal.Endpoint,
			AuthToken: cfg.Baremetal.AuthToken,
			Timeout:   time.Duration(cfg.Baremetal.TimeoutSeconds) * time.Second,
		}, logger.NewComponentLogger("driver.baremetal"), metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create baremetal driver: %w", err)
		}
		if err := registry.Register(baremetal); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
