// Package config loads and validates the service configuration shared by the
// API and manager processes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/metalease/metalease/pkg/telemetry"
)

// Config is the root configuration for both the API and the manager.
type Config struct {
	// Listen is the HTTP listen address of the API.
	Listen string `yaml:"listen" validate:"required"`

	// DatabasePath is the SQLite database file path.
	DatabasePath string `yaml:"database_path" validate:"required"`

	// LockDir is the directory backing the per-resource named locks. It must
	// be shared by every worker on the host.
	LockDir string `yaml:"lock_dir" validate:"required"`

	// PolicyDir optionally holds extra rego policy files loaded on top of
	// the builtin rules and reloaded on change.
	PolicyDir string `yaml:"policy_dir"`

	// IdentityFile is the YAML project registry for the static identity
	// provider.
	IdentityFile string `yaml:"identity_file"`

	// ManagerTickSeconds is the spacing between manager loop runs.
	ManagerTickSeconds int `yaml:"manager_tick_seconds" validate:"gte=1"`

	// LockTimeoutSeconds is the named-lock acquisition ceiling.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds" validate:"gte=1"`

	// DefaultResourceType is used when a request omits the resource type.
	DefaultResourceType string `yaml:"default_resource_type" validate:"required"`

	// TokenTTLSeconds is the default console-token lifetime.
	TokenTTLSeconds int `yaml:"token_ttl_seconds" validate:"gte=1"`

	// EnablePolicy controls whether authorization rules are evaluated. When
	// false every authorize call succeeds.
	EnablePolicy bool `yaml:"enable_policy"`

	// ConsoleURLTemplate builds the access URL returned with a console
	// token; %s is replaced by the node uuid.
	ConsoleURLTemplate string `yaml:"console_url_template"`

	// Drivers configures the registered resource drivers.
	Drivers DriversConfig `yaml:"drivers"`

	// Logging configures structured logging.
	Logging telemetry.LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
}

// DriversConfig configures the concrete resource drivers.
type DriversConfig struct {
	// Dummy configures the file-backed development driver.
	Dummy DummyDriverConfig `yaml:"dummy"`

	// Baremetal configures the external provisioning-service driver.
	Baremetal BaremetalDriverConfig `yaml:"baremetal"`
}

// DummyDriverConfig configures the file-backed dummy driver.
type DummyDriverConfig struct {
	Enabled bool   `yaml:"enabled"`
	NodeDir string `yaml:"node_dir"`
}

// BaremetalDriverConfig configures the HTTP client for the external
// bare-metal provisioning service.
type BaremetalDriverConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	AuthToken string `yaml:"auth_token"`
	// TimeoutSeconds bounds each driver HTTP call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Default returns the configuration defaults applied before file values.
func Default() Config {
	return Config{
		Listen:              ":7700",
		DatabasePath:        "metalease.db",
		LockDir:             "/var/lock/metalease",
		ManagerTickSeconds:  60,
		LockTimeoutSeconds:  30,
		DefaultResourceType: "baremetal",
		TokenTTLSeconds:     3600,
		EnablePolicy:        true,
		ConsoleURLTemplate:  "ws://localhost:7777/console/%s",
		Drivers: DriversConfig{
			Dummy: DummyDriverConfig{Enabled: true, NodeDir: "/tmp/metalease-nodes"},
			Baremetal: BaremetalDriverConfig{
				TimeoutSeconds: 30,
			},
		},
		Logging: telemetry.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: telemetry.MetricsConfig{
			Enabled:   true,
			Namespace: "metalease",
			Path:      "/metrics",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and validates the
// result. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ManagerTick returns the loop spacing as a duration.
func (c Config) ManagerTick() time.Duration {
	return time.Duration(c.ManagerTickSeconds) * time.Second
}

// LockTimeout returns the named-lock ceiling as a duration.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// TokenTTL returns the console-token lifetime as a duration.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}
