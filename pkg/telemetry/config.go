package telemetry

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `yaml:"enable_caller"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `yaml:"enabled"`

	// Namespace is the metrics namespace prefix.
	Namespace string `yaml:"namespace"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `yaml:"path"`
}
