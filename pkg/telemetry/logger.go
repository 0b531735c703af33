// Package telemetry provides the structured logging and metrics surface
// shared by the API workers and the manager.
package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with lease-engine field helpers.
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
}

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	zlog := zerolog.New(writer).With().Timestamp().Logger()
	zlog = zlog.Level(parseLogLevel(cfg.Level))

	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog, config: cfg}, nil
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("component", component).Logger(),
		config: l.config,
	}
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context, falling back to a
// minimal stderr logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{
		zlog: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Interface(key, value).Logger(),
		config: l.config,
	}
}

// WithResource adds resource identification to the logger.
func (l *Logger) WithResource(resourceType, resourceUUID string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("resource_type", resourceType).
			Str("resource_uuid", resourceUUID).
			Logger(),
		config: l.config,
	}
}

// WithLease adds a lease_uuid field to the logger.
func (l *Logger) WithLease(uuid string) *Logger {
	return l.WithField("lease_uuid", uuid)
}

// WithOffer adds an offer_uuid field to the logger.
func (l *Logger) WithOffer(uuid string) *Logger {
	return l.WithField("offer_uuid", uuid)
}

// WithProject adds a project_id field to the logger.
func (l *Logger) WithProject(projectID string) *Logger {
	return l.WithField("project_id", projectID)
}

// WithError adds error information to the logger.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Err(err).Logger(),
		config: l.config,
	}
}

// Zerolog exposes the underlying zerolog logger for middleware that speaks
// zerolog natively.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Warnf logs a formatted warning-level message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Fatal logs a fatal-level message and exits.
func (l *Logger) Fatal(msg string) {
	l.zlog.Fatal().Msg(msg)
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
