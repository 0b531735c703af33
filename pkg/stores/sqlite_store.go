package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so stored timestamps compare lexicographically
// in chronological order.
const timeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// execer is satisfied by *sql.DB and *sql.Tx so entity mutations can run
// standalone or inside a transition transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// inTx runs fn inside one transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// fmtTime serializes a timestamp for storage.
func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// fmtTimePtr serializes an optional timestamp.
func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

// parseTime deserializes a stored timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// parseTimePtr deserializes an optional stored timestamp.
func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// marshalProperties serializes the opaque properties bag.
func marshalProperties(p types.Properties) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal properties: %w", err)
	}
	return string(data), nil
}

// unmarshalProperties deserializes the opaque properties bag.
func unmarshalProperties(s string) (types.Properties, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var p types.Properties
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	return p, nil
}

// nullable maps empty strings to NULL so optional references stay optional.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// fromNullable maps NULL back to the empty string.
func fromNullable(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// placeholders builds a "?, ?, ?" list of length n.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// isUniqueViolation recognizes SQLite unique-constraint failures.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapCreateError translates driver errors on insert into the engine
// taxonomy.
func mapCreateError(err error, what, ident string) error {
	if isUniqueViolation(err) {
		return engine.NewConflict(engine.CodeDuplicateEntry,
			fmt.Sprintf("%s %s already exists", what, ident))
	}
	return fmt.Errorf("failed to create %s: %w", what, err)
}
