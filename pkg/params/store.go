package params

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteTime is the datetime layout SQLite's datetime() understands.
const sqliteTime = "2006-01-02 15:04:05"

// Store is the SQLite-backed parameter store.
type Store struct {
	db     *sql.DB
	path   string
	sealer *sealer
	cfg    Config
}

// Config holds parameter store configuration.
type Config struct {
	Path            string
	EncryptionKey   string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New creates a new parameter store instance. When EncryptionKey is set,
// sensitive values are sealed before they reach disk.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	s := &Store{
		path: cfg.Path,
		cfg:  cfg,
	}

	if cfg.EncryptionKey != "" {
		sl, err := newSealer(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
		s.sealer = sl
	}

	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *Store) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	// Each connection to :memory: opens its own fresh database, so the
	// pool must stay on a single connection for one to be visible.
	if s.path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Verify connection and set PRAGMAs
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

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// putValue writes a parameter, sealing it first when the parameter is
// sensitive and the store holds an encryption key.
func (s *Store) putValue(ctx context.Context, name string, value []byte, sensitive bool, expiresAt *time.Time) error {
	sealed := 0
	if sensitive && s.sealer != nil {
		enc, err := s.sealer.seal(value)
		if err != nil {
			return fmt.Errorf("failed to seal parameter %s: %w", name, err)
		}
		value = enc
		sealed = 1
	}

	// Format expires_at to SQLite-compatible datetime string
	var expiresAtStr *string
	if expiresAt != nil {
		formatted := expiresAt.UTC().Format(sqliteTime)
		expiresAtStr = &formatted
	}

	now := time.Now().UTC().Format(sqliteTime)

	query := `
		INSERT INTO parameters (name, value, sealed, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			sealed = excluded.sealed,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, name, value, sealed, expiresAtStr, now, now); err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", name, err)
	}

	return nil
}

// getValue reads a parameter, transparently opening sealed values.
// Expired parameters read as absent.
func (s *Store) getValue(ctx context.Context, name string) ([]byte, error) {
	query := `
		SELECT value, sealed
		FROM parameters
		WHERE name = ?
		  AND (expires_at IS NULL OR datetime(expires_at) > datetime('now'))
	`

	var value []byte
	var sealed int
	err := s.db.QueryRowContext(ctx, query, name).Scan(&value, &sealed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if sealed == 1 {
		if s.sealer == nil {
			return nil, fmt.Errorf("parameter %s is sealed but no encryption key is configured", name)
		}
		plain, err := s.sealer.open(value)
		if err != nil {
			return nil, fmt.Errorf("failed to open parameter %s: %w", name, err)
		}
		value = plain
	}

	return value, nil
}

// deleteValue removes a parameter. Deleting an absent parameter is a
// no-op.
func (s *Store) deleteValue(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM parameters WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete parameter %s: %w", name, err)
	}
	return nil
}

// PruneExpired deletes all expired parameters and reports how many were
// removed.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM parameters WHERE expires_at IS NOT NULL AND datetime(expires_at) <= datetime('now')`

	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired parameters: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
