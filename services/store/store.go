// Package store hosts the Postgres-backed key/value store component.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/soloplane/soloplane/internal/logging"
	"github.com/soloplane/soloplane/lifecycle"
)

// Kind identifies the store component slot.
const Kind lifecycle.Kind = "store"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: key not found")

// Config configures the Postgres connection.
type Config struct {
	DSN string
	// SkipMigrations disables schema migration on start.
	SkipMigrations bool
}

// Store is a key/value facade over Postgres. The pool is opened during
// construction; migrations and the connectivity check run in the deferred
// start phase so a slow database never serializes the rest of the cohort's
// construction.
type Store struct {
	cfg Config
	log *logging.Logger
	db  *sqlx.DB
}

var (
	_ lifecycle.Singleton     = (*Store)(nil)
	_ lifecycle.ConstructHook = (*Store)(nil)
	_ lifecycle.StartHook     = (*Store)(nil)
	_ lifecycle.ReleaseHook   = (*Store)(nil)
)

// New creates the store component.
func New(cfg Config, log *logging.Logger) *Store {
	return &Store{cfg: cfg, log: log.WithField("component", string(Kind))}
}

// NewWithDB creates a store bound to an existing database handle. Used in
// tests with a mock driver.
func NewWithDB(db *sqlx.DB, log *logging.Logger) *Store {
	return &Store{cfg: Config{SkipMigrations: true}, log: log, db: db}
}

// Kind implements lifecycle.Singleton.
func (s *Store) Kind() lifecycle.Kind { return Kind }

// AfterConstruct opens the connection pool without dialing.
func (s *Store) AfterConstruct(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	db, err := sqlx.Open("postgres", s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	s.db = db
	return nil
}

// AfterStart applies schema migrations and pings the database.
func (s *Store) AfterStart(ctx context.Context) error {
	if !s.cfg.SkipMigrations {
		if err := s.migrate(); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	s.log.Info("store ready")
	return nil
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// OnReleased closes the pool.
func (s *Store) OnReleased() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("close postgres pool", "error", err)
		}
		s.db = nil
	}
}

// Close disposes of the pool for an instance that lost its claim.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put upserts a key/value pair.
func (s *Store) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv_entries WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
