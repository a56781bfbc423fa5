// Package database provides the Postgres connection pool, schema migrations,
// and health checks shared by cmd/dispatcher and cmd/worker.
package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds database connection settings.
type Config struct {
	URL string

	// Connection pool settings. Spec §5 mandates a small pool (min 1, max 4
	// per worker) and disabling prepared-statement caching for compatibility
	// with transaction-pooled Postgres (pgbouncer et al.).
	MaxOpenConns              int
	MaxIdleConns              int
	ConnMaxLifetime           time.Duration
	ConnMaxIdleTime           time.Duration
	DisablePreparedStatements bool
}

// Client wraps a sqlx connection pool. pkg/store repositories take its
// embedded *sqlx.DB (or a *sqlx.Tx for transactional calls) through
// store.Queryer rather than a raw *sql.DB, so they can use sqlx's
// struct-scanning against pkg/models types.
type Client struct {
	*sqlx.DB
}

// StdDB returns the underlying *sql.DB, for callers (health checks, migrate
// drivers) that need the stdlib type rather than sqlx's wrapper.
func (c *Client) StdDB() *stdsql.DB {
	return c.DB.DB
}

// NewClient opens a connection pool against cfg.URL, verifies connectivity,
// and applies all pending migrations before returning.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := cfg.URL
	if cfg.DisablePreparedStatements {
		sep := "?"
		if containsRune(dsn, '?') {
			sep = "&"
		}
		dsn += sep + "default_query_exec_mode=simple_protocol"
	}

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := CreateSupportingIndexes(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create supporting indexes: %w", err)
	}

	return &Client{DB: sqlx.NewDb(db, "pgx")}, nil
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

// RunMigrations applies all pending golang-migrate migrations embedded in
// the binary via go:embed, so production deployments need no external
// migration files on disk.
func RunMigrations(db *stdsql.DB) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found - binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "evalpipe", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source driver; m.Close() would also close the
	// database driver, which calls db.Close() on the shared *sql.DB we still
	// need for the returned Client.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
