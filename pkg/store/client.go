// Package store provides the single-writer relational store for sessions,
// user prompts, observations, summaries, and pending queue messages, with
// embedded migrations and a pooled SQLite connection accessed through
// hand-written sqlx queries.
package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pooled SQLite handle. Spec §5 requires exactly one
// writer; rather than shape that through connection-pool limits (SQLite
// allows only one writer per file regardless), a mutex on the Go side
// serializes writes so callers never block inside the driver on
// "database is locked" errors.
type Client struct {
	db      *sqlx.DB
	writeMu sync.Mutex
	dbPath  string
}

// Open creates the SQLite file (if absent), applies pending migrations, and
// returns a ready Client.
func Open(ctx context.Context, path string) (*Client, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	if err := runMigrations(path); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Client{db: db, dbPath: path}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// DB exposes the raw handle for composition of transactions by other
// components (C1's queue claim, C3's backfill scan) — never for schema
// bypass.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Lock serializes the single writer across goroutines. Every mutating
// operation in this package must hold it for the duration of its
// transaction; readers do not need it (SQLite WAL mode gives them a
// consistent snapshot without blocking the writer).
func (c *Client) Lock()   { c.writeMu.Lock() }
func (c *Client) Unlock() { c.writeMu.Unlock() }

// runMigrations applies every pending embedded migration, following the
// teacher's embed+iofs+golang-migrate wiring with the sqlite3 database
// driver in place of postgres.
func runMigrations(path string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("checking embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary built incorrectly")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, "sqlite3://"+path+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, fmt.Errorf("reading embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
