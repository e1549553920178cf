package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Default connection settings. SQLite serializes writers, so the pool is
// pinned to a single connection; that also keeps the foreign_keys pragma in
// force for every statement the process issues.
const (
	defaultBusyTimeoutMS = 5000
	dirPermissions       = 0o750
)

// Config holds SQLite connection options.
type Config struct {
	// Path is the filesystem path to the database file. The parent
	// directory is created if missing.
	Path string

	// BusyTimeoutMS is the maximum time to wait for a database lock, in
	// milliseconds. Zero means the default.
	BusyTimeoutMS int

	// WALMode enables write-ahead logging.
	WALMode bool
}

// Client manages the connection to SQLite. Referential integrity
// enforcement (foreign_keys=on) is part of the connection string, so it
// holds for the whole connection lifetime.
type Client struct {
	db   *sql.DB
	path string
}

// Open creates a new SQLite client and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, dirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = defaultBusyTimeoutMS
	}
	connStr := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d", cfg.Path, busy)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; keeps pragmas applied to the one live connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: sqlDB, path: cfg.Path}, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// DB returns the underlying database connection.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Path returns the database file path.
func (c *Client) Path() string {
	return c.path
}

// WithTx runs fn inside a transaction and guarantees commit-or-rollback on
// every exit path.
func (c *Client) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
