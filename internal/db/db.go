// Package db provides SQLite storage for infco run history.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/infco/internal/logging"
	_ "modernc.org/sqlite"
)

// Config configures the database connection.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string

	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration
}

// DefaultConfig returns a Config for path.
func DefaultConfig(path string) Config {
	return Config{Path: path, BusyTimeout: 5 * time.Second}
}

// DB wraps a SQLite connection pool.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		cfg.Path, busy.Milliseconds())

	return open(dsn, cfg.Path)
}

// OpenInMemory opens a private in-memory database, mainly for tests.
func OpenInMemory() (*DB, error) {
	db, err := open("file::memory:?_pragma=foreign_keys(ON)", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every pooled connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)
	return db, nil
}

func open(dsn, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		path:   path,
		logger: logging.Component("db").With().Str("path", path).Logger(),
	}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Transaction runs fn inside a transaction, committing when it returns nil.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
