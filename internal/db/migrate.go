package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "runs",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				hosts_file TEXT NOT NULL,
				tasks_file TEXT NOT NULL,
				dry_run INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				hosts_matched INTEGER NOT NULL DEFAULT 0,
				hosts_failed INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				started_at TEXT NOT NULL,
				finished_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS runs_started_idx ON runs(started_at)`,
		},
	},
	{
		version: 2,
		name:    "task_results",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS task_results (
				id TEXT PRIMARY KEY,
				run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				host TEXT NOT NULL,
				task_index INTEGER NOT NULL,
				task_type TEXT NOT NULL,
				status TEXT NOT NULL,
				output TEXT,
				error TEXT,
				started_at TEXT NOT NULL,
				duration_ms INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS task_results_run_idx ON task_results(run_id, host, task_index)`,
		},
	},
}

// MigrateUp applies pending migrations and returns how many ran.
func (db *DB) MigrateUp(ctx context.Context) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.version, m.name, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return applied, err
		}
		applied++
		db.logger.Debug().Int("version", m.version).Str("name", m.name).Msg("migration applied")
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}
