package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	_, err = database.MigrateUp(context.Background())
	require.NoError(t, err)
	return database
}

func TestRetryBusy_RetriesOnBusy(t *testing.T) {
	attempts := 0
	err := retryBusy(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryBusy_StopsOnOtherErrors(t *testing.T) {
	attempts := 0
	err := retryBusy(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return errors.New("boom")
	})

	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, attempts)
}

func TestRetryBusy_StopsAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := retryBusy(context.Background(), 2, time.Millisecond, func() error {
		attempts++
		return errors.New("SQLITE_BUSY: database is busy")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryBusy_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := retryBusy(ctx, 3, time.Millisecond, func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestIsBusyError(t *testing.T) {
	assert.False(t, isBusyError(nil))
	assert.False(t, isBusyError(context.Canceled))
	assert.True(t, isBusyError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isBusyError(errors.New("no such table: runs")))
}

func TestTransactionWithRetry(t *testing.T) {
	db := setupTestDB(t)
	attempts := 0

	err := db.TransactionWithRetry(context.Background(), 3, time.Millisecond, func(tx *sql.Tx) error {
		attempts++
		if attempts < 2 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestTransaction_RollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO runs (id, hosts_file, tasks_file, status, started_at) VALUES ('r1', 'h', 't', 'running', '2024-01-01T00:00:00Z')`)
		require.NoError(t, err)
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count))
	assert.Zero(t, count)
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	applied, err := db.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestOpen_File(t *testing.T) {
	path := t.TempDir() + "/nested/history.db"
	database, err := Open(DefaultConfig(path))
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, path, database.Path())
	applied, err := database.MigrateUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), applied)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.EqualError(t, err, "database path is required")
}
