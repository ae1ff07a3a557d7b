package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// TransactionWithRetry runs a transaction, retrying with exponential backoff
// while SQLite reports the database as busy or locked. Zero values select
// the defaults.
func (db *DB) TransactionWithRetry(ctx context.Context, maxAttempts int, baseBackoff time.Duration, fn func(*sql.Tx) error) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	if baseBackoff <= 0 {
		baseBackoff = defaultRetryBackoff
	}

	return retryBusy(ctx, maxAttempts, baseBackoff, func() error {
		return db.Transaction(ctx, fn)
	})
}

func retryBusy(ctx context.Context, maxAttempts int, backoff time.Duration, fn func() error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil || !isBusyError(err) || attempt >= maxAttempts {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

func isBusyError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended codes keep the primary code in the low byte.
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}
