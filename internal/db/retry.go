package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	maxRetryAttempts    = 8
	initialRetryBackoff = 25 * time.Millisecond
	maxRetryBackoff     = 800 * time.Millisecond
)

// IsBusyError returns true when the error represents a transient SQLite busy/locked state.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_BUSY_SNAPSHOT:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func retryBusy(ctx context.Context, op func() error) error {
	var lastErr error
	backoff := initialRetryBackoff
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		err := op()
		if err == nil || !IsBusyError(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxRetryBackoff {
			backoff *= 2
		}
	}
	return lastErr
}

// ExecWithRetry executes the statement, retrying a few times if SQLite reports a busy/locked state.
func ExecWithRetry(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryBusy(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// QueryRowWithRetry executes the query and invokes scan with retry semantics for busy errors.
func QueryRowWithRetry(ctx context.Context, db *sql.DB, query string, args []any, scan func(*sql.Row) error) error {
	return retryBusy(ctx, func() error {
		return scan(db.QueryRowContext(ctx, query, args...))
	})
}
