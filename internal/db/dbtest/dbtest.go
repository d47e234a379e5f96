// Package dbtest opens migrated throwaway databases for package tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/Pouzor/servarr-hub/internal/db"
)

// Open returns a fully migrated SQLite database in t's temp dir. It is closed
// when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.db")
	sqlDB, err := db.Open(path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.MigrateUp(sqlDB, path); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return sqlDB
}

// Count returns SELECT COUNT(*) for the given query.
func Count(t testing.TB, sqlDB *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := sqlDB.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}
