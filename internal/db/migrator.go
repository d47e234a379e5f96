package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"

	"github.com/Pouzor/servarr-hub/internal/logging"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.up.sql migrations/*.down.sql
var migrationsFS embed.FS

// MigrateUp applies every embedded "up" migration to the SQLite file at path
// and logs the tables it created.
func MigrateUp(sqlDB *sql.DB, path string) error {
	if path == "" {
		return fmt.Errorf("migrator: empty database path")
	}
	before, err := listTables(sqlDB)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrator: iofs init: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("migrator: create: %w", err)
	}
	defer m.Close()

	maxVer, files := listEmbeddedMigrations()
	logging.Debug("Embedded migrations", "count", len(files), "latest", maxVer)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrator: up: %w", err)
	}
	if v, dirty, err := m.Version(); err == nil {
		logging.Info("DB migration version", "version", v, "dirty", dirty)
	}

	after, err := listTables(sqlDB)
	if err != nil {
		return err
	}
	for _, t := range setDiff(before, after) {
		logging.Info("migrate: created table", "table", t)
	}
	return nil
}

var migRe = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)

func listEmbeddedMigrations() (int, []string) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return 0, nil
	}
	maxV := 0
	var names []string
	for _, e := range entries {
		if m := migRe.FindStringSubmatch(e.Name()); m != nil {
			names = append(names, e.Name())
			if v, err := strconv.Atoi(m[1]); err == nil && v > maxV {
				maxV = v
			}
		}
	}
	slices.Sort(names)
	return maxV, names
}

// listTables returns all user tables (excludes SQLite internals).
func listTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tables: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// setDiff returns items in b that are not in a.
func setDiff(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	var diff []string
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			diff = append(diff, v)
		}
	}
	slices.Sort(diff)
	return diff
}
