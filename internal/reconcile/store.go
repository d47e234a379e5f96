package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Pouzor/servarr-hub/internal/config"
	"github.com/Pouzor/servarr-hub/internal/connectors"
	"github.com/Pouzor/servarr-hub/internal/db"
	"github.com/Pouzor/servarr-hub/internal/types"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SeedServices inserts environment-provided service configurations that are
// not yet stored. Rows already in the database win.
func SeedServices(ctx context.Context, sqlDB *sql.DB, services []config.ServiceConfig) (int, error) {
	now := db.Now()
	seeded := 0
	for _, s := range services {
		var port any
		if s.Port > 0 {
			port = s.Port
		}
		res, err := db.ExecWithRetry(ctx, sqlDB, `
			INSERT INTO service_configurations (id, service_name, url, api_key, port, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(service_name) DO NOTHING`,
			uuid.NewString(), string(s.Source), s.URL, s.APIKey, port, s.IsActive, now, now)
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", s.Source, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			seeded++
		}
	}
	return seeded, nil
}

// ActiveService returns the stored, active configuration for src, or nil.
func ActiveService(ctx context.Context, sqlDB *sql.DB, src types.Source) (*config.ServiceConfig, error) {
	var (
		cfg  = config.ServiceConfig{Source: src, IsActive: true}
		port sql.NullInt64
	)
	err := db.QueryRowWithRetry(ctx, sqlDB, `
		SELECT url, api_key, port FROM service_configurations
		WHERE service_name = ? AND is_active = 1`, []any{string(src)}, func(row *sql.Row) error {
		return row.Scan(&cfg.URL, &cfg.APIKey, &port)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s config: %w", src, err)
	}
	cfg.Port = int(port.Int64)
	return &cfg, nil
}

func recordTest(ctx context.Context, sqlDB *sql.DB, src types.Source, ok bool, msg string, at time.Time) error {
	status := "failed"
	if ok {
		status = "success"
	}
	_, err := db.ExecWithRetry(ctx, sqlDB, `
		UPDATE service_configurations
		SET last_tested_at = ?, test_status = ?, test_message = ?, updated_at = ?
		WHERE service_name = ?`,
		at.Unix(), status, msg, at.Unix(), string(src))
	return err
}

// SyncMetadata mirrors one sync_metadata row.
type SyncMetadata struct {
	Source        types.Source     `json:"service_name"`
	Status        types.SyncStatus `json:"sync_status"`
	LastSyncTime  *int64           `json:"last_sync_time,omitempty"`
	NextSyncTime  *int64           `json:"next_sync_time,omitempty"`
	DurationMS    int64            `json:"sync_duration_ms"`
	RecordsSynced int              `json:"records_synced"`
	ErrorMessage  string           `json:"error_message,omitempty"`
}

func markInProgress(ctx context.Context, sqlDB *sql.DB, src types.Source) error {
	now := db.Now()
	_, err := db.ExecWithRetry(ctx, sqlDB, `
		INSERT INTO sync_metadata (id, service_name, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(service_name) DO UPDATE SET
			sync_status = excluded.sync_status,
			updated_at  = excluded.updated_at`,
		uuid.NewString(), string(src), string(types.SyncInProgress), now, now)
	return err
}

func saveMetadata(ctx context.Context, sqlDB *sql.DB, m SyncMetadata) error {
	now := db.Now()
	var errMsg any
	if m.ErrorMessage != "" {
		errMsg = m.ErrorMessage
	}
	_, err := db.ExecWithRetry(ctx, sqlDB, `
		INSERT INTO sync_metadata (id, service_name, last_sync_time, sync_status, error_message,
			next_sync_time, sync_duration_ms, records_synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_name) DO UPDATE SET
			last_sync_time   = excluded.last_sync_time,
			sync_status      = excluded.sync_status,
			error_message    = excluded.error_message,
			next_sync_time   = excluded.next_sync_time,
			sync_duration_ms = excluded.sync_duration_ms,
			records_synced   = excluded.records_synced,
			updated_at       = excluded.updated_at`,
		uuid.NewString(), string(m.Source), m.LastSyncTime, string(m.Status), errMsg,
		m.NextSyncTime, m.DurationMS, m.RecordsSynced, now, now)
	return err
}

// ListMetadata returns every sync_metadata row ordered by source.
func ListMetadata(ctx context.Context, sqlDB *sql.DB) ([]SyncMetadata, error) {
	rows, err := sqlDB.QueryContext(ctx, `
		SELECT service_name, sync_status, last_sync_time, next_sync_time,
		       sync_duration_ms, records_synced, error_message
		FROM sync_metadata ORDER BY service_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncMetadata
	for rows.Next() {
		var (
			m          SyncMetadata
			src, st    string
			last, next sql.NullInt64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&src, &st, &last, &next, &m.DurationMS, &m.RecordsSynced, &errMsg); err != nil {
			return nil, err
		}
		m.Source, m.Status, m.ErrorMessage = types.Source(src), types.SyncStatus(st), errMsg.String
		if last.Valid {
			m.LastSyncTime = &last.Int64
		}
		if next.Valid {
			m.NextSyncTime = &next.Int64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// insertItems merges library items by (title, year, media_type). Existing rows
// are left untouched. Returns the number inserted.
func insertItems(ctx context.Context, tx execer, items []connectors.Item, now int64) (int, error) {
	inserted := 0
	for _, it := range items {
		var added string
		if !it.AddedAt.IsZero() {
			added = it.AddedAt.UTC().Format(time.RFC3339)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO library_items (id, source, external_id, title, year, media_type, image_url, image_alt,
				quality, rating, description, added_date, size, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			uuid.NewString(), string(it.Source), it.ExternalID, it.Title, it.Year, string(it.MediaType),
			it.ImageURL, it.Title+" poster", it.Quality, it.Rating, it.Description, added, it.Size, now, now)
		if err != nil {
			return inserted, fmt.Errorf("insert library item %q: %w", it.Title, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// insertCalendar merges calendar entries by (title, release_date, episode).
func insertCalendar(ctx context.Context, tx execer, entries []connectors.CalendarEntry, now int64) (int, error) {
	inserted := 0
	for _, e := range entries {
		var episode any
		if e.Episode != "" {
			episode = e.Episode
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO calendar_events (id, source, title, media_type, release_date, episode,
				image_url, image_alt, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			uuid.NewString(), string(e.Source), e.Title, string(e.MediaType), e.ReleaseDate.Format("2006-01-02"),
			episode, e.ImageURL, e.Title+" poster", string(e.Status), now, now)
		if err != nil {
			return inserted, fmt.Errorf("insert calendar event %q: %w", e.Title, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// replaceRequests drops every stored request and inserts reqs.
func replaceRequests(ctx context.Context, tx execer, reqs []connectors.Item, now int64) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM requests`); err != nil {
		return 0, fmt.Errorf("clear requests: %w", err)
	}
	for _, r := range reqs {
		var created string
		if !r.AddedAt.IsZero() {
			created = r.AddedAt.UTC().Format(time.RFC3339)
		}
		priority := r.Priority
		if priority == "" {
			priority = types.PriorityMedium
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO requests (id, request_id, title, media_type, year, image_url, image_alt, priority,
				requested_by, requested_date, quality, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), r.ExternalID, r.Title, string(r.MediaType), r.Year, r.ImageURL, r.Title+" poster",
			string(priority), r.RequestedBy, created, r.Quality, r.Description, now, now); err != nil {
			return 0, fmt.Errorf("insert request %s: %w", r.ExternalID, err)
		}
	}
	return len(reqs), nil
}

func upsertDashboardStat(ctx context.Context, tx execer, stat types.StatType, total int, details map[string]int, now int64) error {
	if details == nil {
		details = map[string]int{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dashboard_statistics (id, stat_type, total_count, details, last_synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stat_type) DO UPDATE SET
			total_count = excluded.total_count,
			details     = excluded.details,
			last_synced = excluded.last_synced,
			updated_at  = excluded.updated_at`,
		uuid.NewString(), string(stat), total, string(raw), now, now, now)
	if err != nil {
		return fmt.Errorf("upsert %s statistic: %w", stat, err)
	}
	return nil
}
