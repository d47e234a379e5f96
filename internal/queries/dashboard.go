package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/Pouzor/servarr-hub/internal/types"
)

type DashboardStat struct {
	StatType   types.StatType `json:"stat_type"`
	TotalCount int            `json:"total_count"`
	Details    map[string]int `json:"details"`
	LastSynced *int64         `json:"last_synced,omitempty"`
}

// DashboardStats returns every stored counter keyed by stat type.
func DashboardStats(ctx context.Context, db *sql.DB) (map[types.StatType]DashboardStat, error) {
	rows, err := db.QueryContext(ctx, `SELECT stat_type, total_count, details, last_synced FROM dashboard_statistics`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.StatType]DashboardStat)
	for rows.Next() {
		var (
			s       DashboardStat
			st, raw string
			synced  sql.NullInt64
		)
		if err := rows.Scan(&st, &s.TotalCount, &raw, &synced); err != nil {
			return nil, err
		}
		s.StatType = types.StatType(st)
		s.Details = map[string]int{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &s.Details); err != nil {
				return nil, fmt.Errorf("decode %s details: %w", st, err)
			}
		}
		if synced.Valid {
			s.LastSynced = &synced.Int64
		}
		out[s.StatType] = s
	}
	return out, rows.Err()
}

type LibraryItem struct {
	Source      types.Source    `json:"source"`
	Title       string          `json:"title"`
	Year        int             `json:"year"`
	MediaType   types.MediaType `json:"media_type"`
	ImageURL    string          `json:"image_url"`
	ImageAlt    string          `json:"image_alt"`
	Quality     string          `json:"quality"`
	Rating      string          `json:"rating,omitempty"`
	Description string          `json:"description,omitempty"`
	AddedDate   string          `json:"added_date"`
	AddedAgo    string          `json:"added_ago"`
	Size        string          `json:"size"`
}

// RecentLibrary lists the newest merged library items.
func RecentLibrary(ctx context.Context, db *sql.DB, limit int, now time.Time) ([]LibraryItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT source, title, year, media_type, image_url, image_alt, quality, rating, description, added_date, size
		FROM library_items
		ORDER BY added_date DESC, created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []LibraryItem{}
	for rows.Next() {
		var (
			it            LibraryItem
			src, mt       string
			rating, descr sql.NullString
		)
		if err := rows.Scan(&src, &it.Title, &it.Year, &mt, &it.ImageURL, &it.ImageAlt, &it.Quality,
			&rating, &descr, &it.AddedDate, &it.Size); err != nil {
			return nil, err
		}
		it.Source, it.MediaType = types.Source(src), types.MediaType(mt)
		it.Rating, it.Description = rating.String, descr.String
		if t, err := time.Parse(time.RFC3339, it.AddedDate); err == nil {
			it.AddedAgo = TimeAgo(t, now)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type CalendarEvent struct {
	Source      types.Source         `json:"source"`
	Title       string               `json:"title"`
	MediaType   types.MediaType      `json:"media_type"`
	ReleaseDate string               `json:"release_date"`
	Episode     string               `json:"episode,omitempty"`
	ImageURL    string               `json:"image_url"`
	ImageAlt    string               `json:"image_alt"`
	Status      types.CalendarStatus `json:"status"`
}

// Upcoming lists calendar events releasing on or after today.
func Upcoming(ctx context.Context, db *sql.DB, limit int, now time.Time) ([]CalendarEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT source, title, media_type, release_date, episode, image_url, image_alt, status
		FROM calendar_events
		WHERE release_date >= ?
		ORDER BY release_date ASC, title ASC, episode ASC
		LIMIT ?`, now.UTC().Format(dateLayout), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CalendarEvent{}
	for rows.Next() {
		var (
			ev              CalendarEvent
			src, mt, status string
			episode         sql.NullString
		)
		if err := rows.Scan(&src, &ev.Title, &mt, &ev.ReleaseDate, &episode, &ev.ImageURL, &ev.ImageAlt, &status); err != nil {
			return nil, err
		}
		ev.Source, ev.MediaType, ev.Status = types.Source(src), types.MediaType(mt), types.CalendarStatus(status)
		ev.Episode = episode.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

type PendingRequest struct {
	RequestID     string                `json:"request_id"`
	Title         string                `json:"title"`
	MediaType     types.MediaType       `json:"media_type"`
	Year          int                   `json:"year"`
	ImageURL      string                `json:"image_url"`
	ImageAlt      string                `json:"image_alt"`
	Priority      types.RequestPriority `json:"priority"`
	RequestedBy   string                `json:"requested_by"`
	RequestedDate string                `json:"requested_date"`
	RequestedAgo  string                `json:"requested_ago"`
	Quality       string                `json:"quality"`
	Description   string                `json:"description,omitempty"`
}

// PendingRequests lists the current Jellyseerr pending set, newest first.
func PendingRequests(ctx context.Context, db *sql.DB, now time.Time) ([]PendingRequest, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT request_id, title, media_type, year, image_url, image_alt, priority, requested_by,
		       requested_date, quality, description
		FROM requests
		ORDER BY requested_date DESC, request_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PendingRequest{}
	for rows.Next() {
		var (
			r       PendingRequest
			mt, pri string
			descr   sql.NullString
		)
		if err := rows.Scan(&r.RequestID, &r.Title, &mt, &r.Year, &r.ImageURL, &r.ImageAlt, &pri,
			&r.RequestedBy, &r.RequestedDate, &r.Quality, &descr); err != nil {
			return nil, err
		}
		r.MediaType, r.Priority, r.Description = types.MediaType(mt), types.RequestPriority(pri), descr.String
		if t, err := time.Parse(time.RFC3339, r.RequestedDate); err == nil {
			r.RequestedAgo = TimeAgo(t, now)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TimeAgo renders the coarse relative age shown on dashboard cards.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d >= 24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return "just now"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
