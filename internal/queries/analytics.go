package queries

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/Pouzor/servarr-hub/internal/types"
)

const dateLayout = "2006-01-02"

type UsagePoint struct {
	Date         string  `json:"date"`
	HoursWatched float64 `json:"hours_watched"`
	PlayCount    int     `json:"play_count"`
}

// Usage returns one point per UTC day for the trailing window ending at now,
// including days without plays.
func Usage(ctx context.Context, db *sql.DB, days int, now time.Time) ([]UsagePoint, error) {
	if days <= 0 {
		days = 30
	}
	today := now.UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	rows, err := db.QueryContext(ctx, `
		SELECT date, hours_watched, total_plays
		FROM daily_analytics
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC`, since.Format(dateLayout), today.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDate := make(map[string]UsagePoint)
	for rows.Next() {
		var p UsagePoint
		if err := rows.Scan(&p.Date, &p.HoursWatched, &p.PlayCount); err != nil {
			return nil, err
		}
		p.HoursWatched = round2(p.HoursWatched)
		byDate[p.Date] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]UsagePoint, 0, days)
	for d := since; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		p, ok := byDate[key]
		if !ok {
			p = UsagePoint{Date: key}
		}
		out = append(out, p)
	}
	return out, nil
}

type MediaSort string

const (
	SortPlays      MediaSort = "plays"
	SortDuration   MediaSort = "duration"
	SortLastPlayed MediaSort = "last_played"
)

// ParseMediaSort maps the ?sort value; unknown values fall back to plays.
func ParseMediaSort(s string) MediaSort {
	switch MediaSort(s) {
	case SortDuration, SortLastPlayed:
		return MediaSort(s)
	}
	return SortPlays
}

type TopMediaRow struct {
	StatKey         string          `json:"stat_key"`
	MediaID         string          `json:"media_id,omitempty"`
	Title           string          `json:"title"`
	MediaType       types.MediaType `json:"media_type"`
	Year            int             `json:"year,omitempty"`
	TotalPlays      int             `json:"total_plays"`
	WatchedSeconds  int64           `json:"total_watched_seconds"`
	HoursWatched    float64         `json:"hours_watched"`
	UniqueUsers     int             `json:"unique_users"`
	DirectPlays     int             `json:"direct_play_count"`
	Transcodes      int             `json:"transcoded_count"`
	MostUsedQuality types.Quality   `json:"most_used_quality"`
	FirstPlayedAt   *int64          `json:"first_played_at,omitempty"`
	LastPlayedAt    *int64          `json:"last_played_at,omitempty"`
}

// TopMedia returns the media leaderboard ordered by sort.
func TopMedia(ctx context.Context, db *sql.DB, sort MediaSort, limit int) ([]TopMediaRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	order := "total_plays DESC, total_watched_seconds DESC"
	switch sort {
	case SortDuration:
		order = "total_watched_seconds DESC, total_plays DESC"
	case SortLastPlayed:
		order = "last_played_at DESC"
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT stat_key, media_id, media_title, media_type, media_year, total_plays, total_watched_seconds,
		       unique_users, direct_play_count, transcoded_count, most_used_quality, first_played_at, last_played_at
		FROM media_statistics
		ORDER BY %s, media_title ASC
		LIMIT ?`, order), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TopMediaRow{}
	for rows.Next() {
		var (
			r            TopMediaRow
			mediaID      sql.NullString
			mt, q        string
			year         sql.NullInt64
			first, lastP sql.NullInt64
		)
		if err := rows.Scan(&r.StatKey, &mediaID, &r.Title, &mt, &year, &r.TotalPlays, &r.WatchedSeconds,
			&r.UniqueUsers, &r.DirectPlays, &r.Transcodes, &q, &first, &lastP); err != nil {
			return nil, err
		}
		r.MediaID, r.MediaType, r.MostUsedQuality = mediaID.String, types.MediaType(mt), types.Quality(q)
		r.Year = int(year.Int64)
		r.HoursWatched = round2(float64(r.WatchedSeconds) / 3600)
		if first.Valid {
			r.FirstPlayedAt = &first.Int64
		}
		if lastP.Valid {
			r.LastPlayedAt = &lastP.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type DeviceShare struct {
	DeviceType     types.DeviceType `json:"device_type"`
	Sessions       int              `json:"sessions"`
	WatchedSeconds int64            `json:"total_watched_seconds"`
	HoursWatched   float64          `json:"hours_watched"`
	UniqueUsers    int              `json:"unique_users"`
	Percentage     float64          `json:"percentage"`
}

// DeviceBreakdown aggregates device statistics over the trailing window.
// Percentage is each device type's share of sessions.
func DeviceBreakdown(ctx context.Context, db *sql.DB, days int, now time.Time) ([]DeviceShare, error) {
	if days <= 0 {
		days = 30
	}
	since := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1)).Format(dateLayout)
	rows, err := db.QueryContext(ctx, `
		SELECT d.device_type,
		       SUM(d.session_count),
		       SUM(d.total_watched_seconds),
		       (SELECT COUNT(DISTINCT u.user_id) FROM device_statistic_users u
		         WHERE u.device_type = d.device_type AND u.period >= ?)
		FROM device_statistics d
		WHERE d.period >= ?
		GROUP BY d.device_type
		ORDER BY SUM(d.session_count) DESC, d.device_type ASC`, since, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DeviceShare{}
	total := 0
	for rows.Next() {
		var (
			s  DeviceShare
			dt string
		)
		if err := rows.Scan(&dt, &s.Sessions, &s.WatchedSeconds, &s.UniqueUsers); err != nil {
			return nil, err
		}
		s.DeviceType = types.DeviceType(dt)
		s.HoursWatched = round2(float64(s.WatchedSeconds) / 3600)
		total += s.Sessions
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if total > 0 {
			out[i].Percentage = math.Round(float64(out[i].Sessions)/float64(total)*1000) / 10
		}
	}
	return out, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
