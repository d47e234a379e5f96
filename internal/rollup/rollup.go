// Package rollup folds finalized sessions into per-media, per-device and
// per-day statistics. Every update is additive; callers guarantee each
// session is passed in at most once.
package rollup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Pouzor/servarr-hub/internal/db"
	"github.com/Pouzor/servarr-hub/internal/sessions"
	"github.com/Pouzor/servarr-hub/internal/types"
)

type Aggregator struct {
	now func() int64
}

func New() *Aggregator {
	return &Aggregator{now: db.Now}
}

var _ sessions.Finalizer = (*Aggregator)(nil)

// OnSessionFinalized runs inside the caller's transaction.
func (a *Aggregator) OnSessionFinalized(ctx context.Context, tx *sql.Tx, s *sessions.PlaybackSession) error {
	if s == nil || s.Status != types.StatusStopped {
		return errors.New("rollup: session is not finalized")
	}
	if err := a.media(ctx, tx, s); err != nil {
		return fmt.Errorf("media statistics: %w", err)
	}
	if err := a.device(ctx, tx, s); err != nil {
		return fmt.Errorf("device statistics: %w", err)
	}
	if err := a.daily(ctx, tx, s); err != nil {
		return fmt.Errorf("daily analytics: %w", err)
	}
	return nil
}

// StatKey is the media id, or title|type|year for sessions without one.
func StatKey(s *sessions.PlaybackSession) string {
	if s.MediaID != "" {
		return s.MediaID
	}
	return s.MediaTitle + "|" + string(s.MediaType) + "|" + strconv.Itoa(s.MediaYear)
}

// Period is the UTC calendar day a session counts towards.
func Period(s *sessions.PlaybackSession) string {
	at := s.StartTime
	if s.EndTime != nil {
		at = *s.EndTime
	}
	return time.Unix(at, 0).UTC().Format("2006-01-02")
}

func methodCounts(s *sessions.PlaybackSession) (direct, transcoded int) {
	if s.Method == types.MethodTranscode {
		return 0, 1
	}
	return 1, 0
}

func (a *Aggregator) media(ctx context.Context, tx *sql.Tx, s *sessions.PlaybackSession) error {
	key := StatKey(s)
	now := a.now()
	end := s.StartTime
	if s.EndTime != nil {
		end = *s.EndTime
	}

	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM media_statistics WHERE stat_key = ?`, key).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO media_statistics
			(id, stat_key, media_id, media_title, media_type, media_year, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), key, nullStr(s.MediaID), s.MediaTitle, string(s.MediaType), nullInt(s.MediaYear), now, now); err != nil {
			return err
		}
		// users who finished this media before the statistic existed
		if s.MediaID != "" {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO media_statistic_users (stat_key, user_id)
				SELECT DISTINCT ?, user_id FROM playback_sessions WHERE media_id = ? AND status = 'stopped'`,
				key, s.MediaID); err != nil {
				return err
			}
		}
	case err != nil:
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO media_statistic_users (stat_key, user_id) VALUES (?, ?)`,
		key, s.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO media_statistic_qualities (stat_key, quality, play_count, last_seen_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(stat_key, quality) DO UPDATE SET play_count = play_count + 1, last_seen_at = excluded.last_seen_at`,
		key, string(s.VideoQuality), end); err != nil {
		return err
	}
	var mode string
	if err := tx.QueryRowContext(ctx, `SELECT quality FROM media_statistic_qualities WHERE stat_key = ?
		ORDER BY play_count DESC, last_seen_at DESC, (quality = ?) DESC LIMIT 1`,
		key, string(s.VideoQuality)).Scan(&mode); err != nil {
		return err
	}

	direct, transcoded := methodCounts(s)
	_, err = tx.ExecContext(ctx, `UPDATE media_statistics SET
			total_plays = total_plays + 1,
			total_watched_seconds = total_watched_seconds + ?,
			total_duration_seconds = total_duration_seconds + ?,
			direct_play_count = direct_play_count + ?,
			transcoded_count = transcoded_count + ?,
			most_used_quality = ?,
			unique_users = (SELECT COUNT(*) FROM media_statistic_users WHERE stat_key = ?),
			first_played_at = MIN(COALESCE(first_played_at, ?), ?),
			last_played_at = MAX(COALESCE(last_played_at, ?), ?),
			updated_at = ?
		WHERE stat_key = ?`,
		s.WatchedSeconds, s.DurationSeconds, direct, transcoded, mode, key,
		s.StartTime, s.StartTime, end, end, now, key)
	return err
}

func (a *Aggregator) device(ctx context.Context, tx *sql.Tx, s *sessions.PlaybackSession) error {
	period := Period(s)
	dt := string(s.DeviceType)
	if dt == "" {
		dt = string(types.DeviceUnknown)
	}
	now := a.now()
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO device_statistic_users (device_type, period, user_id)
		VALUES (?, ?, ?)`, dt, period, s.UserID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO device_statistics
			(id, device_type, period, session_count, total_watched_seconds, unique_users, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, 1, ?, ?)
		ON CONFLICT(device_type, period) DO UPDATE SET
			session_count = session_count + 1,
			total_watched_seconds = total_watched_seconds + excluded.total_watched_seconds,
			unique_users = (SELECT COUNT(*) FROM device_statistic_users u
			                WHERE u.device_type = excluded.device_type AND u.period = excluded.period),
			updated_at = excluded.updated_at`,
		uuid.NewString(), dt, period, s.WatchedSeconds, now, now)
	return err
}

func (a *Aggregator) daily(ctx context.Context, tx *sql.Tx, s *sessions.PlaybackSession) error {
	date := Period(s)
	now := a.now()
	movies, episodes := 0, 0
	if s.MediaType == types.MediaEpisode {
		episodes = 1
	} else {
		movies = 1
	}
	direct, transcoded := methodCounts(s)

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO daily_analytic_users (date, user_id) VALUES (?, ?)`,
		date, s.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO daily_analytic_media (date, media_key) VALUES (?, ?)`,
		date, StatKey(s)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO daily_analytics
			(id, date, total_plays, hours_watched, movies_played, tv_episodes_played,
			 direct_play_count, transcoded_count, unique_users, unique_media, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, 1, 1, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_plays = total_plays + 1,
			hours_watched = hours_watched + excluded.hours_watched,
			movies_played = movies_played + excluded.movies_played,
			tv_episodes_played = tv_episodes_played + excluded.tv_episodes_played,
			direct_play_count = direct_play_count + excluded.direct_play_count,
			transcoded_count = transcoded_count + excluded.transcoded_count,
			unique_users = (SELECT COUNT(*) FROM daily_analytic_users u WHERE u.date = excluded.date),
			unique_media = (SELECT COUNT(*) FROM daily_analytic_media m WHERE m.date = excluded.date),
			updated_at = excluded.updated_at`,
		uuid.NewString(), date, float64(s.WatchedSeconds)/3600.0, movies, episodes, direct, transcoded, now, now)
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
