package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Pouzor/servarr-hub/internal/types"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sessionColumns = `id, media_id, media_title, media_type, media_year, episode_info,
	season_number, episode_number, poster_url, user_id, user_name, device_name, client_name,
	device_type, video_quality, video_height, playback_method, transcoding_progress,
	transcoding_speed, video_codec_source, video_codec_target, start_time, end_time,
	paused_at, paused_seconds, last_position_seconds, duration_seconds, watched_seconds,
	status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*PlaybackSession, error) {
	var (
		s                                  PlaybackSession
		year, season, episode              sql.NullInt64
		episodeInfo, poster, codecSrc, cdT sql.NullString
		speed                              sql.NullFloat64
		end, pausedAt, lastPos             sql.NullInt64
	)
	err := r.Scan(&s.ID, &s.MediaID, &s.MediaTitle, &s.MediaType, &year, &episodeInfo,
		&season, &episode, &poster, &s.UserID, &s.UserName, &s.DeviceName, &s.ClientName,
		&s.DeviceType, &s.VideoQuality, &s.VideoHeight, &s.Method, &s.TranscodingProgress,
		&speed, &codecSrc, &cdT, &s.StartTime, &end,
		&pausedAt, &s.PausedSeconds, &lastPos, &s.DurationSeconds, &s.WatchedSeconds,
		&s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.MediaYear = int(year.Int64)
	s.SeasonNumber = int(season.Int64)
	s.EpisodeNumber = int(episode.Int64)
	s.EpisodeInfo = episodeInfo.String
	s.PosterURL = poster.String
	s.VideoCodecSource = codecSrc.String
	s.VideoCodecTarget = cdT.String
	if speed.Valid {
		s.TranscodingSpeed = &speed.Float64
	}
	if end.Valid {
		s.EndTime = &end.Int64
	}
	if pausedAt.Valid {
		s.PausedAt = &pausedAt.Int64
	}
	if lastPos.Valid {
		s.LastPosition = &lastPos.Int64
	}
	return &s, nil
}

// findActive returns the non-terminal session for the key, or nil.
func findActive(ctx context.Context, q queryer, mediaID, userID string) (*PlaybackSession, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM playback_sessions
		WHERE media_id = ? AND user_id = ? AND status IN ('playing', 'paused')
		ORDER BY start_time DESC LIMIT 1`, mediaID, userID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return s, nil
}

func insertSession(ctx context.Context, tx *sql.Tx, s *PlaybackSession) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO playback_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.MediaID, s.MediaTitle, string(s.MediaType), nullInt(s.MediaYear), nullStr(s.EpisodeInfo),
		nullInt(s.SeasonNumber), nullInt(s.EpisodeNumber), nullStr(s.PosterURL), s.UserID, s.UserName,
		s.DeviceName, s.ClientName, string(s.DeviceType), string(s.VideoQuality), s.VideoHeight, string(s.Method),
		s.TranscodingProgress, s.TranscodingSpeed, nullStr(s.VideoCodecSource), nullStr(s.VideoCodecTarget),
		s.StartTime, s.EndTime, s.PausedAt, s.PausedSeconds, s.LastPosition, s.DurationSeconds,
		s.WatchedSeconds, string(s.Status), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// savePauseState persists status and pause bookkeeping only.
func savePauseState(ctx context.Context, tx *sql.Tx, s *PlaybackSession) error {
	_, err := tx.ExecContext(ctx, `UPDATE playback_sessions
		SET status = ?, paused_at = ?, paused_seconds = ?, last_position_seconds = ?, updated_at = ?
		WHERE id = ?`,
		string(s.Status), s.PausedAt, s.PausedSeconds, s.LastPosition, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return nil
}

func saveFinal(ctx context.Context, tx *sql.Tx, s *PlaybackSession) error {
	res, err := tx.ExecContext(ctx, `UPDATE playback_sessions
		SET status = ?, end_time = ?, watched_seconds = ?, paused_at = NULL, paused_seconds = ?,
		    last_position_seconds = ?, updated_at = ?
		WHERE id = ? AND status IN ('playing', 'paused')`,
		string(types.StatusStopped), s.EndTime, s.WatchedSeconds, s.PausedSeconds, s.LastPosition, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finalize session %s: not active", s.ID)
	}
	return nil
}

// claimRollup records the session in the ledger. It returns false when the
// session was already rolled up.
func claimRollup(ctx context.Context, tx *sql.Tx, sessionID string, at int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO rollup_ledger (session_id, finalized_at) VALUES (?, ?)`, sessionID, at)
	if err != nil {
		return false, fmt.Errorf("rollup ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListActive returns every playing or paused session, most recent first.
func ListActive(ctx context.Context, q queryer) ([]PlaybackSession, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+sessionColumns+` FROM playback_sessions
		WHERE status IN ('playing', 'paused') ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()
	out := []PlaybackSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Get loads one session by id; sql.ErrNoRows when absent.
func Get(ctx context.Context, q queryer, id string) (*PlaybackSession, error) {
	return scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM playback_sessions WHERE id = ?`, id))
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
