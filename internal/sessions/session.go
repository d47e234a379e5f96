// Package sessions keeps one playback session per (media, user) and closes it
// exactly once, handing finalized sessions to the rollup.
package sessions

import (
	"github.com/Pouzor/servarr-hub/internal/types"
)

// PlaybackSession mirrors a playback_sessions row. Timestamps are unix seconds.
type PlaybackSession struct {
	ID            string               `json:"id"`
	MediaID       string               `json:"media_id"`
	MediaTitle    string               `json:"media_title"`
	MediaType     types.MediaType      `json:"media_type"`
	MediaYear     int                  `json:"media_year,omitempty"`
	EpisodeInfo   string               `json:"episode_info,omitempty"`
	SeasonNumber  int                  `json:"season_number,omitempty"`
	EpisodeNumber int                  `json:"episode_number,omitempty"`
	PosterURL     string               `json:"poster_url,omitempty"`
	UserID        string               `json:"user_id"`
	UserName      string               `json:"user_name"`
	DeviceName    string               `json:"device_name"`
	ClientName    string               `json:"client_name"`
	DeviceType    types.DeviceType     `json:"device_type"`
	VideoQuality  types.Quality        `json:"video_quality"`
	VideoHeight   int                  `json:"video_height"`
	Method        types.PlaybackMethod `json:"playback_method"`

	TranscodingProgress float64  `json:"transcoding_progress"`
	TranscodingSpeed    *float64 `json:"transcoding_speed,omitempty"`
	VideoCodecSource    string   `json:"video_codec_source,omitempty"`
	VideoCodecTarget    string   `json:"video_codec_target,omitempty"`

	StartTime       int64               `json:"start_time"`
	EndTime         *int64              `json:"end_time,omitempty"`
	PausedAt        *int64              `json:"-"`
	PausedSeconds   int64               `json:"-"`
	LastPosition    *int64              `json:"last_position_seconds,omitempty"`
	DurationSeconds int64               `json:"duration_seconds"`
	WatchedSeconds  int64               `json:"watched_seconds"`
	Status          types.SessionStatus `json:"status"`
	CreatedAt       int64               `json:"created_at"`
	UpdatedAt       int64               `json:"updated_at"`
}

// ProgressPercent is watched/duration in [0,100]; 0 without a known duration.
func (s *PlaybackSession) ProgressPercent() float64 {
	if s.DurationSeconds <= 0 {
		return 0
	}
	p := float64(s.WatchedSeconds) / float64(s.DurationSeconds) * 100
	if s.Status.Active() && s.LastPosition != nil {
		p = float64(*s.LastPosition) / float64(s.DurationSeconds) * 100
	}
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// elapsedEstimate is wall time since start less paused spans, as of at.
// It is capped at the nominal duration when one is known.
func (s *PlaybackSession) elapsedEstimate(at int64) int64 {
	paused := s.PausedSeconds
	if s.PausedAt != nil && at > *s.PausedAt {
		paused += at - *s.PausedAt
	}
	est := at - s.StartTime - paused
	if est < 0 {
		est = 0
	}
	if s.DurationSeconds > 0 && est > s.DurationSeconds {
		est = s.DurationSeconds
	}
	return est
}
