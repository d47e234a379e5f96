// Package playback turns raw webhook payloads from Jellyfin, Emby and generic
// senders into one canonical PlaybackEvent.
package playback

import (
	"time"

	"github.com/Pouzor/servarr-hub/internal/types"
)

type Kind string

const (
	KindStart  Kind = "start"
	KindStop   Kind = "stop"
	KindPause  Kind = "pause"
	KindResume Kind = "resume"
)

// Shape names the payload layout an event was extracted from.
type Shape string

const (
	ShapeGeneric Shape = "generic" // {event, data:{...}}
	ShapeNested  Shape = "nested"  // {NotificationType, Item, User, Session:{PlayState}}
	ShapeFlat    Shape = "flat"    // {NotificationType, ItemId, UserId, ...}
)

// SourceHint forces a specific extractor. HintAuto fingerprints the payload.
type SourceHint string

const (
	HintAuto     SourceHint = "auto"
	HintGeneric  SourceHint = "generic"
	HintEmby     SourceHint = "emby"
	HintJellyfin SourceHint = "jellyfin"
)

// ParseHint maps the ?source= query value; anything unknown is HintAuto.
func ParseHint(s string) SourceHint {
	switch SourceHint(s) {
	case HintGeneric, HintEmby, HintJellyfin:
		return SourceHint(s)
	default:
		return HintAuto
	}
}

type MediaInfo struct {
	Title           string
	Type            types.MediaType
	Year            int
	Season          int
	Episode         int
	EpisodeLabel    string
	PosterURL       string
	DurationSeconds int64
}

type DeviceInfo struct {
	Name   string
	Client string
	Type   types.DeviceType
}

type PlaybackInfo struct {
	Height            int
	Quality           types.Quality
	Method            types.PlaybackMethod
	TranscodeProgress float64
	TranscodeSpeed    *float64
	VideoCodecSource  string
	VideoCodecTarget  string
	// PositionSeconds is the last reported playhead; WatchedSeconds is an
	// explicit consumption figure. Either may be absent.
	PositionSeconds *int64
	WatchedSeconds  *int64
}

// PlaybackEvent is built once by Normalize and passed by value afterwards.
type PlaybackEvent struct {
	Kind       Kind
	MediaID    string
	UserID     string
	UserName   string
	OccurredAt time.Time
	Media      MediaInfo
	Device     DeviceInfo
	Playback   PlaybackInfo
	Source     Shape
	RawEvent   string
}
