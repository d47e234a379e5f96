package types

// Shared vocabulary persisted in enum-valued columns. Values are the lowercase
// strings stored in SQLite.

// Source identifies one of the external services the hub talks to.
type Source string

const (
	SourceJellyfin   Source = "jellyfin"
	SourceRadarr     Source = "radarr"
	SourceSonarr     Source = "sonarr"
	SourceJellyseerr Source = "jellyseerr"
)

// AllSources lists every source in the order a reconciliation pass reports them.
func AllSources() []Source {
	return []Source{SourceRadarr, SourceSonarr, SourceJellyfin, SourceJellyseerr}
}

// ParseSource maps a loose string to a Source.
func ParseSource(s string) (Source, bool) {
	for _, src := range AllSources() {
		if string(src) == s {
			return src, true
		}
	}
	return "", false
}

type MediaType string

const (
	MediaMovie   MediaType = "movie"
	MediaEpisode MediaType = "episode"
	MediaTV      MediaType = "tv" // library/calendar/request rows for a series
)

type Quality string

const (
	QualityUHD     Quality = "uhd_4k"
	QualityFullHD  Quality = "full_hd"
	QualityHD      Quality = "hd"
	QualitySD      Quality = "sd"
	QualityUnknown Quality = "unknown"
)

type PlaybackMethod string

const (
	MethodDirectPlay PlaybackMethod = "direct_play"
	MethodTranscode  PlaybackMethod = "transcode"
)

type DeviceType string

const (
	DeviceTV      DeviceType = "tv"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
	DeviceWeb     DeviceType = "web"
	DeviceConsole DeviceType = "console"
	DeviceUnknown DeviceType = "unknown"
)

type SessionStatus string

const (
	StatusPlaying SessionStatus = "playing"
	StatusPaused  SessionStatus = "paused"
	StatusStopped SessionStatus = "stopped"
)

// Active reports whether the status is non-terminal.
func (s SessionStatus) Active() bool {
	return s == StatusPlaying || s == StatusPaused
}

type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
)

type StatType string

const (
	StatUsers          StatType = "users"
	StatMovies         StatType = "movies"
	StatTVShows        StatType = "tv_shows"
	StatMonitoredItems StatType = "monitored_items"
)

type CalendarStatus string

const (
	CalendarMonitored   CalendarStatus = "monitored"
	CalendarDownloading CalendarStatus = "downloading"
	CalendarAvailable   CalendarStatus = "available"
)

type RequestPriority string

const (
	PriorityLow    RequestPriority = "low"
	PriorityMedium RequestPriority = "medium"
	PriorityHigh   RequestPriority = "high"
)
