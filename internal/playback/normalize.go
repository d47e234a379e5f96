package playback

import (
	"bytes"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Pouzor/servarr-hub/internal/types"
)

// extractor is one known payload layout.
type extractor interface {
	Name() Shape
	Matches(raw map[string]any) bool
	Extract(raw map[string]any, now time.Time) (PlaybackEvent, error)
}

// Matching order matters: a generic envelope never carries NotificationType,
// and nested must be tried before flat.
var extractors = []extractor{genericExtractor{}, nestedExtractor{}, flatExtractor{}}

func extractorFor(hint SourceHint) extractor {
	switch hint {
	case HintGeneric:
		return genericExtractor{}
	case HintEmby:
		return nestedExtractor{}
	case HintJellyfin:
		return flatExtractor{}
	}
	return nil
}

// Normalize maps a decoded webhook body to a PlaybackEvent stamped with the
// current UTC time.
func Normalize(raw map[string]any, hint SourceHint) (PlaybackEvent, error) {
	return NormalizeAt(raw, hint, time.Now().UTC())
}

// NormalizeAt is Normalize with an explicit receive time.
func NormalizeAt(raw map[string]any, hint SourceHint, now time.Time) (PlaybackEvent, error) {
	if raw == nil {
		return PlaybackEvent{}, ErrUnrecognizedShape
	}
	if x := extractorFor(hint); x != nil {
		if x.Name() == ShapeNested && !x.Matches(raw) {
			// Emby sends flat bodies from its webhook plugin too.
			x = flatExtractor{}
		}
		if !x.Matches(raw) {
			return PlaybackEvent{}, ErrUnrecognizedShape
		}
		return x.Extract(raw, now)
	}
	for _, x := range extractors {
		if x.Matches(raw) {
			return x.Extract(raw, now)
		}
	}
	return PlaybackEvent{}, ErrUnrecognizedShape
}

// NormalizeJSON decodes body and normalizes it. Bodies that are not JSON
// objects are an unrecognized shape.
func NormalizeJSON(body []byte, hint SourceHint) (PlaybackEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return PlaybackEvent{}, ErrUnrecognizedShape
	}
	return Normalize(raw, hint)
}

// ---- generic {event, data} ----

var genericEvents = map[string]Kind{
	"playback.start":   KindStart,
	"playback.stop":    KindStop,
	"playback.pause":   KindPause,
	"playback.unpause": KindResume,
	"playback.resume":  KindResume,
}

type genericExtractor struct{}

func (genericExtractor) Name() Shape { return ShapeGeneric }

func (genericExtractor) Matches(raw map[string]any) bool {
	if _, ok := obj(raw, "data", "Data"); !ok {
		return false
	}
	return str(raw, "event", "Event") != ""
}

func (genericExtractor) Extract(raw map[string]any, now time.Time) (PlaybackEvent, error) {
	name := str(raw, "event", "Event")
	data, _ := obj(raw, "data", "Data")

	// Identity is required before the event name is looked at.
	ev := PlaybackEvent{
		MediaID:    str(data, "media_id", "item_id"),
		UserID:     str(data, "user_id"),
		UserName:   str(data, "user_name", "username"),
		OccurredAt: now,
		Source:     ShapeGeneric,
		RawEvent:   name,
	}
	if ev.MediaID == "" {
		return PlaybackEvent{}, missing("media_id")
	}
	if ev.UserID == "" {
		return PlaybackEvent{}, missing("user_id")
	}
	kind, ok := genericEvents[strings.ToLower(name)]
	if !ok {
		return PlaybackEvent{}, unsupported(name)
	}
	ev.Kind = kind

	ev.Media = MediaInfo{
		Title:        str(data, "media_title", "title"),
		Type:         mediaTypeFrom(str(data, "media_type")),
		Year:         intOr0(data, "year", "media_year"),
		Season:       intOr0(data, "season", "season_number"),
		Episode:      intOr0(data, "episode", "episode_number"),
		EpisodeLabel: str(data, "episode_info"),
		PosterURL:    str(data, "poster_url", "image_url"),
	}
	if ev.Media.Type == types.MediaEpisode && ev.Media.EpisodeLabel == "" && (ev.Media.Season > 0 || ev.Media.Episode > 0) {
		ev.Media.EpisodeLabel = EpisodeLabel(ev.Media.Season, ev.Media.Episode)
	}
	if d, ok := integer(data, "duration_seconds", "duration"); ok {
		ev.Media.DurationSeconds = d
	} else if t, ok := integer(data, "duration_ticks", "run_time_ticks"); ok {
		ev.Media.DurationSeconds = TicksToSeconds(t)
	}

	ev.Device = DeviceInfo{
		Name:   str(data, "device_name"),
		Client: str(data, "client_name", "player_name"),
	}
	if dt, ok := parseDeviceType(str(data, "device_type")); ok {
		ev.Device.Type = dt
	} else {
		ev.Device.Type = ClassifyDevice(ev.Device.Name, ev.Device.Client)
	}

	pb := PlaybackInfo{
		Height:           intOr0(data, "video_height", "height"),
		VideoCodecSource: str(data, "video_codec_source"),
		VideoCodecTarget: str(data, "video_codec_target"),
	}
	pb.Quality = QualityFromHeight(pb.Height)
	if pb.Height == 0 {
		pb.Quality = QualityFromLabel(str(data, "video_quality", "quality"))
	}
	transcoding, _ := boolean(data, "is_transcoding")
	if direct, ok := boolean(data, "is_direct_playing"); ok && !direct {
		transcoding = true
	}
	pb.Method = methodFrom(str(data, "play_method"), transcoding)
	pb.TranscodeProgress, _ = num(data, "transcoding_progress")
	if s, ok := num(data, "transcoding_speed"); ok {
		pb.TranscodeSpeed = ptr(s)
	}
	if w, ok := integer(data, "watched_seconds", "playback_position"); ok {
		pb.WatchedSeconds = ptr(w)
		pb.PositionSeconds = ptr(w)
	}
	if t, ok := integer(data, "position_ticks"); ok {
		pb.PositionSeconds = ptr(TicksToSeconds(t))
	}
	ev.Playback = pb
	return ev, nil
}

// ---- server notification shapes ----

var notificationEvents = map[string]Kind{
	"playbackstart":    KindStart,
	"playback.start":   KindStart,
	"playbackstop":     KindStop,
	"playback.stop":    KindStop,
	"playbackpause":    KindPause,
	"playback.pause":   KindPause,
	"playbackunpause":  KindResume,
	"playbackresume":   KindResume,
	"playback.unpause": KindResume,
}

// notificationKind resolves NotificationType; a PlaybackProgress tick with an
// explicit IsPaused flag is a pause or resume.
func notificationKind(name string, isPaused *bool) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if k, ok := notificationEvents[key]; ok {
		return k, nil
	}
	if key == "playbackprogress" && isPaused != nil {
		if *isPaused {
			return KindPause, nil
		}
		return KindResume, nil
	}
	return "", unsupported(name)
}

// isPlaybackNotification reports whether name belongs to the playback family.
// Other server notifications (ItemAdded, UserCreated) carry no user and are
// ignored rather than rejected.
func isPlaybackNotification(name string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(name)), "playback")
}

type nestedExtractor struct{}

func (nestedExtractor) Name() Shape { return ShapeNested }

func (nestedExtractor) Matches(raw map[string]any) bool {
	if str(raw, "NotificationType", "Event") == "" {
		return false
	}
	_, hasItem := obj(raw, "Item")
	_, hasSession := obj(raw, "Session")
	return hasItem && hasSession
}

func (nestedExtractor) Extract(raw map[string]any, now time.Time) (PlaybackEvent, error) {
	item, _ := obj(raw, "Item")
	session, _ := obj(raw, "Session")
	user, _ := obj(raw, "User")
	playState, _ := obj(session, "PlayState")
	if playState == nil {
		playState, _ = obj(raw, "PlaybackInfo")
	}
	if playState == nil {
		playState = map[string]any{}
	}

	name := str(raw, "NotificationType", "Event")
	ev := PlaybackEvent{
		MediaID:    str(item, "Id"),
		UserID:     str(user, "Id"),
		UserName:   str(user, "Name"),
		OccurredAt: now,
		Source:     ShapeNested,
		RawEvent:   name,
	}
	if ev.UserID == "" {
		ev.UserID = str(session, "UserId")
		ev.UserName = firstNonEmpty(ev.UserName, str(session, "UserName"))
	}
	if isPlaybackNotification(name) {
		if ev.MediaID == "" {
			return PlaybackEvent{}, missing("Item.Id")
		}
		if ev.UserID == "" {
			return PlaybackEvent{}, missing("User.Id")
		}
	}

	var paused *bool
	if p, ok := boolean(playState, "IsPaused"); ok {
		paused = &p
	}
	kind, err := notificationKind(name, paused)
	if err != nil {
		return PlaybackEvent{}, err
	}
	ev.Kind = kind

	mt := mediaTypeFrom(str(item, "Type"))
	ev.Media = MediaInfo{
		Title:   str(item, "Name"),
		Type:    mt,
		Year:    intOr0(item, "ProductionYear"),
		Season:  intOr0(item, "ParentIndexNumber"),
		Episode: intOr0(item, "IndexNumber"),
	}
	if mt == types.MediaEpisode {
		ev.Media.EpisodeLabel = EpisodeLabel(ev.Media.Season, ev.Media.Episode)
		if series := str(item, "SeriesName"); series != "" {
			ev.Media.Title = series + " - " + ev.Media.Title
		}
	}
	if t, ok := integer(item, "RunTimeTicks"); ok {
		ev.Media.DurationSeconds = TicksToSeconds(t)
	}

	ev.Device = DeviceInfo{
		Name:   str(session, "DeviceName"),
		Client: str(session, "Client"),
	}
	ev.Device.Type = ClassifyDevice(ev.Device.Name, ev.Device.Client)

	pb := PlaybackInfo{Height: intOr0(item, "Height")}
	if pb.Height == 0 {
		pb.Height = videoStreamHeight(item)
	}
	pb.Quality = QualityFromHeight(pb.Height)

	ti, transcoding := obj(session, "TranscodingInfo")
	pb.Method = methodFrom(str(playState, "PlayMethod"), false)
	if transcoding {
		if pb.Method != types.MethodTranscode && isVideoTranscode(ti) {
			pb.Method = types.MethodTranscode
		}
		pb.TranscodeProgress, _ = num(ti, "CompletionPercentage")
		if f, ok := num(ti, "Framerate"); ok {
			pb.TranscodeSpeed = ptr(f)
		}
		pb.VideoCodecTarget = str(ti, "VideoCodec")
	}
	pb.VideoCodecSource = videoStreamCodec(item)
	if t, ok := integer(playState, "PositionTicks"); ok {
		pb.PositionSeconds = ptr(TicksToSeconds(t))
		if kind == KindStop {
			pb.WatchedSeconds = ptr(TicksToSeconds(t))
		}
	}
	ev.Playback = pb
	return ev, nil
}

// isVideoTranscode treats audio-only or remux sessions (IsVideoDirect) as direct.
func isVideoTranscode(ti map[string]any) bool {
	if direct, ok := boolean(ti, "IsVideoDirect"); ok {
		return !direct
	}
	return true
}

func videoStream(item map[string]any) map[string]any {
	streams, _ := item["MediaStreams"].([]any)
	for _, s := range streams {
		m, ok := s.(map[string]any)
		if ok && strings.EqualFold(str(m, "Type"), "video") {
			return m
		}
	}
	return nil
}

func videoStreamHeight(item map[string]any) int {
	if vs := videoStream(item); vs != nil {
		return intOr0(vs, "Height")
	}
	return 0
}

func videoStreamCodec(item map[string]any) string {
	if vs := videoStream(item); vs != nil {
		return str(vs, "Codec")
	}
	return ""
}

type flatExtractor struct{}

func (flatExtractor) Name() Shape { return ShapeFlat }

func (flatExtractor) Matches(raw map[string]any) bool {
	if str(raw, "NotificationType") == "" {
		return false
	}
	_, hasItem := obj(raw, "Item")
	return !hasItem
}

func (flatExtractor) Extract(raw map[string]any, now time.Time) (PlaybackEvent, error) {
	name := str(raw, "NotificationType")
	ev := PlaybackEvent{
		MediaID:    str(raw, "ItemId"),
		UserID:     str(raw, "UserId"),
		UserName:   str(raw, "NotificationUsername", "Username"),
		OccurredAt: now,
		Source:     ShapeFlat,
		RawEvent:   name,
	}
	if isPlaybackNotification(name) {
		if ev.MediaID == "" {
			return PlaybackEvent{}, missing("ItemId")
		}
		if ev.UserID == "" {
			return PlaybackEvent{}, missing("UserId")
		}
	}

	var paused *bool
	if p, ok := boolean(raw, "IsPaused"); ok {
		paused = &p
	}
	kind, err := notificationKind(name, paused)
	if err != nil {
		return PlaybackEvent{}, err
	}
	ev.Kind = kind

	mt := mediaTypeFrom(str(raw, "ItemType"))
	ev.Media = MediaInfo{
		Title:   str(raw, "Name"),
		Type:    mt,
		Year:    intOr0(raw, "Year"),
		Season:  intOr0(raw, "SeasonNumber"),
		Episode: intOr0(raw, "EpisodeNumber"),
	}
	if mt == types.MediaEpisode {
		ev.Media.EpisodeLabel = EpisodeLabel(ev.Media.Season, ev.Media.Episode)
		if series := str(raw, "SeriesName"); series != "" {
			ev.Media.Title = series + " - " + ev.Media.Title
		}
	}
	if t, ok := integer(raw, "RunTimeTicks"); ok {
		ev.Media.DurationSeconds = TicksToSeconds(t)
	}

	ev.Device = DeviceInfo{
		Name:   str(raw, "DeviceName"),
		Client: str(raw, "ClientName"),
	}
	ev.Device.Type = ClassifyDevice(ev.Device.Name, ev.Device.Client)

	pb := PlaybackInfo{Height: intOr0(raw, "Height", "VideoHeight")}
	pb.Quality = QualityFromHeight(pb.Height)
	pb.Method = methodFrom(str(raw, "PlayMethod"), false)
	pb.VideoCodecSource = str(raw, "VideoCodec")
	if t, ok := integer(raw, "PlaybackPositionTicks"); ok {
		pb.PositionSeconds = ptr(TicksToSeconds(t))
		if kind == KindStop {
			pb.WatchedSeconds = ptr(TicksToSeconds(t))
		}
	}
	ev.Playback = pb
	return ev, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
