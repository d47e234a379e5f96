package playback

import (
	"fmt"
	"strings"

	"github.com/Pouzor/servarr-hub/internal/types"
)

// TicksPerSecond is the Jellyfin/Emby tick rate (100ns units).
const TicksPerSecond = 10_000_000

// TicksToSeconds truncates; 88800000000 ticks is exactly 8880 seconds.
func TicksToSeconds(ticks int64) int64 {
	return ticks / TicksPerSecond
}

func QualityFromHeight(h int) types.Quality {
	switch {
	case h >= 2160:
		return types.QualityUHD
	case h >= 1080:
		return types.QualityFullHD
	case h >= 720:
		return types.QualityHD
	case h >= 480:
		return types.QualitySD
	default:
		return types.QualityUnknown
	}
}

// QualityFromLabel handles senders that only report "1080p", "4K" and so on.
func QualityFromLabel(label string) types.Quality {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return types.QualityUnknown
	case strings.Contains(l, "4k"), strings.Contains(l, "2160"), strings.Contains(l, "uhd"):
		return types.QualityUHD
	case strings.Contains(l, "1080"), l == "full_hd", l == "fullhd":
		return types.QualityFullHD
	case strings.Contains(l, "720"), l == "hd":
		return types.QualityHD
	case strings.Contains(l, "480"), strings.Contains(l, "576"), l == "sd":
		return types.QualitySD
	default:
		return types.QualityUnknown
	}
}

func EpisodeLabel(season, episode int) string {
	return fmt.Sprintf("S%02dE%02d", season, episode)
}

func mediaTypeFrom(itemType string) types.MediaType {
	if strings.EqualFold(strings.TrimSpace(itemType), "episode") {
		return types.MediaEpisode
	}
	return types.MediaMovie
}

func methodFrom(playMethod string, transcoding bool) types.PlaybackMethod {
	if transcoding || strings.EqualFold(strings.TrimSpace(playMethod), "transcode") {
		return types.MethodTranscode
	}
	return types.MethodDirectPlay
}

// first match wins, so "Android TV" lands on tv before mobile.
var deviceKeywords = []struct {
	device types.DeviceType
	words  []string
}{
	{types.DeviceConsole, []string{"xbox", "playstation", "ps4", "ps5", "nintendo", "switch"}},
	{types.DeviceTV, []string{"tv", "roku", "chromecast", "shield", "tizen", "webos", "kodi"}},
	{types.DeviceTablet, []string{"ipad", "tablet", "kindle"}},
	{types.DeviceMobile, []string{"iphone", "android", "mobile", "phone", "ios"}},
	{types.DeviceWeb, []string{"web", "chrome", "firefox", "safari", "edge", "browser", "opera"}},
	{types.DeviceDesktop, []string{"windows", "macos", "mac", "linux", "desktop", "media player", "mpv", "vlc"}},
}

// ClassifyDevice derives a device type from the device and client names.
func ClassifyDevice(deviceName, clientName string) types.DeviceType {
	hay := strings.ToLower(deviceName + " " + clientName)
	if strings.TrimSpace(hay) == "" {
		return types.DeviceUnknown
	}
	for _, k := range deviceKeywords {
		for _, w := range k.words {
			if strings.Contains(hay, w) {
				return k.device
			}
		}
	}
	return types.DeviceUnknown
}

func parseDeviceType(s string) (types.DeviceType, bool) {
	switch d := types.DeviceType(strings.ToLower(strings.TrimSpace(s))); d {
	case types.DeviceTV, types.DeviceMobile, types.DeviceTablet, types.DeviceDesktop,
		types.DeviceWeb, types.DeviceConsole:
		return d, true
	}
	return "", false
}
