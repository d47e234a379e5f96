package playback

import (
	"testing"

	"github.com/Pouzor/servarr-hub/internal/types"
)

func TestQualityFromHeight(t *testing.T) {
	tests := []struct {
		height int
		want   types.Quality
	}{
		{4320, types.QualityUHD},
		{2160, types.QualityUHD},
		{2159, types.QualityFullHD},
		{1080, types.QualityFullHD},
		{1079, types.QualityHD},
		{720, types.QualityHD},
		{719, types.QualitySD},
		{480, types.QualitySD},
		{479, types.QualityUnknown},
		{0, types.QualityUnknown},
		{-1, types.QualityUnknown},
	}
	for _, tt := range tests {
		if got := QualityFromHeight(tt.height); got != tt.want {
			t.Errorf("QualityFromHeight(%d) = %s, want %s", tt.height, got, tt.want)
		}
	}
}

func TestQualityFromLabel(t *testing.T) {
	tests := map[string]types.Quality{
		"4K":    types.QualityUHD,
		"2160p": types.QualityUHD,
		"1080p": types.QualityFullHD,
		"720p":  types.QualityHD,
		"480p":  types.QualitySD,
		"":      types.QualityUnknown,
		"weird": types.QualityUnknown,
	}
	for label, want := range tests {
		if got := QualityFromLabel(label); got != want {
			t.Errorf("QualityFromLabel(%q) = %s, want %s", label, got, want)
		}
	}
}

func TestTicksToSeconds(t *testing.T) {
	if got := TicksToSeconds(88800000000); got != 8880 {
		t.Errorf("Expected 8880, got %d", got)
	}
	if got := TicksToSeconds(19_999_999); got != 1 {
		t.Errorf("Expected truncation to 1, got %d", got)
	}
}

func TestEpisodeLabel(t *testing.T) {
	if got := EpisodeLabel(1, 9); got != "S01E09" {
		t.Errorf("Expected S01E09, got %s", got)
	}
	if got := EpisodeLabel(12, 104); got != "S12E104" {
		t.Errorf("Expected S12E104, got %s", got)
	}
}

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		device, client string
		want           types.DeviceType
	}{
		{"SHIELD", "Jellyfin Android TV", types.DeviceTV},
		{"Pixel 8", "Jellyfin Android", types.DeviceMobile},
		{"iPad", "Jellyfin iOS", types.DeviceTablet},
		{"Firefox", "Jellyfin Web", types.DeviceWeb},
		{"DESKTOP-01", "Jellyfin Media Player", types.DeviceDesktop},
		{"Xbox", "Jellyfin Xbox", types.DeviceConsole},
		{"", "", types.DeviceUnknown},
		{"Box", "Thing", types.DeviceUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyDevice(tt.device, tt.client); got != tt.want {
			t.Errorf("ClassifyDevice(%q, %q) = %s, want %s", tt.device, tt.client, got, tt.want)
		}
	}
}
