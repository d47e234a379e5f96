package queries

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/Pouzor/servarr-hub/internal/db/dbtest"
	"github.com/Pouzor/servarr-hub/internal/playback"
	"github.com/Pouzor/servarr-hub/internal/rollup"
	"github.com/Pouzor/servarr-hub/internal/sessions"
	"github.com/Pouzor/servarr-hub/internal/types"
)

var now = time.Date(2026, 7, 10, 20, 0, 0, 0, time.UTC)

func play(t *testing.T, e *sessions.Engine, media, user string, d types.DeviceType, start time.Time, watched int64) {
	t.Helper()
	ev := playback.PlaybackEvent{
		Kind: playback.KindStart, MediaID: media, UserID: user, OccurredAt: start,
		Media:    playback.MediaInfo{Title: media, Type: types.MediaMovie, DurationSeconds: 7200},
		Device:   playback.DeviceInfo{Type: d},
		Playback: playback.PlaybackInfo{Quality: types.QualityFullHD, Method: types.MethodDirectPlay},
	}
	if _, err := e.Handle(context.Background(), ev); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev.Kind = playback.KindStop
	ev.OccurredAt = start.Add(time.Duration(watched) * time.Second)
	ev.Playback.WatchedSeconds = &watched
	if _, err := e.Handle(context.Background(), ev); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func seeded(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB := dbtest.Open(t)
	e := sessions.NewEngine(sqlDB, rollup.New())
	yesterday := now.AddDate(0, 0, -1)
	play(t, e, "m1", "u1", types.DeviceTV, yesterday, 3600)
	play(t, e, "m1", "u2", types.DeviceMobile, yesterday.Add(2*time.Hour), 1800)
	play(t, e, "m2", "u1", types.DeviceTV, now.Add(-3*time.Hour), 5400)
	play(t, e, "m3", "u3", types.DeviceTV, now.AddDate(0, 0, -40), 600)
	return sqlDB
}

func TestUsageIsDense(t *testing.T) {
	sqlDB := seeded(t)
	pts, err := Usage(context.Background(), sqlDB, 7, now)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(pts) != 7 {
		t.Fatalf("points = %d, want 7", len(pts))
	}
	if pts[0].Date != "2026-07-04" || pts[6].Date != "2026-07-10" {
		t.Errorf("window = %s..%s", pts[0].Date, pts[6].Date)
	}
	if pts[5].PlayCount != 2 || pts[5].HoursWatched != 1.5 {
		t.Errorf("yesterday = %+v, want 2 plays / 1.5h", pts[5])
	}
	if pts[6].PlayCount != 1 || pts[6].HoursWatched != 1.5 {
		t.Errorf("today = %+v, want 1 play / 1.5h", pts[6])
	}
	if pts[0].PlayCount != 0 {
		t.Errorf("empty day = %+v", pts[0])
	}
}

func TestTopMediaSorts(t *testing.T) {
	sqlDB := seeded(t)
	ctx := context.Background()

	top, err := TopMedia(ctx, sqlDB, SortPlays, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 3 || top[0].StatKey != "m1" || top[0].TotalPlays != 2 || top[0].UniqueUsers != 2 {
		t.Fatalf("by plays = %+v", top)
	}

	top, _ = TopMedia(ctx, sqlDB, SortDuration, 1)
	if len(top) != 1 || top[0].StatKey != "m1" || top[0].WatchedSeconds != 5400 {
		t.Errorf("by duration = %+v", top)
	}

	top, _ = TopMedia(ctx, sqlDB, SortLastPlayed, 10)
	if top[0].StatKey != "m2" || top[2].StatKey != "m3" {
		t.Errorf("by last played = %s,%s,%s", top[0].StatKey, top[1].StatKey, top[2].StatKey)
	}
	if ParseMediaSort("bogus") != SortPlays {
		t.Errorf("unknown sort should fall back to plays")
	}
}

func TestDeviceBreakdown(t *testing.T) {
	sqlDB := seeded(t)
	shares, err := DeviceBreakdown(context.Background(), sqlDB, 30, now)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("shares = %+v", shares)
	}
	tv := shares[0]
	if tv.DeviceType != types.DeviceTV || tv.Sessions != 2 || tv.UniqueUsers != 1 || tv.Percentage != 66.7 {
		t.Errorf("tv = %+v", tv)
	}
	if shares[1].DeviceType != types.DeviceMobile || shares[1].Percentage != 33.3 {
		t.Errorf("mobile = %+v", shares[1])
	}
}

func TestEmptyWindows(t *testing.T) {
	sqlDB := dbtest.Open(t)
	ctx := context.Background()
	shares, err := DeviceBreakdown(ctx, sqlDB, 7, now)
	if err != nil || len(shares) != 0 {
		t.Errorf("devices = %+v, %v", shares, err)
	}
	top, err := TopMedia(ctx, sqlDB, SortPlays, 5)
	if err != nil || top == nil || len(top) != 0 {
		t.Errorf("top = %+v, %v", top, err)
	}
}
