package rollup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/Pouzor/servarr-hub/internal/db"
	"github.com/Pouzor/servarr-hub/internal/db/dbtest"
	"github.com/Pouzor/servarr-hub/internal/playback"
	"github.com/Pouzor/servarr-hub/internal/sessions"
	"github.com/Pouzor/servarr-hub/internal/types"
)

var day = time.Date(2026, 7, 4, 18, 0, 0, 0, time.UTC)

type mediaRow struct {
	plays, watched, duration, users, direct, transcoded int64
	quality                                             string
	first, last                                         int64
}

func loadMedia(t *testing.T, sqlDB *sql.DB, key string) mediaRow {
	t.Helper()
	var r mediaRow
	err := sqlDB.QueryRow(`SELECT total_plays, total_watched_seconds, total_duration_seconds, unique_users,
		direct_play_count, transcoded_count, most_used_quality, first_played_at, last_played_at
		FROM media_statistics WHERE stat_key = ?`, key).
		Scan(&r.plays, &r.watched, &r.duration, &r.users, &r.direct, &r.transcoded, &r.quality, &r.first, &r.last)
	if err != nil {
		t.Fatalf("load media %s: %v", key, err)
	}
	return r
}

func play(t *testing.T, e *sessions.Engine, media, user string, q types.Quality, m types.PlaybackMethod, d types.DeviceType, start time.Time, watched int64) {
	t.Helper()
	ev := playback.PlaybackEvent{
		Kind: playback.KindStart, MediaID: media, UserID: user, OccurredAt: start,
		Media:    playback.MediaInfo{Title: media, Type: types.MediaMovie, DurationSeconds: 1200},
		Device:   playback.DeviceInfo{Type: d},
		Playback: playback.PlaybackInfo{Quality: q, Method: m},
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

func TestEndToEndScenario(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := sessions.NewEngine(sqlDB, New())
	ctx := context.Background()

	start, err := e.Handle(ctx, playback.PlaybackEvent{
		Kind: playback.KindStart, MediaID: "m1", UserID: "u1", OccurredAt: day,
		Playback: playback.PlaybackInfo{Height: 1080, Quality: playback.QualityFromHeight(1080), Method: types.MethodDirectPlay},
	})
	if err != nil {
		t.Fatal(err)
	}
	if start.Session.VideoQuality != types.QualityFullHD || start.Session.Status != types.StatusPlaying {
		t.Errorf("Unexpected session: %+v", start.Session)
	}
	watched := int64(600)
	if _, err := e.Handle(ctx, playback.PlaybackEvent{
		Kind: playback.KindStop, MediaID: "m1", UserID: "u1", OccurredAt: day.Add(11 * time.Minute),
		Playback: playback.PlaybackInfo{WatchedSeconds: &watched},
	}); err != nil {
		t.Fatal(err)
	}
	r := loadMedia(t, sqlDB, "m1")
	if r.plays != 1 || r.watched != 600 {
		t.Errorf("Expected 1 play / 600s, got %d / %d", r.plays, r.watched)
	}
	if r.direct != 1 || r.transcoded != 0 || r.quality != string(types.QualityFullHD) || r.users != 1 {
		t.Errorf("Unexpected counters: %+v", r)
	}
}

func TestMediaStatisticCounters(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := sessions.NewEngine(sqlDB, New())

	play(t, e, "m1", "u1", types.QualityHD, types.MethodDirectPlay, types.DeviceTV, day, 100)
	play(t, e, "m1", "u2", types.QualityFullHD, types.MethodTranscode, types.DeviceMobile, day.Add(time.Hour), 200)
	play(t, e, "m1", "u1", types.QualityFullHD, types.MethodDirectPlay, types.DeviceTV, day.Add(2*time.Hour), 300)

	r := loadMedia(t, sqlDB, "m1")
	if r.plays != 3 || r.watched != 600 || r.duration != 3600 {
		t.Errorf("Unexpected totals: %+v", r)
	}
	if r.users != 2 {
		t.Errorf("Expected 2 unique users, got %d", r.users)
	}
	if r.direct != 2 || r.transcoded != 1 {
		t.Errorf("Unexpected method counts: %+v", r)
	}
	if r.quality != string(types.QualityFullHD) {
		t.Errorf("Expected full_hd mode, got %s", r.quality)
	}
	if r.first != day.Unix() || r.last != day.Add(2*time.Hour+300*time.Second).Unix() {
		t.Errorf("Unexpected first/last: %d %d", r.first, r.last)
	}
}

func TestMostUsedQualityTieBreaksRecent(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := sessions.NewEngine(sqlDB, New())

	play(t, e, "m2", "u1", types.QualitySD, types.MethodDirectPlay, types.DeviceWeb, day, 10)
	play(t, e, "m2", "u1", types.QualityUHD, types.MethodDirectPlay, types.DeviceWeb, day.Add(time.Hour), 10)
	if got := loadMedia(t, sqlDB, "m2").quality; got != string(types.QualityUHD) {
		t.Errorf("Expected most recent of tied qualities, got %s", got)
	}
}

func TestDeviceAndDailyRollup(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := sessions.NewEngine(sqlDB, New())

	play(t, e, "m1", "u1", types.QualityHD, types.MethodDirectPlay, types.DeviceTV, day, 1800)
	play(t, e, "m2", "u1", types.QualityHD, types.MethodTranscode, types.DeviceTV, day.Add(time.Hour), 1800)
	play(t, e, "m3", "u2", types.QualityHD, types.MethodDirectPlay, types.DeviceMobile, day.Add(2*time.Hour), 600)

	var count, watched, users int
	if err := sqlDB.QueryRow(`SELECT session_count, total_watched_seconds, unique_users FROM device_statistics
		WHERE device_type = 'tv' AND period = '2026-07-04'`).Scan(&count, &watched, &users); err != nil {
		t.Fatal(err)
	}
	if count != 2 || watched != 3600 || users != 1 {
		t.Errorf("Unexpected tv row: %d %d %d", count, watched, users)
	}

	var plays, movies, direct, transcoded, uu, um int
	var hours float64
	if err := sqlDB.QueryRow(`SELECT total_plays, hours_watched, movies_played, direct_play_count, transcoded_count,
		unique_users, unique_media FROM daily_analytics WHERE date = '2026-07-04'`).
		Scan(&plays, &hours, &movies, &direct, &transcoded, &uu, &um); err != nil {
		t.Fatal(err)
	}
	if plays != 3 || movies != 3 || direct != 2 || transcoded != 1 || uu != 2 || um != 3 {
		t.Errorf("Unexpected daily row: plays=%d movies=%d direct=%d transcoded=%d users=%d media=%d",
			plays, movies, direct, transcoded, uu, um)
	}
	if hours < 1.1666 || hours > 1.1667 {
		t.Errorf("Expected ~1.1667 hours, got %f", hours)
	}
}

func TestUniqueUsersSeededFromHistory(t *testing.T) {
	sqlDB := dbtest.Open(t)
	now := db.Now()
	// a session finished before the aggregator was wired in
	if _, err := sqlDB.Exec(`INSERT INTO playback_sessions (id, media_id, user_id, start_time, end_time, status, created_at, updated_at)
		VALUES ('old', 'm9', 'legacy-user', ?, ?, 'stopped', ?, ?)`, now-7200, now-3600, now, now); err != nil {
		t.Fatal(err)
	}
	e := sessions.NewEngine(sqlDB, New())
	play(t, e, "m9", "u1", types.QualityHD, types.MethodDirectPlay, types.DeviceTV, day, 60)

	if got := loadMedia(t, sqlDB, "m9").users; got != 2 {
		t.Errorf("Expected historical user to be counted, got %d unique users", got)
	}
}

// Replaying a terminating event must not double count: the engine's ledger
// claim is what stands between a duplicate Stop and a second rollup.
func TestDoubleFinalizeGuard(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := sessions.NewEngine(sqlDB, New())
	ctx := context.Background()

	play(t, e, "m1", "u1", types.QualityHD, types.MethodDirectPlay, types.DeviceTV, day, 120)
	watched := int64(120)
	for i := 0; i < 3; i++ {
		res, err := e.Handle(ctx, playback.PlaybackEvent{
			Kind: playback.KindStop, MediaID: "m1", UserID: "u1", OccurredAt: day.Add(time.Hour),
			Playback: playback.PlaybackInfo{WatchedSeconds: &watched},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != sessions.OutcomeNoActiveSession {
			t.Errorf("Expected replayed stop to be ignored, got %s", res.Outcome)
		}
	}
	if got := loadMedia(t, sqlDB, "m1").plays; got != 1 {
		t.Errorf("Expected totalPlays 1 after replays, got %d", got)
	}

	// Direct double invocation for the same session id through the ledger.
	var id string
	if err := sqlDB.QueryRow(`SELECT id FROM playback_sessions WHERE media_id = 'm1'`).Scan(&id); err != nil {
		t.Fatal(err)
	}
	var inserted int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM rollup_ledger WHERE session_id = ?`, id).Scan(&inserted); err != nil {
		t.Fatal(err)
	}
	if inserted != 1 {
		t.Errorf("Expected one ledger row for %s, got %d", id, inserted)
	}
}

func TestStatKeyFallback(t *testing.T) {
	s := &sessions.PlaybackSession{MediaTitle: "Heat", MediaType: types.MediaMovie, MediaYear: 1995}
	if got := StatKey(s); got != "Heat|movie|1995" {
		t.Errorf("StatKey = %s", got)
	}
	s.MediaID = "abc"
	if got := StatKey(s); got != "abc" {
		t.Errorf("StatKey = %s", got)
	}
}

func TestRejectsActiveSession(t *testing.T) {
	sqlDB := dbtest.Open(t)
	err := db.WithTx(context.Background(), sqlDB, func(tx *sql.Tx) error {
		return New().OnSessionFinalized(context.Background(), tx, &sessions.PlaybackSession{Status: types.StatusPlaying})
	})
	if err == nil {
		t.Error("Expected active session to be rejected")
	}
}
