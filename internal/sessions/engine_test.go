package sessions

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Pouzor/servarr-hub/internal/db/dbtest"
	"github.com/Pouzor/servarr-hub/internal/playback"
	"github.com/Pouzor/servarr-hub/internal/types"
)

type recordingFinalizer struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (f *recordingFinalizer) OnSessionFinalized(_ context.Context, _ *sql.Tx, s *PlaybackSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.ids = append(f.ids, s.ID)
	return nil
}

func (f *recordingFinalizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

var t0 = time.Date(2026, 5, 10, 21, 0, 0, 0, time.UTC)

func event(kind playback.Kind, at time.Time) playback.PlaybackEvent {
	return playback.PlaybackEvent{
		Kind:       kind,
		MediaID:    "m1",
		UserID:     "u1",
		OccurredAt: at,
		Media:      playback.MediaInfo{Title: "Dune", Type: types.MediaMovie, DurationSeconds: 9000},
		Playback: playback.PlaybackInfo{
			Height:  1080,
			Quality: types.QualityFullHD,
			Method:  types.MethodDirectPlay,
		},
	}
}

func withWatched(ev playback.PlaybackEvent, secs int64) playback.PlaybackEvent {
	ev.Playback.WatchedSeconds = &secs
	return ev
}

func TestStartPauseResumeStop(t *testing.T) {
	sqlDB := dbtest.Open(t)
	fin := &recordingFinalizer{}
	e := NewEngine(sqlDB, fin)
	ctx := context.Background()

	res, err := e.Handle(ctx, event(playback.KindStart, t0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Outcome != OutcomeCreated || res.Session.Status != types.StatusPlaying {
		t.Fatalf("Expected created/playing, got %s %s", res.Outcome, res.Session.Status)
	}
	id := res.Session.ID

	for _, step := range []struct {
		kind   playback.Kind
		offset time.Duration
		status types.SessionStatus
	}{
		{playback.KindPause, 60 * time.Second, types.StatusPaused},
		{playback.KindResume, 120 * time.Second, types.StatusPlaying},
	} {
		res, err := e.Handle(ctx, event(step.kind, t0.Add(step.offset)))
		if err != nil {
			t.Fatalf("%s: %v", step.kind, err)
		}
		if res.Outcome != OutcomeUpdated || res.Session.Status != step.status || res.Session.ID != id {
			t.Errorf("%s: got %s %s", step.kind, res.Outcome, res.Session.Status)
		}
	}

	res, err = e.Handle(ctx, withWatched(event(playback.KindStop, t0.Add(700*time.Second)), 600))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res.Outcome != OutcomeFinalized || res.Finalized.ID != id {
		t.Fatalf("Expected finalized %s, got %+v", id, res)
	}

	s, err := Get(ctx, sqlDB, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Status != types.StatusStopped {
		t.Errorf("Expected stopped, got %s", s.Status)
	}
	if s.WatchedSeconds != 600 {
		t.Errorf("Expected watched 600, got %d", s.WatchedSeconds)
	}
	if s.EndTime == nil || *s.EndTime != t0.Add(700*time.Second).Unix() {
		t.Errorf("Expected end_time at stop receive time, got %v", s.EndTime)
	}
	if s.PausedSeconds != 60 {
		t.Errorf("Expected 60 paused seconds, got %d", s.PausedSeconds)
	}
	if fin.calls() != 1 {
		t.Errorf("Expected one rollup, got %d", fin.calls())
	}
}

func TestStartStartClosesPrior(t *testing.T) {
	sqlDB := dbtest.Open(t)
	fin := &recordingFinalizer{}
	e := NewEngine(sqlDB, fin)
	ctx := context.Background()

	first, err := e.Handle(ctx, event(playback.KindStart, t0))
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Handle(ctx, event(playback.KindStart, t0.Add(300*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if second.Outcome != OutcomeRestarted {
		t.Errorf("Expected restarted, got %s", second.Outcome)
	}
	if second.Finalized == nil || second.Finalized.ID != first.Session.ID {
		t.Fatalf("Expected prior session to be finalized, got %+v", second.Finalized)
	}
	if second.Session.ID == first.Session.ID {
		t.Error("Expected a fresh session id")
	}

	prior, err := Get(ctx, sqlDB, first.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prior.Status != types.StatusStopped || prior.WatchedSeconds != 300 {
		t.Errorf("Expected prior stopped with elapsed 300s, got %s %d", prior.Status, prior.WatchedSeconds)
	}
	if n := dbtest.Count(t, sqlDB, `SELECT COUNT(*) FROM playback_sessions WHERE status IN ('playing','paused')`); n != 1 {
		t.Errorf("Expected 1 active session, got %d", n)
	}
	if fin.calls() != 1 {
		t.Errorf("Expected one rollup, got %d", fin.calls())
	}
}

func TestImplicitCloseUsesLastPosition(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := NewEngine(sqlDB, &recordingFinalizer{})
	ctx := context.Background()

	first, _ := e.Handle(ctx, event(playback.KindStart, t0))
	pause := event(playback.KindPause, t0.Add(200*time.Second))
	pos := int64(150)
	pause.Playback.PositionSeconds = &pos
	if _, err := e.Handle(ctx, pause); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Handle(ctx, event(playback.KindStart, t0.Add(900*time.Second))); err != nil {
		t.Fatal(err)
	}
	prior, err := Get(ctx, sqlDB, first.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prior.WatchedSeconds != 150 {
		t.Errorf("Expected last position 150, got %d", prior.WatchedSeconds)
	}
}

func TestEventsWithoutSession(t *testing.T) {
	sqlDB := dbtest.Open(t)
	fin := &recordingFinalizer{}
	e := NewEngine(sqlDB, fin)

	for _, kind := range []playback.Kind{playback.KindStop, playback.KindPause, playback.KindResume} {
		res, err := e.Handle(context.Background(), event(kind, t0))
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if res.Outcome != OutcomeNoActiveSession || res.Session != nil {
			t.Errorf("%s: expected no_active_session, got %+v", kind, res)
		}
	}
	if n := dbtest.Count(t, sqlDB, `SELECT COUNT(*) FROM playback_sessions`); n != 0 {
		t.Errorf("Expected no rows, got %d", n)
	}
	if fin.calls() != 0 {
		t.Errorf("Expected no rollups, got %d", fin.calls())
	}
}

func TestStoppedSessionIsNoSession(t *testing.T) {
	sqlDB := dbtest.Open(t)
	fin := &recordingFinalizer{}
	e := NewEngine(sqlDB, fin)
	ctx := context.Background()

	e.Handle(ctx, event(playback.KindStart, t0))
	e.Handle(ctx, withWatched(event(playback.KindStop, t0.Add(time.Minute)), 60))

	res, err := e.Handle(ctx, withWatched(event(playback.KindStop, t0.Add(2*time.Minute)), 60))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeNoActiveSession {
		t.Errorf("Expected duplicate stop to be no_active_session, got %s", res.Outcome)
	}
	res, err = e.Handle(ctx, event(playback.KindStart, t0.Add(3*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("Expected a fresh session after stop, got %s", res.Outcome)
	}
	if fin.calls() != 1 {
		t.Errorf("Expected exactly one rollup, got %d", fin.calls())
	}
}

func TestDuplicatePauseIsHarmless(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := NewEngine(sqlDB, &recordingFinalizer{})
	ctx := context.Background()

	e.Handle(ctx, event(playback.KindStart, t0))
	e.Handle(ctx, event(playback.KindPause, t0.Add(100*time.Second)))
	res, err := e.Handle(ctx, event(playback.KindPause, t0.Add(150*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeUpdated || res.Session.Status != types.StatusPaused {
		t.Errorf("Expected idempotent pause, got %+v", res)
	}
	if res.Session.PausedAt == nil || *res.Session.PausedAt != t0.Add(100*time.Second).Unix() {
		t.Errorf("Duplicate pause must not move paused_at, got %v", res.Session.PausedAt)
	}
}

func TestStopFallbackExcludesPausedTime(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := NewEngine(sqlDB, &recordingFinalizer{})
	ctx := context.Background()

	e.Handle(ctx, event(playback.KindStart, t0))
	e.Handle(ctx, event(playback.KindPause, t0.Add(100*time.Second)))
	e.Handle(ctx, event(playback.KindResume, t0.Add(160*time.Second)))
	res, err := e.Handle(ctx, event(playback.KindStop, t0.Add(400*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Finalized.WatchedSeconds != 340 {
		t.Errorf("Expected 340s elapsed estimate, got %d", res.Finalized.WatchedSeconds)
	}
}

func TestFinalizerErrorRollsBack(t *testing.T) {
	sqlDB := dbtest.Open(t)
	fin := &recordingFinalizer{}
	e := NewEngine(sqlDB, fin)
	ctx := context.Background()

	start, _ := e.Handle(ctx, event(playback.KindStart, t0))
	fin.fail = errors.New("disk full")
	if _, err := e.Handle(ctx, withWatched(event(playback.KindStop, t0.Add(time.Minute)), 60)); err == nil {
		t.Fatal("Expected rollup failure to surface")
	}
	s, err := Get(ctx, sqlDB, start.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != types.StatusPlaying {
		t.Errorf("Expected session to stay active after rollback, got %s", s.Status)
	}
	if n := dbtest.Count(t, sqlDB, `SELECT COUNT(*) FROM rollup_ledger`); n != 0 {
		t.Errorf("Expected empty ledger after rollback, got %d", n)
	}
}

func TestLedgerGuardsRollup(t *testing.T) {
	sqlDB := dbtest.Open(t)
	fin := &recordingFinalizer{}
	e := NewEngine(sqlDB, fin)
	ctx := context.Background()

	start, _ := e.Handle(ctx, event(playback.KindStart, t0))
	if _, err := sqlDB.Exec(`INSERT INTO rollup_ledger (session_id, finalized_at) VALUES (?, 1)`, start.Session.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Handle(ctx, withWatched(event(playback.KindStop, t0.Add(time.Minute)), 60)); err != nil {
		t.Fatal(err)
	}
	if fin.calls() != 0 {
		t.Errorf("Expected ledger to suppress rollup, got %d calls", fin.calls())
	}
}

func TestConcurrentStartsSameKey(t *testing.T) {
	sqlDB := dbtest.Open(t)
	fin := &recordingFinalizer{}
	e := NewEngine(sqlDB, fin)

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Handle(context.Background(), event(playback.KindStart, t0.Add(time.Duration(i)*time.Second)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent start: %v", err)
		}
	}
	if c := dbtest.Count(t, sqlDB, `SELECT COUNT(*) FROM playback_sessions WHERE status IN ('playing','paused')`); c != 1 {
		t.Errorf("Expected exactly one active session, got %d", c)
	}
	if fin.calls() != n-1 {
		t.Errorf("Expected %d implicit closes, got %d", n-1, fin.calls())
	}
	if e.locks.size() != 0 {
		t.Errorf("Expected key locks to be released, got %d", e.locks.size())
	}
}

type countingNotifier struct{ n int }

func (c *countingNotifier) SessionsChanged() { c.n++ }

func TestNotifierCalledOnChange(t *testing.T) {
	sqlDB := dbtest.Open(t)
	note := &countingNotifier{}
	e := NewEngine(sqlDB, nil, WithNotifier(note))
	ctx := context.Background()

	e.Handle(ctx, event(playback.KindStop, t0))
	e.Handle(ctx, event(playback.KindStart, t0))
	e.Handle(ctx, withWatched(event(playback.KindStop, t0.Add(time.Minute)), 60))
	if note.n != 2 {
		t.Errorf("Expected 2 notifications, got %d", note.n)
	}
}

func TestListActive(t *testing.T) {
	sqlDB := dbtest.Open(t)
	e := NewEngine(sqlDB, nil)
	ctx := context.Background()

	e.Handle(ctx, event(playback.KindStart, t0))
	other := event(playback.KindStart, t0)
	other.UserID = "u2"
	e.Handle(ctx, other)
	e.Handle(ctx, withWatched(event(playback.KindStop, t0.Add(time.Minute)), 60))

	active, err := ListActive(ctx, sqlDB)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].UserID != "u2" {
		t.Errorf("Expected only u2 active, got %+v", active)
	}
}
