package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Pouzor/servarr-hub/internal/db"
	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/metrics"
	"github.com/Pouzor/servarr-hub/internal/playback"
	"github.com/Pouzor/servarr-hub/internal/types"
)

type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeUpdated         Outcome = "updated"
	OutcomeFinalized       Outcome = "finalized"
	OutcomeRestarted       Outcome = "restarted" // prior session closed, new one opened
	OutcomeNoActiveSession Outcome = "no_active_session"
)

// Result describes what one event did. Session is the session the event
// landed on; Finalized is set when a session was closed by this event.
type Result struct {
	Outcome   Outcome
	Session   *PlaybackSession
	Finalized *PlaybackSession
}

// Finalizer receives each finalized session exactly once, inside the
// transaction that closed it.
type Finalizer interface {
	OnSessionFinalized(ctx context.Context, tx *sql.Tx, s *PlaybackSession) error
}

// Notifier is told after commit that the active set may have changed.
type Notifier interface {
	SessionsChanged()
}

type Engine struct {
	db        *sql.DB
	finalizer Finalizer
	notifier  Notifier
	locks     *keyLock
	now       func() time.Time
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithClock overrides the time used for events without OccurredAt.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(sqlDB *sql.DB, finalizer Finalizer, opts ...Option) *Engine {
	e := &Engine{
		db:        sqlDB,
		finalizer: finalizer,
		locks:     newKeyLock(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Handle applies one event. Deliveries for the same (media, user) are
// serialized; each event commits or rolls back as a unit.
func (e *Engine) Handle(ctx context.Context, ev playback.PlaybackEvent) (Result, error) {
	unlock := e.locks.Lock(sessionKey(ev.MediaID, ev.UserID))
	defer unlock()

	at := ev.OccurredAt
	if at.IsZero() {
		at = e.now()
	}
	ts := at.Unix()

	var res Result
	err := db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		active, err := findActive(ctx, tx, ev.MediaID, ev.UserID)
		if err != nil {
			return err
		}
		switch ev.Kind {
		case playback.KindStart:
			res, err = e.start(ctx, tx, active, ev, ts)
		case playback.KindStop:
			res, err = e.stop(ctx, tx, active, ev, ts)
		case playback.KindPause:
			res, err = e.pause(ctx, tx, active, ev, ts)
		case playback.KindResume:
			res, err = e.resume(ctx, tx, active, ev, ts)
		default:
			err = fmt.Errorf("unknown event kind %q", ev.Kind)
		}
		return err
	})
	if err != nil {
		return Result{}, err
	}

	metrics.WebhookEvents.WithLabelValues(string(ev.Kind), string(res.Outcome)).Inc()
	if res.Outcome == OutcomeNoActiveSession {
		logging.Default().WithContext(ctx).Info("No active session for event", "event", ev.RawEvent, "media_id", ev.MediaID, "user_id", ev.UserID)
		return res, nil
	}
	if res.Finalized != nil {
		logging.Default().WithContext(logging.WithSessionID(ctx, res.Finalized.ID)).Info("Session finalized", "media_id", res.Finalized.MediaID,
			"user_id", res.Finalized.UserID, "watched_seconds", res.Finalized.WatchedSeconds)
	}
	if e.notifier != nil {
		e.notifier.SessionsChanged()
	}
	return res, nil
}

func (e *Engine) start(ctx context.Context, tx *sql.Tx, active *PlaybackSession, ev playback.PlaybackEvent, ts int64) (Result, error) {
	res := Result{Outcome: OutcomeCreated}
	if active != nil {
		// client restarted playback without a Stop
		watched := active.elapsedEstimate(ts)
		if active.LastPosition != nil {
			watched = *active.LastPosition
		}
		if err := e.finalize(ctx, tx, active, ts, watched); err != nil {
			return Result{}, err
		}
		res.Outcome = OutcomeRestarted
		res.Finalized = active
	}

	s := newSession(ev, ts)
	if err := insertSession(ctx, tx, s); err != nil {
		return Result{}, err
	}
	res.Session = s
	return res, nil
}

func (e *Engine) stop(ctx context.Context, tx *sql.Tx, active *PlaybackSession, ev playback.PlaybackEvent, ts int64) (Result, error) {
	if active == nil {
		return Result{Outcome: OutcomeNoActiveSession}, nil
	}
	var watched int64
	if w := ev.Playback.WatchedSeconds; w != nil {
		watched = *w
	} else {
		watched = active.elapsedEstimate(ts)
	}
	if p := ev.Playback.PositionSeconds; p != nil {
		active.LastPosition = p
	}
	if err := e.finalize(ctx, tx, active, ts, watched); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeFinalized, Session: active, Finalized: active}, nil
}

func (e *Engine) pause(ctx context.Context, tx *sql.Tx, active *PlaybackSession, ev playback.PlaybackEvent, ts int64) (Result, error) {
	if active == nil {
		return Result{Outcome: OutcomeNoActiveSession}, nil
	}
	if active.Status == types.StatusPaused {
		return Result{Outcome: OutcomeUpdated, Session: active}, nil
	}
	active.Status = types.StatusPaused
	active.PausedAt = &ts
	if p := ev.Playback.PositionSeconds; p != nil {
		active.LastPosition = p
	}
	active.UpdatedAt = ts
	if err := savePauseState(ctx, tx, active); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeUpdated, Session: active}, nil
}

func (e *Engine) resume(ctx context.Context, tx *sql.Tx, active *PlaybackSession, ev playback.PlaybackEvent, ts int64) (Result, error) {
	if active == nil {
		return Result{Outcome: OutcomeNoActiveSession}, nil
	}
	if active.Status == types.StatusPlaying {
		return Result{Outcome: OutcomeUpdated, Session: active}, nil
	}
	closePauseSpan(active, ts)
	active.Status = types.StatusPlaying
	if p := ev.Playback.PositionSeconds; p != nil {
		active.LastPosition = p
	}
	active.UpdatedAt = ts
	if err := savePauseState(ctx, tx, active); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeUpdated, Session: active}, nil
}

// finalize closes s and, if the ledger has not seen it, rolls it up.
func (e *Engine) finalize(ctx context.Context, tx *sql.Tx, s *PlaybackSession, ts, watched int64) error {
	if watched < 0 {
		watched = 0
	}
	closePauseSpan(s, ts)
	s.Status = types.StatusStopped
	s.EndTime = &ts
	s.WatchedSeconds = watched
	s.UpdatedAt = ts
	if err := saveFinal(ctx, tx, s); err != nil {
		return err
	}

	fresh, err := claimRollup(ctx, tx, s.ID, ts)
	if err != nil {
		return err
	}
	if !fresh {
		metrics.RollupDuplicates.Inc()
		logging.Default().WithContext(logging.WithSessionID(ctx, s.ID)).Warn("Session already rolled up")
		return nil
	}
	if e.finalizer != nil {
		if err := e.finalizer.OnSessionFinalized(ctx, tx, s); err != nil {
			return fmt.Errorf("rollup session %s: %w", s.ID, err)
		}
	}
	metrics.SessionsFinalized.Inc()
	return nil
}

func closePauseSpan(s *PlaybackSession, ts int64) {
	if s.PausedAt == nil {
		return
	}
	if d := ts - *s.PausedAt; d > 0 {
		s.PausedSeconds += d
	}
	s.PausedAt = nil
}

func newSession(ev playback.PlaybackEvent, ts int64) *PlaybackSession {
	m, d, p := ev.Media, ev.Device, ev.Playback
	title := m.Title
	if title == "" {
		title = "Unknown"
	}
	mt := m.Type
	if mt == "" {
		mt = types.MediaMovie
	}
	dt := d.Type
	if dt == "" {
		dt = types.DeviceUnknown
	}
	q := p.Quality
	if q == "" {
		q = types.QualityUnknown
	}
	method := p.Method
	if method == "" {
		method = types.MethodDirectPlay
	}
	return &PlaybackSession{
		ID:                  uuid.NewString(),
		MediaID:             ev.MediaID,
		MediaTitle:          title,
		MediaType:           mt,
		MediaYear:           m.Year,
		EpisodeInfo:         m.EpisodeLabel,
		SeasonNumber:        m.Season,
		EpisodeNumber:       m.Episode,
		PosterURL:           m.PosterURL,
		UserID:              ev.UserID,
		UserName:            ev.UserName,
		DeviceName:          d.Name,
		ClientName:          d.Client,
		DeviceType:          dt,
		VideoQuality:        q,
		VideoHeight:         p.Height,
		Method:              method,
		TranscodingProgress: p.TranscodeProgress,
		TranscodingSpeed:    p.TranscodeSpeed,
		VideoCodecSource:    p.VideoCodecSource,
		VideoCodecTarget:    p.VideoCodecTarget,
		StartTime:           ts,
		DurationSeconds:     m.DurationSeconds,
		Status:              types.StatusPlaying,
		CreatedAt:           ts,
		UpdatedAt:           ts,
	}
}
