// Package reconcile pulls library, calendar, request and summary data from
// every configured upstream and merges it into the local store.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Pouzor/servarr-hub/internal/config"
	"github.com/Pouzor/servarr-hub/internal/connectors"
	"github.com/Pouzor/servarr-hub/internal/db"
	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/metrics"
	"github.com/Pouzor/servarr-hub/internal/types"
)

const (
	msgNotConfigured = "not configured"
	msgPassTimedOut  = "pass timed out"
)

// ErrNotConfigured is returned by TestConnection for a source with no active
// configuration.
var ErrNotConfigured = errors.New(msgNotConfigured)

// Factory builds a connector for one stored service configuration.
type Factory interface {
	New(cfg config.ServiceConfig) (connectors.Connector, error)
}

type Options struct {
	Interval      time.Duration // next_sync_time offset
	PassTimeout   time.Duration
	RecordCap     int // per fetched list
	LookbackDays  int
	LookaheadDays int
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Minute
	}
	if o.PassTimeout <= 0 {
		o.PassTimeout = 5 * time.Minute
	}
	if o.RecordCap <= 0 {
		o.RecordCap = 20
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = 30
	}
	if o.LookaheadDays <= 0 {
		o.LookaheadDays = 30
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// OptionsFromConfig maps the process configuration onto engine options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Interval:      cfg.SyncInterval(),
		PassTimeout:   cfg.SyncPassTimeout,
		RecordCap:     cfg.SyncRecordCap,
		LookbackDays:  cfg.SyncLookbackDays,
		LookaheadDays: cfg.SyncLookaheadDays,
	}
}

type SourceResult struct {
	Source     types.Source      `json:"source"`
	Status     types.SyncStatus  `json:"status"`
	Records    int               `json:"records_synced"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
	Stats      *connectors.Stats `json:"stats,omitempty"`
}

type PassResult struct {
	Skipped    bool            `json:"skipped"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Sources    []SourceResult  `json:"sources"`
	Monitored  *MonitoredItems `json:"monitored_items,omitempty"`
}

// Failed counts the sources that did not succeed.
func (p PassResult) Failed() int {
	n := 0
	for _, s := range p.Sources {
		if s.Status != types.SyncSuccess {
			n++
		}
	}
	return n
}

type Engine struct {
	db      *sql.DB
	factory Factory
	opts    Options

	pass    sync.Mutex
	running atomic.Bool

	lastMu sync.RWMutex
	last   *PassResult
}

func New(sqlDB *sql.DB, factory Factory, opts Options) *Engine {
	return &Engine{db: sqlDB, factory: factory, opts: opts.withDefaults()}
}

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool { return e.running.Load() }

// LastPass returns the most recent completed pass, if any.
func (e *Engine) LastPass() (PassResult, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.last == nil {
		return PassResult{}, false
	}
	return *e.last, true
}

// Run satisfies the scheduler's runner contract.
func (e *Engine) Run(ctx context.Context) {
	e.SyncAll(ctx)
}

// SyncAll runs one reconciliation pass over every source. Sources run
// concurrently and independently; a pass already in flight makes this call a
// no-op that returns Skipped.
func (e *Engine) SyncAll(ctx context.Context) PassResult {
	if !e.pass.TryLock() {
		metrics.SyncPassesSkipped.Inc()
		logging.Info("Skipping reconciliation pass - previous pass still running")
		return PassResult{Skipped: true}
	}
	defer e.pass.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	started := e.opts.Now()
	logging.Info("Starting reconciliation pass")

	passCtx, cancel := context.WithTimeout(ctx, e.opts.PassTimeout)
	defer cancel()

	sources := types.AllSources()
	results := make([]SourceResult, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			results[i] = e.syncSource(passCtx, src)
			return nil
		})
	}
	_ = g.Wait()

	pass := PassResult{StartedAt: started, Sources: results}
	pass.Monitored = e.writeMonitored(context.WithoutCancel(ctx), results)
	pass.FinishedAt = e.opts.Now()

	logging.Info("Reconciliation pass finished",
		"duration_ms", pass.FinishedAt.Sub(started).Milliseconds(),
		"sources", len(results),
		"failed", pass.Failed())

	e.lastMu.Lock()
	e.last = &pass
	e.lastMu.Unlock()
	return pass
}

func (e *Engine) syncSource(ctx context.Context, src types.Source) (res SourceResult) {
	start := time.Now()
	res = SourceResult{Source: src, Status: types.SyncFailed}
	ctx = logging.WithSource(ctx, string(src))
	log := logging.Default().WithContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error("source sync panicked", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			res.Status, res.Records, res.Error = types.SyncFailed, 0, fmt.Sprintf("panic: %v", p)
		}
		res.DurationMS = time.Since(start).Milliseconds()
		e.finish(context.WithoutCancel(ctx), res, log)
	}()

	fail := func(err error) {
		res.Status, res.Records = types.SyncFailed, 0
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Error = msgPassTimedOut
			return
		}
		res.Error = logging.Redact(err.Error())
	}

	cfg, err := ActiveService(ctx, e.db, src)
	if err != nil {
		fail(err)
		return res
	}
	if cfg == nil {
		res.Error = msgNotConfigured
		return res
	}
	if err := markInProgress(ctx, e.db, src); err != nil {
		fail(err)
		return res
	}
	conn, err := e.factory.New(*cfg)
	if err != nil {
		fail(err)
		return res
	}

	switch src {
	case types.SourceRadarr, types.SourceSonarr:
		res.Records, res.Stats, err = e.syncManager(ctx, conn, log)
	case types.SourceJellyfin:
		res.Records, res.Stats, err = e.syncStreaming(ctx, conn)
	case types.SourceJellyseerr:
		res.Records, res.Stats, err = e.syncRequests(ctx, conn, log)
	default:
		err = fmt.Errorf("no sync for source %q", src)
	}
	if err != nil {
		fail(err)
		return res
	}
	res.Status = types.SyncSuccess
	return res
}

func (e *Engine) finish(ctx context.Context, res SourceResult, log logging.Logger) {
	now := e.opts.Now()
	last, next := now.Unix(), now.Add(e.opts.Interval).Unix()
	err := saveMetadata(ctx, e.db, SyncMetadata{
		Source:        res.Source,
		Status:        res.Status,
		LastSyncTime:  &last,
		NextSyncTime:  &next,
		DurationMS:    res.DurationMS,
		RecordsSynced: res.Records,
		ErrorMessage:  res.Error,
	})
	if err != nil {
		log.Error("failed to record sync metadata", "error", err)
	}

	metrics.SyncRuns.WithLabelValues(string(res.Source), string(res.Status)).Inc()
	metrics.SyncDuration.WithLabelValues(string(res.Source)).Observe(float64(res.DurationMS) / 1000)
	if res.Records > 0 {
		metrics.SyncRecords.WithLabelValues(string(res.Source)).Add(float64(res.Records))
	}

	switch {
	case res.Status == types.SyncSuccess:
		log.Info("source synced", "records", res.Records, "duration_ms", res.DurationMS)
	case res.Error == msgNotConfigured:
		log.Debug("source not configured")
	default:
		log.Warn("source sync failed", "error", res.Error, "duration_ms", res.DurationMS)
	}
}

func capped[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// syncManager merges recent additions and the release calendar of Radarr or
// Sonarr. A summary stats failure is logged and leaves Stats nil.
func (e *Engine) syncManager(ctx context.Context, conn connectors.Connector, log logging.Logger) (int, *connectors.Stats, error) {
	items, err := conn.FetchRecentItems(ctx, e.opts.LookbackDays)
	if err != nil {
		return 0, nil, fmt.Errorf("recent items: %w", err)
	}
	cal, err := conn.FetchUpcoming(ctx, e.opts.LookaheadDays)
	if err != nil {
		return 0, nil, fmt.Errorf("calendar: %w", err)
	}
	var stats *connectors.Stats
	if st, err := conn.FetchSummaryStats(ctx); err != nil {
		log.Warn("summary stats unavailable", "error", err)
	} else {
		stats = &st
	}

	items, cal = capped(items, e.opts.RecordCap), capped(cal, e.opts.RecordCap)
	now := db.Now()
	records := 0
	err = db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		n, err := insertItems(ctx, tx, items, now)
		if err != nil {
			return err
		}
		m, err := insertCalendar(ctx, tx, cal, now)
		if err != nil {
			return err
		}
		records = n + m
		return nil
	})
	if err != nil {
		return 0, stats, err
	}
	return records, stats, nil
}

// syncStreaming refreshes the users, movies and tv_shows dashboard statistics.
// records_synced is the user count.
func (e *Engine) syncStreaming(ctx context.Context, conn connectors.Connector) (int, *connectors.Stats, error) {
	st, err := conn.FetchSummaryStats(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("summary stats: %w", err)
	}
	now := db.Now()
	err = db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if err := upsertDashboardStat(ctx, tx, types.StatUsers, st.Users, map[string]int{"active_users": st.ActiveUsers}, now); err != nil {
			return err
		}
		if err := upsertDashboardStat(ctx, tx, types.StatMovies, st.Movies, nil, now); err != nil {
			return err
		}
		return upsertDashboardStat(ctx, tx, types.StatTVShows, st.Series, map[string]int{"total_episodes": st.Episodes}, now)
	})
	if err != nil {
		return 0, &st, err
	}
	return st.Users, &st, nil
}

// syncRequests replaces the stored pending requests with the current set.
func (e *Engine) syncRequests(ctx context.Context, conn connectors.Connector, log logging.Logger) (int, *connectors.Stats, error) {
	reqs, err := conn.FetchRecentItems(ctx, e.opts.LookbackDays)
	if err != nil {
		return 0, nil, fmt.Errorf("pending requests: %w", err)
	}
	var stats *connectors.Stats
	if st, err := conn.FetchSummaryStats(ctx); err != nil {
		log.Warn("request stats unavailable", "error", err)
	} else {
		stats = &st
	}

	reqs = capped(reqs, e.opts.RecordCap)
	now := db.Now()
	records := 0
	err = db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		n, err := replaceRequests(ctx, tx, reqs, now)
		records = n
		return err
	})
	if err != nil {
		return 0, stats, err
	}
	return records, stats, nil
}

// writeMonitored stores the monitored_items rollup. It is skipped when neither
// acquisition manager produced stats this pass so the last value stays.
func (e *Engine) writeMonitored(ctx context.Context, results []SourceResult) *MonitoredItems {
	var radarr, sonarr *connectors.Stats
	for _, r := range results {
		switch r.Source {
		case types.SourceRadarr:
			radarr = r.Stats
		case types.SourceSonarr:
			sonarr = r.Stats
		}
	}
	if radarr == nil && sonarr == nil {
		return nil
	}
	m := MonitoredRollup(radarr, sonarr)
	err := db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		return upsertDashboardStat(ctx, tx, types.StatMonitoredItems, m.Monitored, m.details(), db.Now())
	})
	if err != nil {
		logging.Error("failed to store monitored items rollup", "error", err)
	}
	return &m
}

// TestConnection probes the configured source and records the outcome on its
// service configuration.
func (e *Engine) TestConnection(ctx context.Context, src types.Source) (bool, string, error) {
	cfg, err := ActiveService(ctx, e.db, src)
	if err != nil {
		return false, "", err
	}
	if cfg == nil {
		return false, msgNotConfigured, ErrNotConfigured
	}
	conn, err := e.factory.New(*cfg)
	if err != nil {
		return false, "", err
	}
	ok, msg := conn.TestConnectivity(ctx)
	if err := recordTest(context.WithoutCancel(ctx), e.db, src, ok, msg, e.opts.Now()); err != nil {
		return ok, msg, fmt.Errorf("record test result: %w", err)
	}
	logging.Info("Connection test", "source", string(src), "ok", ok, "message", msg)
	return ok, msg, nil
}
