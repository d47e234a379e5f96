// Package scheduler owns the periodic reconciliation tick.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Pouzor/servarr-hub/internal/logging"
)

// Runner is one unit of periodic work. Run must return when ctx is done.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context)

func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

var ErrAlreadyStarted = errors.New("scheduler already started")

// Scheduler calls its runner after an initial delay and then on every tick.
// Ticks that land while a run is in flight are dropped.
type Scheduler struct {
	runner       Runner
	interval     time.Duration
	initialDelay time.Duration
	trigger      chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(runner Runner, interval, initialDelay time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		runner:       runner,
		interval:     interval,
		initialDelay: initialDelay,
		trigger:      make(chan struct{}, 1),
	}
}

// Start launches the loop in its own goroutine. A second call returns
// ErrAlreadyStarted.
func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.loop(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return. It is
// safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Serve runs the loop on the caller's goroutine until ctx is done, so the
// scheduler can sit under a suture supervisor.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
	}()
	s.loop(ctx)
	return ctx.Err()
}

// TriggerNow requests an immediate run. Returns false when one is already queued.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	logging.Info("Starting sync scheduler", "interval", s.interval.String(), "initial_delay", s.initialDelay.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	initial := time.NewTimer(s.initialDelay)
	defer initial.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Sync scheduler stopped")
			return
		case <-initial.C:
			logging.Info("Running initial reconciliation")
			s.runner.Run(ctx)
		case <-ticker.C:
			logging.Debug("Running scheduled reconciliation")
			s.runner.Run(ctx)
		case <-s.trigger:
			logging.Info("Running requested reconciliation")
			s.runner.Run(ctx)
		}
	}
}

func (s *Scheduler) String() string { return "sync-scheduler" }
