package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Clock abstracts time so tests can drive the scheduler by hand
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is backed by the time package
var RealClock Clock = realClock{}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Scheduler fires a job at a fixed interval. Runs never overlap: a tick that
// arrives while a run is in progress is dropped, and failed runs are not
// retried before the next tick.
type Scheduler struct {
	interval time.Duration
	clock    Clock
	logger   *zap.Logger
}

// New creates a scheduler. A nil clock uses RealClock.
func New(interval time.Duration, clock Clock, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Run calls job immediately and then once per interval until ctx is done.
// Errors and panics from job are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, job func(context.Context) error) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	s.fire(ctx, job)
	skipMissed(ticker)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C():
			s.fire(ctx, job)
			skipMissed(ticker)
		}
	}
}

// skipMissed discards a tick that was buffered while a run overran its
// interval, so the next run waits for a fresh tick
func skipMissed(t Ticker) {
	select {
	case <-t.C():
	default:
	}
}

func (s *Scheduler) fire(ctx context.Context, job func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("poll cycle panicked", zap.Any("panic", r))
		}
	}()

	start := s.clock.Now()
	if err := job(ctx); err != nil {
		s.logger.Info("poll cycle failed", zap.Error(err))
		return
	}
	s.logger.Debug("poll cycle done", zap.Duration("took", s.clock.Now().Sub(start)))
}
