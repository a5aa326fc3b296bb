package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs a sweep every fifteen minutes.
const DefaultSchedule = "@every 15m"

// Scheduler runs a Reconciler on a cron schedule. Overlapping sweeps are skipped.
type Scheduler struct {
	cron    *cron.Cron
	r       *Reconciler
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	logger  zerolog.Logger
	onSweep func(Report, error)
}

// NewScheduler registers r under spec (standard five-field cron or @every descriptors).
func NewScheduler(spec string, r *Reconciler, logger zerolog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(),
		r:      r,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "reconcile-scheduler").Logger(),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("register reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

// OnSweep registers fn to receive the outcome of every sweep. Call before Start.
func (s *Scheduler) OnSweep(fn func(Report, error)) {
	s.onSweep = fn
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop cancels an in-flight sweep and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// RunNow executes one sweep immediately in the caller's goroutine.
func (s *Scheduler) RunNow() {
	s.tick()
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous sweep still running, skipping")
		return
	}
	defer s.running.Store(false)

	// Run logs its own outcome.
	rep, err := s.r.Run(s.ctx)
	if s.onSweep != nil {
		s.onSweep(rep, err)
	}
}
