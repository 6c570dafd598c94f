package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
)

// DefaultInterval is how often the scheduler runs a pass.
const DefaultInterval = 5 * time.Minute

// Runner runs one dispatch pass. *Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, teamIDs ...string) (*Summary, error)
}

// Scheduler triggers dispatch passes on a fixed interval. A tick that fires
// while the previous pass is still running is dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	cron    *cron.Cron
	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a Scheduler. interval <= 0 selects DefaultInterval.
func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Start registers the periodic job and starts the cron loop. Passes run
// under ctx; cancelling it stops in-flight work.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New()
	spec := "@every " + s.interval.String()
	if err := s.cron.AddFunc(spec, s.Tick); err != nil {
		s.cancel()
		return fmt.Errorf("scheduling dispatch %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("dispatch scheduler started", "interval", s.interval.String())
	return nil
}

// Tick runs one pass unless one is already in progress.
func (s *Scheduler) Tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("dispatch pass still running, skipping tick")
		return
	}
	s.wg.Add(1)
	defer func() {
		s.running.Store(false)
		s.wg.Done()
	}()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.Error("dispatch pass failed", "error", err)
	}
}

// Stop halts the cron loop, cancels in-flight work and waits for it.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("dispatch scheduler stopped")
}
