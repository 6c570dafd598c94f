package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, _ ...string) (*Summary, error) {
	r.calls.Add(1)
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return &Summary{}, nil
}

func TestSchedulerDropsOverlappingTicks(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	s := NewScheduler(r, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		s.Tick()
		close(done)
	}()
	for r.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// A second tick while the first is blocked returns immediately.
	s.Tick()
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("overlapping tick ran a pass: %d calls", got)
	}

	close(r.release)
	<-done
	s.Tick()
	if got := r.calls.Load(); got != 2 {
		t.Errorf("expected a pass after the first finished, got %d calls", got)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	close(r.release)
	s := NewScheduler(r, 0, nil)
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
