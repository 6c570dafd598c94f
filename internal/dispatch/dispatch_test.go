package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecgard/teambeat/internal/checkin"
	"github.com/alecgard/teambeat/internal/metrics"
	"github.com/alecgard/teambeat/internal/team"
)

type fakeSource struct {
	closing, opening []*team.Team
	closeErr         error
	gotIDs           []string
}

func (f *fakeSource) ListDueToClose(_ context.Context, _ time.Time, ids []string) ([]*team.Team, error) {
	f.gotIDs = ids
	return f.closing, f.closeErr
}

func (f *fakeSource) ListDueToOpen(_ context.Context, _ time.Time, ids []string) ([]*team.Team, error) {
	return f.opening, nil
}

// fakeLifecycle records call order and tracks peak concurrency.
type fakeLifecycle struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	results  map[string]checkin.Result
	errs     map[string]error
	panics   map[string]bool
}

func (f *fakeLifecycle) step(phase string, t *team.Team) (checkin.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.calls = append(f.calls, phase+":"+t.ID)
	f.mu.Unlock()

	if f.panics[t.ID] {
		panic("boom")
	}
	if err := f.errs[t.ID]; err != nil {
		return checkin.Result{TeamID: t.ID}, err
	}
	if r, ok := f.results[t.ID]; ok {
		return r, nil
	}
	return checkin.Result{TeamID: t.ID, CycleID: "c-" + t.ID, Delivered: 1}, nil
}

func (f *fakeLifecycle) OpenCycle(_ context.Context, t *team.Team) (checkin.Result, error) {
	return f.step(PhaseOpen, t)
}

func (f *fakeLifecycle) CloseCycle(_ context.Context, t *team.Team) (checkin.Result, error) {
	return f.step(PhaseClose, t)
}

func teams(ids ...string) []*team.Team {
	out := make([]*team.Team, len(ids))
	for i, id := range ids {
		out[i] = &team.Team{ID: id, Name: "team " + id}
	}
	return out
}

func TestRunClosesBeforeOpening(t *testing.T) {
	src := &fakeSource{closing: teams("a"), opening: teams("a")}
	lc := &fakeLifecycle{}
	d := New(src, lc, 1, nil, nil)

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lc.calls) != 2 || lc.calls[0] != "close:a" || lc.calls[1] != "open:a" {
		t.Errorf("unexpected call order %v", lc.calls)
	}
	if sum.Closed != 1 || sum.Opened != 1 || sum.Errors != 0 || len(sum.Outcomes) != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestRunCountsSkipsAndContainsFailures(t *testing.T) {
	src := &fakeSource{opening: teams("ok", "skip", "fail", "panic")}
	lc := &fakeLifecycle{
		results: map[string]checkin.Result{"skip": {TeamID: "skip", Skipped: checkin.SkipNotEntitled}},
		errs:    map[string]error{"fail": errors.New("db down")},
		panics:  map[string]bool{"panic": true},
	}
	m := metrics.New()
	d := New(src, lc, 2, m, nil)

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Opened != 1 || sum.Skipped != 1 || sum.Errors != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if len(lc.calls) != 4 {
		t.Errorf("every team should be attempted, got %v", lc.calls)
	}
	for _, o := range sum.Outcomes {
		if o.TeamID == "panic" && o.Error == "" {
			t.Error("panic not reported in outcome")
		}
	}

	s, err := m.Summarize()
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Dispatch.Errors != 2 || s.Dispatch.Skips["not_entitled"] != 1 {
		t.Errorf("unexpected dispatch metrics %+v", s.Dispatch)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	src := &fakeSource{opening: teams("1", "2", "3", "4", "5", "6", "7", "8")}
	lc := &fakeLifecycle{delay: 10 * time.Millisecond}
	d := New(src, lc, 3, nil, nil)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak := lc.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency %d exceeds worker limit 3", peak)
	}
	if len(lc.calls) != 8 {
		t.Errorf("expected 8 calls, got %d", len(lc.calls))
	}
}

func TestRunPassesTeamFilter(t *testing.T) {
	src := &fakeSource{}
	d := New(src, &fakeLifecycle{}, 0, nil, nil)
	if _, err := d.Run(context.Background(), "x", "y"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(src.gotIDs) != 2 || src.gotIDs[0] != "x" {
		t.Errorf("filter not passed through: %v", src.gotIDs)
	}
}

func TestRunListingFailureAborts(t *testing.T) {
	src := &fakeSource{closeErr: errors.New("connection reset"), opening: teams("a")}
	lc := &fakeLifecycle{}
	if _, err := New(src, lc, 1, nil, nil).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(lc.calls) != 0 {
		t.Errorf("no team should be processed, got %v", lc.calls)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{opening: teams("a", "b")}
	lc := &fakeLifecycle{}
	sum, err := New(src, lc, 1, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lc.calls) != 0 || sum.Errors != 2 {
		t.Errorf("cancelled pass processed teams: calls %v, summary %+v", lc.calls, sum)
	}
}
