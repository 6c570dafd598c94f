// Package dispatch finds teams whose cycles are due to close or open and
// drives them through the cycle lifecycle with a bounded worker pool.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alecgard/teambeat/internal/checkin"
	"github.com/alecgard/teambeat/internal/metrics"
	"github.com/alecgard/teambeat/internal/team"
)

// DefaultWorkers bounds how many teams are processed at once.
const DefaultWorkers = 4

const (
	PhaseClose = "close"
	PhaseOpen  = "open"
)

// TeamSource lists teams due for each phase. *team.Store implements it.
type TeamSource interface {
	ListDueToClose(ctx context.Context, now time.Time, ids []string) ([]*team.Team, error)
	ListDueToOpen(ctx context.Context, now time.Time, ids []string) ([]*team.Team, error)
}

// Lifecycle opens and closes cycles. *checkin.Manager implements it.
type Lifecycle interface {
	OpenCycle(ctx context.Context, t *team.Team) (checkin.Result, error)
	CloseCycle(ctx context.Context, t *team.Team) (checkin.Result, error)
}

// Outcome is one team's result within a phase.
type Outcome struct {
	Phase string `json:"phase"`
	checkin.Result
	Error string `json:"error,omitempty"`
}

// Summary reports one dispatch pass.
type Summary struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Closed    int       `json:"closed"`
	Opened    int       `json:"opened"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch {
	case o.Error != "":
		s.Errors++
	case o.Skipped != checkin.SkipNone:
		s.Skipped++
	case o.Phase == PhaseClose:
		s.Closed++
	default:
		s.Opened++
	}
}

// Dispatcher runs dispatch passes.
type Dispatcher struct {
	teams     TeamSource
	lifecycle Lifecycle
	workers   int
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Dispatcher. workers <= 0 selects DefaultWorkers.
func New(teams TeamSource, lifecycle Lifecycle, workers int, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{teams: teams, lifecycle: lifecycle, workers: workers, metrics: m, logger: logger, now: time.Now}
}

// WithClock overrides the clock used to select due teams.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run performs one pass: due cycles are closed first, then due cycles are
// opened, so a team whose window ended and whose next occurrence is due
// reports before it is asked again. A non-empty teamIDs restricts the pass.
// Per-team failures are logged and counted; only listing failures abort.
func (d *Dispatcher) Run(ctx context.Context, teamIDs ...string) (*Summary, error) {
	start := d.now()
	sum := &Summary{StartedAt: start, Outcomes: []Outcome{}}

	closing, err := d.teams.ListDueToClose(ctx, start, teamIDs)
	if err != nil {
		return nil, fmt.Errorf("listing teams to close: %w", err)
	}
	d.runPhase(ctx, PhaseClose, closing, d.lifecycle.CloseCycle, sum)

	opening, err := d.teams.ListDueToOpen(ctx, d.now(), teamIDs)
	if err != nil {
		return nil, fmt.Errorf("listing teams to open: %w", err)
	}
	d.runPhase(ctx, PhaseOpen, opening, d.lifecycle.OpenCycle, sum)

	elapsed := time.Since(start)
	sum.Duration = elapsed.String()
	d.metrics.ObserveDispatchPass(elapsed, time.Now())
	d.logger.Info("dispatch pass complete",
		"closed", sum.Closed,
		"opened", sum.Opened,
		"skipped", sum.Skipped,
		"errors", sum.Errors,
		"duration_ms", elapsed.Milliseconds(),
	)
	return sum, nil
}

type stepFunc func(ctx context.Context, t *team.Team) (checkin.Result, error)

func (d *Dispatcher) runPhase(ctx context.Context, phase string, teams []*team.Team, step stepFunc, sum *Summary) {
	if len(teams) == 0 {
		return
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.workers)

	for _, t := range teams {
		g.Go(func() error {
			o := d.process(ctx, phase, t, step)
			mu.Lock()
			sum.add(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// process runs one step for one team. A panic is contained to that team.
func (d *Dispatcher) process(ctx context.Context, phase string, t *team.Team, step stepFunc) (o Outcome) {
	o = Outcome{Phase: phase, Result: checkin.Result{TeamID: t.ID}}
	logger := d.logger.With("phase", phase, "team_id", t.ID, "team_name", t.Name)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic processing team", "panic", r, "stack", string(debug.Stack()))
			d.metrics.IncDispatchError(phase)
			o.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		o.Error = err.Error()
		return o
	}

	res, err := step(ctx, t)
	o.Result = res
	if err != nil {
		logger.Error("processing team failed", "error", err)
		d.metrics.IncDispatchError(phase)
		o.Error = err.Error()
		return o
	}
	if res.Skipped != checkin.SkipNone {
		logger.Debug("team skipped", "reason", string(res.Skipped))
		d.metrics.IncDispatchSkip(phase, string(res.Skipped))
	}
	return o
}
