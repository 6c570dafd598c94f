// Package checkin runs the check-in cycle lifecycle and collects answers
// through token-gated links.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/teambeat/internal/deliverylog"
	"github.com/alecgard/teambeat/internal/entitlement"
	"github.com/alecgard/teambeat/internal/mail"
	"github.com/alecgard/teambeat/internal/metrics"
	"github.com/alecgard/teambeat/internal/report"
	"github.com/alecgard/teambeat/internal/schedule"
	"github.com/alecgard/teambeat/internal/team"
	"github.com/alecgard/teambeat/internal/token"
)

var (
	// ErrNotFound is returned for unknown, inactive or expired submissions
	// and for every token verification failure.
	ErrNotFound = errors.New("submission not found")

	// ErrAlreadyClaimed means another pass already opened or closed this
	// occurrence.
	ErrAlreadyClaimed = errors.New("cycle transition already claimed")

	// ErrInvalidCursor is returned for a history cursor that does not decode.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// PageSize is the default page size for cycle history.
const PageSize = 25

// Skip explains why a team was not processed.
type Skip string

const (
	SkipNone           Skip = ""
	SkipInactive       Skip = "inactive"
	SkipNotDue         Skip = "not_due"
	SkipNotEntitled    Skip = "not_entitled"
	SkipStillOpen      Skip = "still_open"
	SkipNoSchedule     Skip = "no_schedule"
	SkipAlreadyClaimed Skip = "already_claimed"
	SkipNoCycle        Skip = "no_cycle"
)

// Result describes what one open or close attempt did.
type Result struct {
	TeamID    string `json:"team_id"`
	CycleID   string `json:"cycle_id,omitempty"`
	Skipped   Skip   `json:"skipped,omitempty"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// OpenParams is the claim written when a cycle opens.
type OpenParams struct {
	TeamID   string
	DueSend  time.Time
	NextSend time.Time
	OpenedAt time.Time
	ClosesAt time.Time
}

// Invitation is a pending submission created for a reporting member.
type Invitation struct {
	SubmissionID string
	Member       team.Member
}

// Opened is the outcome of a successful open.
type Opened struct {
	Cycle       team.Cycle
	Invitations []Invitation
}

// CycleRepository is the persistence the Manager needs. *Store implements it.
type CycleRepository interface {
	OpenCycle(ctx context.Context, p OpenParams) (*Opened, error)
	LatestCycle(ctx context.Context, teamID string) (*team.Cycle, error)
	CloseCycle(ctx context.Context, teamID string, dueAt time.Time, cycleID string) error
	ListEntries(ctx context.Context, cycleID string) ([]team.Entry, error)
}

// MemberLister lists a team's members. *team.Store implements it.
type MemberLister interface {
	ListMembers(ctx context.Context, teamID string, activeOnly bool) ([]*team.Member, error)
}

// DeliveryRecorder records delivery attempts. *deliverylog.Collector
// implements it.
type DeliveryRecorder interface {
	Record(d deliverylog.Delivery)
}

// ManagerDeps wires a Manager.
type ManagerDeps struct {
	Cycles       CycleRepository
	Members      MemberLister
	Entitlements entitlement.Checker
	Mailer       mail.Mailer
	Codec        *token.Codec[token.SubmissionClaims]
	Links        Links
	Deliveries   DeliveryRecorder
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	MailTimeout  time.Duration
	Now          func() time.Time
}

// Manager opens and closes cycles. It is safe for concurrent use across
// teams; per-team exclusion comes from the compare-and-set claims in the
// repository.
type Manager struct {
	cycles       CycleRepository
	members      MemberLister
	entitlements entitlement.Checker
	mailer       mail.Mailer
	codec        *token.Codec[token.SubmissionClaims]
	links        Links
	deliveries   DeliveryRecorder
	metrics      *metrics.Metrics
	logger       *slog.Logger
	mailTimeout  time.Duration
	now          func() time.Time
}

// NewManager creates a Manager from deps, filling in defaults.
func NewManager(deps ManagerDeps) *Manager {
	m := &Manager{
		cycles:       deps.Cycles,
		members:      deps.Members,
		entitlements: deps.Entitlements,
		mailer:       deps.Mailer,
		codec:        deps.Codec,
		links:        deps.Links,
		deliveries:   deps.Deliveries,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		mailTimeout:  deps.MailTimeout,
		now:          deps.Now,
	}
	if m.entitlements == nil {
		m.entitlements = entitlement.Always
	}
	if m.mailer == nil {
		m.mailer = mail.LogMailer{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.mailTimeout <= 0 {
		m.mailTimeout = 10 * time.Second
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) teamLogger(t *team.Team) *slog.Logger {
	return m.logger.With("team_id", t.ID, "team_name", t.Name)
}

// OpenCycle opens a cycle for a due team: it claims the occurrence, creates
// a pending submission per reporting member, advances next_send and sets
// next_report, then mails each member a link whose token expires at
// next_report. Routine skips return a Result with Skipped set and no error.
// On success t is updated in place.
func (m *Manager) OpenCycle(ctx context.Context, t *team.Team) (Result, error) {
	res := Result{TeamID: t.ID}
	logger := m.teamLogger(t)
	now := m.now()

	switch {
	case !t.Active:
		res.Skipped = SkipInactive
		return res, nil
	case t.NextSend.After(now):
		res.Skipped = SkipNotDue
		return res, nil
	case t.IsOpen():
		res.Skipped = SkipStillOpen
		return res, nil
	}

	ok, err := m.entitlements.Entitled(ctx, t.OrgID)
	if err != nil {
		return res, fmt.Errorf("checking entitlement: %w", err)
	}
	if !ok {
		logger.Info("skipping open: organization not entitled", "org_id", t.OrgID)
		res.Skipped = SkipNotEntitled
		return res, nil
	}

	next, err := schedule.NextSend(t.Schedule(), now)
	if errors.Is(err, schedule.ErrNoActiveWeekdays) {
		logger.Warn("skipping open: team has no active weekdays")
		res.Skipped = SkipNoSchedule
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("computing next send: %w", err)
	}
	closesAt := now.Add(t.OpenWindow()).Truncate(time.Second)

	opened, err := m.cycles.OpenCycle(ctx, OpenParams{
		TeamID:   t.ID,
		DueSend:  t.NextSend,
		NextSend: next,
		OpenedAt: now,
		ClosesAt: closesAt,
	})
	if errors.Is(err, ErrAlreadyClaimed) {
		logger.Debug("open already claimed by another pass")
		res.Skipped = SkipAlreadyClaimed
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("opening cycle: %w", err)
	}

	sentFor := t.NextSend
	t.NextSend = next
	t.NextReport = &closesAt
	res.CycleID = opened.Cycle.ID
	m.metrics.IncCycleOpened(len(opened.Invitations))
	logger.Info("cycle opened",
		"cycle_id", opened.Cycle.ID,
		"invitations", len(opened.Invitations),
		"closes_at", closesAt,
		"next_send", next,
	)

	subject := report.InviteSubject(t, sentFor)
	prompts := make([]string, len(t.Questions))
	for i, q := range t.Questions {
		prompts[i] = q.Prompt
	}

	for _, inv := range opened.Invitations {
		tok, err := m.codec.Issue(token.SubmissionClaims{SubmissionID: inv.SubmissionID}, closesAt)
		if err != nil {
			logger.Error("issuing collection token", "submission_id", inv.SubmissionID, "error", err)
			res.Failed++
			continue
		}
		body, err := mail.RenderInvite(mail.InviteData{
			TeamName:   t.Name,
			MemberName: inv.Member.DisplayName(),
			Link:       m.links.Submission(tok, ""),
			ClosesAt:   closesAt,
			Location:   t.Location(),
			Questions:  prompts,
		})
		if err != nil {
			logger.Error("rendering invitation", "submission_id", inv.SubmissionID, "error", err)
			res.Failed++
			continue
		}
		if m.deliver(ctx, t, opened.Cycle.ID, inv.Member, deliverylog.KindInvite, subject, body) {
			res.Delivered++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// CloseCycle closes a team's open cycle once next_report has passed: the
// cycle's submissions are deactivated, next_report is cleared, and every
// active member is mailed the report as they may see it. A team with no
// cycle only has its marker cleared.
func (m *Manager) CloseCycle(ctx context.Context, t *team.Team) (Result, error) {
	res := Result{TeamID: t.ID}
	logger := m.teamLogger(t)
	now := m.now()

	if t.NextReport == nil || t.NextReport.After(now) {
		res.Skipped = SkipNotDue
		return res, nil
	}

	ok, err := m.entitlements.Entitled(ctx, t.OrgID)
	if err != nil {
		return res, fmt.Errorf("checking entitlement: %w", err)
	}
	if !ok {
		logger.Info("skipping close: organization not entitled", "org_id", t.OrgID)
		res.Skipped = SkipNotEntitled
		return res, nil
	}

	cycle, err := m.cycles.LatestCycle(ctx, t.ID)
	if err != nil {
		return res, fmt.Errorf("finding latest cycle: %w", err)
	}

	var entries []team.Entry
	var recipients []*team.Member
	cycleID := ""
	if cycle != nil {
		cycleID = cycle.ID
		// Tokens expired at next_report, so no answer can land after this read.
		if entries, err = m.cycles.ListEntries(ctx, cycle.ID); err != nil {
			return res, fmt.Errorf("listing entries: %w", err)
		}
		if recipients, err = m.members.ListMembers(ctx, t.ID, true); err != nil {
			return res, fmt.Errorf("listing members: %w", err)
		}
	}

	err = m.cycles.CloseCycle(ctx, t.ID, *t.NextReport, cycleID)
	if errors.Is(err, ErrAlreadyClaimed) {
		logger.Debug("close already claimed by another pass")
		res.Skipped = SkipAlreadyClaimed
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("closing cycle: %w", err)
	}
	t.NextReport = nil

	if cycle == nil {
		logger.Info("cleared open marker on team without cycles")
		res.Skipped = SkipNoCycle
		return res, nil
	}

	res.CycleID = cycle.ID
	m.metrics.IncCycleClosed()
	completed := report.CompletionCount(entries)
	logger.Info("cycle closed",
		"cycle_id", cycle.ID,
		"completed", completed,
		"submissions", len(entries),
		"recipients", len(recipients),
	)

	subject := report.Subject(t, cycle)
	for _, member := range recipients {
		body, err := mail.RenderReport(mail.ReportData{
			TeamName:  t.Name,
			Completed: completed,
			Total:     len(entries),
			Table:     report.Render(t, entries, member),
		})
		if err != nil {
			logger.Error("rendering report", "member_id", member.ID, "error", err)
			res.Failed++
			continue
		}
		if m.deliver(ctx, t, cycle.ID, *member, deliverylog.KindReport, subject, body) {
			res.Delivered++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// deliver sends one message under the per-message timeout. Failures are
// logged and recorded, never returned.
func (m *Manager) deliver(ctx context.Context, t *team.Team, cycleID string, member team.Member, kind deliverylog.Kind, subject, body string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.mailTimeout)
	defer cancel()

	err := m.mailer.Send(ctx, mail.Message{To: member.Email, Subject: subject, Body: body})
	d := deliverylog.Delivery{
		Kind:      kind,
		TeamID:    t.ID,
		CycleID:   cycleID,
		MemberID:  member.ID,
		Recipient: member.Email,
		Success:   err == nil,
	}
	if err != nil {
		d.Error = err.Error()
		m.teamLogger(t).Error("mail delivery failed",
			"kind", string(kind),
			"cycle_id", cycleID,
			"member_id", member.ID,
			"recipient", member.Email,
			"error", err,
		)
	}
	if m.deliveries != nil {
		m.deliveries.Record(d)
	}
	m.metrics.IncDelivery(string(kind), err == nil)
	return err == nil
}
