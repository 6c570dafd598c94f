package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecgard/teambeat/internal/report"
	"github.com/alecgard/teambeat/internal/team"
	"github.com/alecgard/teambeat/internal/token"
)

// OpenItem is an open cycle awaiting a user's status.
type OpenItem struct {
	TeamID       string    `json:"team_id"`
	TeamName     string    `json:"team_name"`
	CycleID      string    `json:"cycle_id"`
	SubmissionID string    `json:"submission_id"`
	MemberID     string    `json:"member_id"`
	ClosesAt     time.Time `json:"closes_at"`
	Answered     bool      `json:"answered"`
}

// CycleSummary is one row of a team's report history.
type CycleSummary struct {
	Cycle     team.Cycle         `json:"cycle"`
	Completed int                `json:"completed"`
	Total     int                `json:"total"`
	Ratings   report.RatingStats `json:"ratings"`
}

// CyclePage is a page of report history.
type CyclePage struct {
	Cycles     []CycleSummary `json:"cycles"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ReportView is a cycle's report as one member would receive it.
type ReportView struct {
	Cycle     team.Cycle          `json:"cycle"`
	Subject   string              `json:"subject"`
	Body      string              `json:"body"`
	Completed int                 `json:"completed"`
	Total     int                 `json:"total"`
	Ratings   *report.RatingStats `json:"ratings,omitempty"`
}

// HistoryRepository reads cycles and submissions. *Store implements it.
type HistoryRepository interface {
	ListCycles(ctx context.Context, teamID string, limit int, cursor string) ([]*team.Cycle, string, error)
	GetCycle(ctx context.Context, id string) (*team.Cycle, error)
	ListEntries(ctx context.Context, cycleID string) ([]team.Entry, error)
	OpenForUser(ctx context.Context, userID string, now time.Time) ([]OpenItem, error)
	GetSubmissionForUser(ctx context.Context, userID, submissionID string) (*Record, error)
}

// TeamReader loads teams and their members. *team.Store implements it.
type TeamReader interface {
	TeamGetter
	GetMember(ctx context.Context, teamID, memberID string) (*team.Member, error)
}

// History serves report history and member-scoped links.
type History struct {
	store HistoryRepository
	teams TeamReader
	codec *token.Codec[token.SubmissionClaims]
	links Links
	now   func() time.Time
}

// NewHistory creates a History.
func NewHistory(store HistoryRepository, teams TeamReader, codec *token.Codec[token.SubmissionClaims], links Links) *History {
	return &History{store: store, teams: teams, codec: codec, links: links, now: time.Now}
}

// WithClock overrides the clock. For tests.
func (h *History) WithClock(now func() time.Time) *History {
	h.now = now
	return h
}

// ListCycles returns one page of a team's cycles, newest first, each with
// completion and rating totals.
func (h *History) ListCycles(ctx context.Context, teamID, cursor string) (*CyclePage, error) {
	t, err := h.teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	cycles, next, err := h.store.ListCycles(ctx, teamID, PageSize, cursor)
	if err != nil {
		return nil, err
	}

	page := &CyclePage{Cycles: make([]CycleSummary, 0, len(cycles)), NextCursor: next}
	for _, c := range cycles {
		entries, err := h.store.ListEntries(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		page.Cycles = append(page.Cycles, CycleSummary{
			Cycle:     *c,
			Completed: report.CompletionCount(entries),
			Total:     len(entries),
			Ratings:   report.Ratings(t, entries),
		})
	}
	return page, nil
}

// Report renders a cycle's report for viewerID, a member of the cycle's
// team. An empty viewerID renders the report without ratings.
func (h *History) Report(ctx context.Context, cycleID, viewerID string) (*ReportView, error) {
	c, err := h.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	t, err := h.teams.GetByID(ctx, c.TeamID)
	if err != nil {
		return nil, err
	}
	var viewer *team.Member
	if viewerID != "" {
		if viewer, err = h.teams.GetMember(ctx, t.ID, viewerID); err != nil {
			return nil, err
		}
	}
	entries, err := h.store.ListEntries(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	view := &ReportView{
		Cycle:     *c,
		Subject:   report.Subject(t, c),
		Body:      report.Render(t, entries, viewer),
		Completed: report.CompletionCount(entries),
		Total:     len(entries),
	}
	if viewer != nil && viewer.ViewRatings {
		stats := report.Ratings(t, entries)
		view.Ratings = &stats
	}
	return view, nil
}

// OpenForUser lists the open cycles waiting on userID.
func (h *History) OpenForUser(ctx context.Context, userID string) ([]OpenItem, error) {
	items, err := h.store.OpenForUser(ctx, userID, h.now())
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []OpenItem{}
	}
	return items, nil
}

// FreshLink issues a new collection link for the user's own submission in a
// still-open cycle. next is carried along only when it is a safe relative
// path.
func (h *History) FreshLink(ctx context.Context, userID, submissionID, next string) (string, error) {
	rec, err := h.store.GetSubmissionForUser(ctx, userID, submissionID)
	if err != nil {
		return "", err
	}
	if !rec.Submission.Active || !rec.Member.Active {
		return "", ErrNotFound
	}
	t, err := h.teams.GetByID(ctx, rec.Cycle.TeamID)
	if err != nil {
		if errors.Is(err, team.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if t.NextReport == nil || !t.NextReport.After(h.now()) {
		return "", ErrNotFound
	}

	tok, err := h.codec.Issue(token.SubmissionClaims{SubmissionID: rec.Submission.ID}, *t.NextReport)
	if err != nil {
		return "", fmt.Errorf("issuing collection token: %w", err)
	}
	if !SafeNext(next) {
		next = ""
	}
	return h.links.Submission(tok, next), nil
}
