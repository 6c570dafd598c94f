package team

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alecgard/teambeat/internal/schedule"
)

func strPtr(s string) *string       { return &s }
func float64Ptr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool          { return &b }

// memRepo is an in-memory Repository.
type memRepo struct {
	teams   map[string]*Team
	members map[string]*Member
	nextID  int

	// beforeUpdate runs against the stored team at the start of Update.
	beforeUpdate func(stored *Team)
}

func newMemRepo() *memRepo {
	return &memRepo{teams: map[string]*Team{}, members: map[string]*Member{}}
}

func (r *memRepo) id(prefix string) string {
	r.nextID++
	return prefix + "-" + strconv.Itoa(r.nextID)
}

func (r *memRepo) Create(_ context.Context, t *Team) (*Team, error) {
	cp := *t
	cp.ID = r.id("team")
	r.teams[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*Team, error) {
	t, ok := r.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) List(_ context.Context, orgID string) ([]*Team, error) {
	var out []*Team
	for _, t := range r.teams {
		if orgID == "" || t.OrgID == orgID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) Update(_ context.Context, t *Team, reschedule bool) (*Team, error) {
	stored, ok := r.teams[t.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.beforeUpdate != nil {
		r.beforeUpdate(stored)
	}
	cp := *t
	if !reschedule {
		cp.NextSend = stored.NextSend
		cp.NextReport = stored.NextReport
	}
	r.teams[t.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) UpsertMember(_ context.Context, teamID string, in AddMemberInput, reportStatus bool) (*Member, error) {
	for _, m := range r.members {
		if m.TeamID == teamID && m.UserID == in.UserID {
			m.Active = true
			m.Email = in.Email
			m.ViewRatings = in.ViewRatings
			m.ReportStatus = reportStatus
			cp := *m
			return &cp, nil
		}
	}
	m := &Member{
		ID: r.id("member"), TeamID: teamID, UserID: in.UserID, Username: in.Username,
		Name: in.Name, Email: in.Email, Active: true, ReportStatus: reportStatus, ViewRatings: in.ViewRatings,
	}
	r.members[m.ID] = m
	cp := *m
	return &cp, nil
}

func (r *memRepo) GetMember(_ context.Context, teamID, memberID string) (*Member, error) {
	m, ok := r.members[memberID]
	if !ok || m.TeamID != teamID {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memRepo) UpdateMember(_ context.Context, m *Member) (*Member, error) {
	cp := *m
	r.members[m.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) ListMembers(_ context.Context, teamID string, activeOnly bool) ([]*Member, error) {
	var out []*Member
	for _, m := range r.members {
		if m.TeamID == teamID && (m.Active || !activeOnly) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Wednesday 2026-10-14 12:00 UTC.
var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memRepo) {
	repo := newMemRepo()
	return NewService(repo).WithClock(func() time.Time { return fixedNow }), repo
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc, _ := newTestService()

	tm, err := svc.Create(context.Background(), CreateTeamInput{Name: "  Platform  "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tm.Name != "Platform" {
		t.Errorf("expected trimmed name, got %q", tm.Name)
	}
	if tm.Timezone != DefaultTimezone {
		t.Errorf("expected default timezone, got %q", tm.Timezone)
	}
	if tm.Weekdays != schedule.Workdays {
		t.Errorf("expected workdays, got %v", tm.Weekdays)
	}
	if tm.HoursOpen != DefaultHoursOpen {
		t.Errorf("expected default hours open, got %v", tm.HoursOpen)
	}
	if len(tm.Questions) != 4 || tm.Questions[3].Kind != KindRating {
		t.Errorf("expected default questions, got %+v", tm.Questions)
	}
	if !tm.Active {
		t.Error("expected team to be active")
	}
	if !tm.NextSend.After(fixedNow) {
		t.Errorf("next send %v not after now", tm.NextSend)
	}
}

func TestCreateComputesNextSend(t *testing.T) {
	svc, _ := newTestService()

	tm, err := svc.Create(context.Background(), CreateTeamInput{
		Name:       "Ops",
		SendTime:   "13:30",
		Timezone:   "UTC",
		DaysOfWeek: []string{"Thursday"},
		HoursOpen:  float64Ptr(2.5),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := time.Date(2026, 10, 15, 13, 30, 0, 0, time.UTC)
	if !tm.NextSend.Equal(want) {
		t.Errorf("next send = %v, want %v", tm.NextSend, want)
	}
	if tm.OpenWindow() != 150*time.Minute {
		t.Errorf("open window = %v, want 2h30m", tm.OpenWindow())
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateTeamInput
		wantErr error
	}{
		{"empty name", CreateTeamInput{Name: " "}, ErrNameRequired},
		{"bad send time", CreateTeamInput{Name: "a", SendTime: "25:00"}, ErrSendTimeInvalid},
		{"bad timezone", CreateTeamInput{Name: "a", Timezone: "Mars/Olympus"}, ErrTimezoneInvalid},
		{"no weekdays", CreateTeamInput{Name: "a", DaysOfWeek: []string{}}, ErrDaysOfWeekInvalid},
		{"unknown weekday", CreateTeamInput{Name: "a", DaysOfWeek: []string{"Caturday"}}, ErrDaysOfWeekInvalid},
		{"zero hours open", CreateTeamInput{Name: "a", HoursOpen: float64Ptr(0)}, ErrHoursOpenInvalid},
		{"too many hours open", CreateTeamInput{Name: "a", HoursOpen: float64Ptr(25)}, ErrHoursOpenInvalid},
		{"empty questions", CreateTeamInput{Name: "a", Questions: []Question{}}, ErrQuestionsInvalid},
		{"bad question kind", CreateTeamInput{Name: "a", Questions: []Question{{Kind: "essay", Prompt: "x"}}}, ErrQuestionsInvalid},
	}

	svc, _ := newTestService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUpdateRecomputesNextSendOnScheduleChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tm, err := svc.Create(ctx, CreateTeamInput{Name: "Ops", SendTime: "09:00", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := tm.NextSend

	renamed, err := svc.Update(ctx, tm.ID, UpdateTeamInput{Name: strPtr("Ops 2")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !renamed.NextSend.Equal(before) {
		t.Errorf("rename changed next send from %v to %v", before, renamed.NextSend)
	}

	moved, err := svc.Update(ctx, tm.ID, UpdateTeamInput{SendTime: strPtr("18:00")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)
	if !moved.NextSend.Equal(want) {
		t.Errorf("next send = %v, want %v", moved.NextSend, want)
	}

	if _, err := svc.Update(ctx, tm.ID, UpdateTeamInput{DaysOfWeek: &[]string{}}); !errors.Is(err, ErrDaysOfWeekInvalid) {
		t.Errorf("expected ErrDaysOfWeekInvalid, got %v", err)
	}
}

func TestUpdateKeepsClaimedNextSend(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	tm, err := svc.Create(ctx, CreateTeamInput{Name: "Ops", SendTime: "09:00", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A dispatch pass opens the cycle after the update has read the team.
	claimedSend := tm.NextSend.AddDate(0, 0, 1)
	closes := tm.NextSend.Add(time.Hour)
	repo.beforeUpdate = func(stored *Team) {
		stored.NextSend = claimedSend
		stored.NextReport = &closes
	}

	got, err := svc.Update(ctx, tm.ID, UpdateTeamInput{Name: strPtr("Ops 2"), HoursOpen: float64Ptr(2)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "Ops 2" || got.HoursOpen != 2 {
		t.Errorf("edit not applied: %+v", got)
	}
	if !got.NextSend.Equal(claimedSend) {
		t.Errorf("next send = %v, want claimed %v", got.NextSend, claimedSend)
	}
	if got.NextReport == nil || !got.NextReport.Equal(closes) {
		t.Errorf("next report = %v, want %v", got.NextReport, closes)
	}
}

func TestUpdateMissingTeam(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Update(context.Background(), "nope", UpdateTeamInput{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddMemberReactivates(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	tm, _ := svc.Create(ctx, CreateTeamInput{Name: "Ops"})
	m, err := svc.AddMember(ctx, tm.ID, AddMemberInput{UserID: "u1", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if !m.Reporting() {
		t.Error("expected new member to be reporting")
	}
	if m.Username != "ana@example.com" {
		t.Errorf("expected username to default to email, got %q", m.Username)
	}

	if _, err := svc.UpdateMember(ctx, tm.ID, m.ID, UpdateMemberInput{Active: boolPtr(false)}); err != nil {
		t.Fatalf("UpdateMember: %v", err)
	}
	again, err := svc.AddMember(ctx, tm.ID, AddMemberInput{UserID: "u1", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("AddMember again: %v", err)
	}
	if again.ID != m.ID || !again.Active {
		t.Errorf("expected reactivated member %s, got %+v", m.ID, again)
	}
	if len(repo.members) != 1 {
		t.Errorf("expected 1 membership, got %d", len(repo.members))
	}
}

func TestAddMemberValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	tm, _ := svc.Create(ctx, CreateTeamInput{Name: "Ops"})

	if _, err := svc.AddMember(ctx, tm.ID, AddMemberInput{Email: "a@example.com"}); !errors.Is(err, ErrUserIDRequired) {
		t.Errorf("expected ErrUserIDRequired, got %v", err)
	}
	if _, err := svc.AddMember(ctx, tm.ID, AddMemberInput{UserID: "u1"}); !errors.Is(err, ErrEmailRequired) {
		t.Errorf("expected ErrEmailRequired, got %v", err)
	}
	if _, err := svc.AddMember(ctx, "missing", AddMemberInput{UserID: "u1", Email: "a@example.com"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAnswerJSON(t *testing.T) {
	var a Answers
	if err := json.Unmarshal([]byte(`{"question0":"shipped it","question3":7}`), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a["question0"].Text != "shipped it" {
		t.Errorf("unexpected text answer %+v", a["question0"])
	}
	if n, ok := a["question3"].RatingValue(); !ok || n != 7 {
		t.Errorf("unexpected rating answer %+v", a["question3"])
	}
}
