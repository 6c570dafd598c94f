package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/teambeat/internal/schedule"
)

// Validation errors returned by the Service layer.
var (
	ErrNameRequired      = errors.New("name is required")
	ErrSendTimeInvalid   = errors.New("send_time must be HH:MM")
	ErrTimezoneInvalid   = errors.New("timezone must be an IANA zone name")
	ErrDaysOfWeekInvalid = errors.New("days_of_week must name at least one weekday")
	ErrHoursOpenInvalid  = errors.New("hours_open must be greater than 0 and at most 24")
	ErrQuestionsInvalid  = errors.New("questions must be non-empty with kind question or rating")
	ErrUserIDRequired    = errors.New("user_id is required")
	ErrEmailRequired     = errors.New("email is required")
)

const (
	DefaultTimezone  = "America/Chicago"
	DefaultHoursOpen = 1.0
	DefaultSendTime  = "09:00"
)

// Repository is the persistence the Service needs. *Store implements it.
type Repository interface {
	Create(ctx context.Context, t *Team) (*Team, error)
	GetByID(ctx context.Context, id string) (*Team, error)
	List(ctx context.Context, orgID string) ([]*Team, error)
	Update(ctx context.Context, t *Team, reschedule bool) (*Team, error)
	UpsertMember(ctx context.Context, teamID string, in AddMemberInput, reportStatus bool) (*Member, error)
	GetMember(ctx context.Context, teamID, memberID string) (*Member, error)
	UpdateMember(ctx context.Context, m *Member) (*Member, error)
	ListMembers(ctx context.Context, teamID string, activeOnly bool) ([]*Member, error)
}

// Service provides validated team administration over a Repository. It keeps
// next_send consistent with the schedule fields.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new Service wrapping the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock replaces the service time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create applies defaults, validates the input and stores the team with its
// first send time.
func (s *Service) Create(ctx context.Context, input CreateTeamInput) (*Team, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, ErrNameRequired
	}

	t := &Team{
		OrgID:     input.OrgID,
		Name:      strings.TrimSpace(input.Name),
		Timezone:  input.Timezone,
		Weekdays:  schedule.Workdays,
		HoursOpen: DefaultHoursOpen,
		Questions: input.Questions,
		Active:    true,
	}
	if t.Timezone == "" {
		t.Timezone = DefaultTimezone
	}
	sendTime := input.SendTime
	if sendTime == "" {
		sendTime = DefaultSendTime
	}
	if err := applySendTime(t, sendTime); err != nil {
		return nil, err
	}
	if input.DaysOfWeek != nil {
		if err := applyWeekdays(t, input.DaysOfWeek); err != nil {
			return nil, err
		}
	}
	if input.HoursOpen != nil {
		t.HoursOpen = *input.HoursOpen
	}
	if t.Questions == nil {
		t.Questions = DefaultQuestions()
	}
	if input.Active != nil {
		t.Active = *input.Active
	}
	if err := validate(t); err != nil {
		return nil, err
	}

	next, err := schedule.NextSend(t.Schedule(), s.now())
	if err != nil {
		return nil, fmt.Errorf("computing next send: %w", err)
	}
	t.NextSend = next
	return s.repo.Create(ctx, t)
}

// GetByID retrieves a team by its ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Team, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns the teams of an organization.
func (s *Service) List(ctx context.Context, orgID string) ([]*Team, error) {
	return s.repo.List(ctx, orgID)
}

// Update applies a partial update. When any schedule field changes, next_send
// is recomputed from now; otherwise the stored next_send is left alone.
func (s *Service) Update(ctx context.Context, id string, input UpdateTeamInput) (*Team, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rescheduled := false
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, ErrNameRequired
		}
		t.Name = strings.TrimSpace(*input.Name)
	}
	if input.SendTime != nil {
		if err := applySendTime(t, *input.SendTime); err != nil {
			return nil, err
		}
		rescheduled = true
	}
	if input.Timezone != nil {
		t.Timezone = *input.Timezone
		rescheduled = true
	}
	if input.DaysOfWeek != nil {
		if err := applyWeekdays(t, *input.DaysOfWeek); err != nil {
			return nil, err
		}
		rescheduled = true
	}
	if input.HoursOpen != nil {
		t.HoursOpen = *input.HoursOpen
	}
	if input.Questions != nil {
		t.Questions = *input.Questions
	}
	if input.Active != nil {
		t.Active = *input.Active
	}
	if err := validate(t); err != nil {
		return nil, err
	}

	if rescheduled {
		next, err := schedule.NextSend(t.Schedule(), s.now())
		if err != nil {
			return nil, fmt.Errorf("computing next send: %w", err)
		}
		t.NextSend = next
	}
	return s.repo.Update(ctx, t, rescheduled)
}

// AddMember adds a user to the team. A user who was previously a member is
// re-activated rather than duplicated.
func (s *Service) AddMember(ctx context.Context, teamID string, input AddMemberInput) (*Member, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, ErrUserIDRequired
	}
	if strings.TrimSpace(input.Email) == "" {
		return nil, ErrEmailRequired
	}
	if input.Username == "" {
		input.Username = input.Email
	}
	if _, err := s.repo.GetByID(ctx, teamID); err != nil {
		return nil, err
	}
	reportStatus := true
	if input.ReportStatus != nil {
		reportStatus = *input.ReportStatus
	}
	return s.repo.UpsertMember(ctx, teamID, input, reportStatus)
}

// UpdateMember changes the member flags. Setting active to false is how a
// member is removed.
func (s *Service) UpdateMember(ctx context.Context, teamID, memberID string, input UpdateMemberInput) (*Member, error) {
	m, err := s.repo.GetMember(ctx, teamID, memberID)
	if err != nil {
		return nil, err
	}
	if input.Active != nil {
		m.Active = *input.Active
	}
	if input.ViewRatings != nil {
		m.ViewRatings = *input.ViewRatings
	}
	if input.ReportStatus != nil {
		m.ReportStatus = *input.ReportStatus
	}
	return s.repo.UpdateMember(ctx, m)
}

// ListMembers returns the team's members.
func (s *Service) ListMembers(ctx context.Context, teamID string, activeOnly bool) ([]*Member, error) {
	return s.repo.ListMembers(ctx, teamID, activeOnly)
}

func applySendTime(t *Team, raw string) error {
	ct, err := schedule.ParseClockTime(raw)
	if err != nil {
		return ErrSendTimeInvalid
	}
	t.SendTime = ct
	return nil
}

func applyWeekdays(t *Team, names []string) error {
	set, err := schedule.ParseWeekdays(names)
	if err != nil || set.Empty() {
		return ErrDaysOfWeekInvalid
	}
	t.Weekdays = set
	return nil
}

func validate(t *Team) error {
	if _, err := time.LoadLocation(t.Timezone); err != nil || t.Timezone == "" {
		return ErrTimezoneInvalid
	}
	if t.HoursOpen <= 0 || t.HoursOpen > 24 {
		return ErrHoursOpenInvalid
	}
	if t.Weekdays.Empty() {
		return ErrDaysOfWeekInvalid
	}
	if len(t.Questions) == 0 {
		return ErrQuestionsInvalid
	}
	for _, q := range t.Questions {
		if q.Kind != KindText && q.Kind != KindRating {
			return ErrQuestionsInvalid
		}
		if strings.TrimSpace(q.Prompt) == "" {
			return ErrQuestionsInvalid
		}
	}
	return nil
}
