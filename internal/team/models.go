package team

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alecgard/teambeat/internal/schedule"
)

// QuestionKind is the answer shape a question expects.
type QuestionKind string

const (
	KindText   QuestionKind = "question"
	KindRating QuestionKind = "rating"
)

// Question is one prompt in a team's check-in.
type Question struct {
	Kind   QuestionKind `json:"kind"`
	Prompt string       `json:"prompt"`
}

// DefaultQuestions is the question list new teams start with.
func DefaultQuestions() []Question {
	return []Question{
		{Kind: KindText, Prompt: "What did you do yesterday?"},
		{Kind: KindText, Prompt: "What will you do today?"},
		{Kind: KindText, Prompt: "Are there any blockers or impediments preventing you from doing your work?"},
		{Kind: KindRating, Prompt: "Rate the day"},
	}
}

// QuestionKey is the answer map key for the question at index i.
func QuestionKey(i int) string {
	return "question" + strconv.Itoa(i)
}

// Team is a scheduled recurring check-in group.
type Team struct {
	ID         string              `json:"id"`
	OrgID      string              `json:"org_id"`
	Name       string              `json:"name"`
	SendTime   schedule.ClockTime  `json:"send_time"`
	Timezone   string              `json:"timezone"`
	Weekdays   schedule.WeekdaySet `json:"-"`
	HoursOpen  float64             `json:"hours_open"`
	Questions  []Question          `json:"questions"`
	NextSend   time.Time           `json:"next_send"`
	NextReport *time.Time          `json:"next_report"`
	Active     bool                `json:"active"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// MarshalJSON adds the weekday names to the JSON form.
func (t Team) MarshalJSON() ([]byte, error) {
	type plain Team
	return json.Marshal(struct {
		plain
		DaysOfWeek []string `json:"days_of_week"`
	}{plain(t), t.Weekdays.Names()})
}

// Location returns the team's zone, falling back to UTC for unknown names.
func (t *Team) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Schedule returns the recurrence definition used by schedule.NextSend.
func (t *Team) Schedule() schedule.Schedule {
	return schedule.Schedule{
		SendTime: t.SendTime,
		Location: t.Location(),
		Weekdays: t.Weekdays,
	}
}

// OpenWindow is how long a cycle accepts submissions.
func (t *Team) OpenWindow() time.Duration {
	return time.Duration(t.HoursOpen * float64(time.Hour))
}

// IsOpen reports whether a cycle is waiting to be closed.
func (t *Team) IsOpen() bool {
	return t.NextReport != nil
}

func (t *Team) String() string {
	return fmt.Sprintf("%s (%s)", t.Name, t.ID)
}

// Member is a user's participation in a team. Members are deactivated,
// never deleted, so historical submissions keep their owner.
type Member struct {
	ID           string    `json:"id"`
	TeamID       string    `json:"team_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Active       bool      `json:"active"`
	ReportStatus bool      `json:"report_status"`
	ViewRatings  bool      `json:"view_ratings"`
	CreatedAt    time.Time `json:"created_at"`
}

// Reporting reports whether the member is asked for a status each cycle.
func (m *Member) Reporting() bool {
	return m.Active && m.ReportStatus
}

// DisplayName is the name shown in reports.
func (m *Member) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Username
}

// Cycle is one occurrence of a team's check-in.
type Cycle struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
	ClosesAt  time.Time `json:"closes_at"`
}

// Answer is a stored answer: free text or a rating from 1 to 10.
type Answer struct {
	Text   string
	Rating int
}

// TextAnswer wraps a free-text answer.
func TextAnswer(s string) Answer { return Answer{Text: s} }

// RatingAnswer wraps a rating answer.
func RatingAnswer(n int) Answer { return Answer{Rating: n} }

// RatingValue returns the numeric rating. Ratings stored as text are parsed.
func (a Answer) RatingValue() (int, bool) {
	if a.Rating != 0 {
		return a.Rating, true
	}
	n, err := strconv.Atoi(a.Text)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (a Answer) String() string {
	if a.Rating != 0 {
		return strconv.Itoa(a.Rating)
	}
	return a.Text
}

// MarshalJSON encodes ratings as numbers and free text as strings.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Rating != 0 {
		return json.Marshal(a.Rating)
	}
	return json.Marshal(a.Text)
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (a *Answer) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*a = Answer{Rating: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("answer must be a string or integer: %w", err)
	}
	*a = Answer{Text: s}
	return nil
}

// Answers maps question keys (see QuestionKey) to answers.
type Answers map[string]Answer

// Submission is one member's answer record for a cycle. Answers is nil
// while the submission is pending.
type Submission struct {
	ID        string    `json:"id"`
	CycleID   string    `json:"cycle_id"`
	MemberID  string    `json:"member_id"`
	Answers   Answers   `json:"answers"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Answered reports whether answers have been stored.
func (s *Submission) Answered() bool {
	return s.Answers != nil
}

// Entry pairs a submission with the member who owns it.
type Entry struct {
	Submission Submission `json:"submission"`
	Member     Member     `json:"member"`
}

// CreateTeamInput holds the fields accepted when creating a team.
type CreateTeamInput struct {
	OrgID      string     `json:"org_id"`
	Name       string     `json:"name"`
	SendTime   string     `json:"send_time"`
	Timezone   string     `json:"timezone"`
	DaysOfWeek []string   `json:"days_of_week"`
	HoursOpen  *float64   `json:"hours_open"`
	Questions  []Question `json:"questions"`
	Active     *bool      `json:"active"`
}

// UpdateTeamInput holds optional fields for a partial team update.
type UpdateTeamInput struct {
	Name       *string     `json:"name,omitempty"`
	SendTime   *string     `json:"send_time,omitempty"`
	Timezone   *string     `json:"timezone,omitempty"`
	DaysOfWeek *[]string   `json:"days_of_week,omitempty"`
	HoursOpen  *float64    `json:"hours_open,omitempty"`
	Questions  *[]Question `json:"questions,omitempty"`
	Active     *bool       `json:"active,omitempty"`
}

// AddMemberInput identifies a user from the account system to add to a team.
type AddMemberInput struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ViewRatings  bool   `json:"view_ratings"`
	ReportStatus *bool  `json:"report_status"`
}

// UpdateMemberInput holds optional member flags.
type UpdateMemberInput struct {
	Active       *bool `json:"active,omitempty"`
	ViewRatings  *bool `json:"view_ratings,omitempty"`
	ReportStatus *bool `json:"report_status,omitempty"`
}
