package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/teambeat/internal/schedule"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a team or member does not exist.
var ErrNotFound = errors.New("not found")

// SQLSTATE for malformed input such as a bad UUID literal.
const invalidTextRepresentation = "22P02"

const teamColumns = `id, COALESCE(org_id::text, ''), name, to_char(send_time, 'HH24:MI'), timezone,
	days_of_week, hours_open::float8, questions, next_send, next_report, active, created_at, updated_at`

var memberColumns = MemberColumns("")

// MemberColumns lists the member columns read by ScanMember, each qualified
// with alias when it is non-empty.
func MemberColumns(alias string) string {
	cols := []string{"id", "team_id", "user_id", "username", "name", "email", "active", "report_status", "view_ratings", "created_at"}
	if alias != "" {
		for i, c := range cols {
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

// Store provides database operations for teams and members.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new team store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scanTeam scans a team row, decoding the schedule columns.
func scanTeam(scan func(dest ...any) error) (*Team, error) {
	t := &Team{}
	var sendTime string
	var days []string
	var questionsJSON []byte
	err := scan(&t.ID, &t.OrgID, &t.Name, &sendTime, &t.Timezone,
		&days, &t.HoursOpen, &questionsJSON, &t.NextSend, &t.NextReport, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.SendTime, err = schedule.ParseClockTime(sendTime); err != nil {
		return nil, err
	}
	// Unknown names in storage are dropped rather than failing the whole row.
	for _, d := range days {
		if set, err := schedule.ParseWeekdays([]string{d}); err == nil {
			t.Weekdays |= set
		}
	}
	if len(questionsJSON) > 0 {
		if err := json.Unmarshal(questionsJSON, &t.Questions); err != nil {
			return nil, fmt.Errorf("unmarshaling questions: %w", err)
		}
	}
	return t, nil
}

// ScanMember scans a row selected with MemberColumns.
func ScanMember(scan func(dest ...any) error) (*Member, error) {
	m := &Member{}
	err := scan(&m.ID, &m.TeamID, &m.UserID, &m.Username, &m.Name, &m.Email,
		&m.Active, &m.ReportStatus, &m.ViewRatings, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func wrapNoRows(err error, what string) error {
	if IsNoRows(err) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// IsNoRows reports whether err means the row does not exist. An id that is
// not a valid UUID cannot exist either.
func IsNoRows(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

// Create inserts a team. The caller computes NextSend.
func (s *Store) Create(ctx context.Context, t *Team) (*Team, error) {
	questionsJSON, err := json.Marshal(t.Questions)
	if err != nil {
		return nil, fmt.Errorf("marshaling questions: %w", err)
	}

	created, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO teams (org_id, name, send_time, timezone, days_of_week, hours_open, questions, next_send, active)
			 VALUES (NULLIF($1, '')::uuid, $2, $3::time, $4, $5, $6, $7, $8, $9)
			 RETURNING `+teamColumns,
			t.OrgID, t.Name, t.SendTime.String(), t.Timezone, t.Weekdays.Names(), t.HoursOpen,
			questionsJSON, t.NextSend, t.Active,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating team: %w", err)
	}
	return created, nil
}

// GetByID retrieves a team by its primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Team, error) {
	t, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id).Scan(dest...)
	})
	if err != nil {
		return nil, wrapNoRows(err, "getting team by id")
	}
	return t, nil
}

// List returns the teams of an organization ordered by name. An empty orgID
// lists every team.
func (s *Store) List(ctx context.Context, orgID string) ([]*Team, error) {
	var rows pgx.Rows
	var err error
	if orgID == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY name, id`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+teamColumns+` FROM teams WHERE org_id = $1 ORDER BY name, id`, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	return collectTeams(rows)
}

// Update writes the editable team fields. next_send is written only when
// reschedule is set: otherwise the lifecycle owns it, along with next_report,
// and a stale value read before the update must not overwrite a claimed
// occurrence.
func (s *Store) Update(ctx context.Context, t *Team, reschedule bool) (*Team, error) {
	questionsJSON, err := json.Marshal(t.Questions)
	if err != nil {
		return nil, fmt.Errorf("marshaling questions: %w", err)
	}

	updated, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`UPDATE teams SET name = $2, send_time = $3::time, timezone = $4, days_of_week = $5,
			        hours_open = $6, questions = $7, next_send = CASE WHEN $10::boolean THEN $8::timestamptz ELSE next_send END,
			        active = $9, updated_at = now()
			 WHERE id = $1
			 RETURNING `+teamColumns,
			t.ID, t.Name, t.SendTime.String(), t.Timezone, t.Weekdays.Names(), t.HoursOpen,
			questionsJSON, t.NextSend, t.Active, reschedule,
		).Scan(dest...)
	})
	if err != nil {
		return nil, wrapNoRows(err, "updating team")
	}
	return updated, nil
}

// ListDueToOpen returns active teams whose next send is at or before now.
// Teams without active weekdays are never due. A non-empty ids restricts the
// result to those teams.
func (s *Store) ListDueToOpen(ctx context.Context, now time.Time, ids []string) ([]*Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams
		 WHERE active AND next_send <= $1 AND cardinality(days_of_week) > 0
		   AND (cardinality($2::text[]) = 0 OR id::text = ANY($2::text[]))
		 ORDER BY next_send, id`,
		now, nonNil(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("listing teams due to open: %w", err)
	}
	return collectTeams(rows)
}

// ListDueToClose returns teams with an open cycle whose close time is at or
// before now. Deactivated teams are included so their open cycle still closes.
func (s *Store) ListDueToClose(ctx context.Context, now time.Time, ids []string) ([]*Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams
		 WHERE next_report IS NOT NULL AND next_report <= $1
		   AND (cardinality($2::text[]) = 0 OR id::text = ANY($2::text[]))
		 ORDER BY next_report, id`,
		now, nonNil(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("listing teams due to close: %w", err)
	}
	return collectTeams(rows)
}

func collectTeams(rows pgx.Rows) ([]*Team, error) {
	defer rows.Close()
	var teams []*Team
	for rows.Next() {
		t, err := scanTeam(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating team rows: %w", err)
	}
	return teams, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// UpsertMember adds a user to a team, re-activating and updating an existing
// membership for the same user instead of creating a second one.
func (s *Store) UpsertMember(ctx context.Context, teamID string, in AddMemberInput, reportStatus bool) (*Member, error) {
	m, err := ScanMember(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO members (team_id, user_id, username, name, email, view_ratings, report_status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (team_id, user_id) DO UPDATE
			 SET username = EXCLUDED.username, name = EXCLUDED.name, email = EXCLUDED.email,
			     view_ratings = EXCLUDED.view_ratings, report_status = EXCLUDED.report_status,
			     active = true, updated_at = now()
			 RETURNING `+memberColumns,
			teamID, in.UserID, in.Username, in.Name, in.Email, in.ViewRatings, reportStatus,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("upserting member: %w", err)
	}
	return m, nil
}

// GetMember retrieves a member of the given team.
func (s *Store) GetMember(ctx context.Context, teamID, memberID string) (*Member, error) {
	m, err := ScanMember(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+memberColumns+` FROM members WHERE team_id = $1 AND id = $2`,
			teamID, memberID,
		).Scan(dest...)
	})
	if err != nil {
		return nil, wrapNoRows(err, "getting member")
	}
	return m, nil
}

// UpdateMember writes the member flags.
func (s *Store) UpdateMember(ctx context.Context, m *Member) (*Member, error) {
	updated, err := ScanMember(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`UPDATE members SET active = $3, view_ratings = $4, report_status = $5, updated_at = now()
			 WHERE team_id = $1 AND id = $2
			 RETURNING `+memberColumns,
			m.TeamID, m.ID, m.Active, m.ViewRatings, m.ReportStatus,
		).Scan(dest...)
	})
	if err != nil {
		return nil, wrapNoRows(err, "updating member")
	}
	return updated, nil
}

// ListMembers returns a team's members ordered by username. With activeOnly
// set, deactivated members are left out.
func (s *Store) ListMembers(ctx context.Context, teamID string, activeOnly bool) ([]*Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE team_id = $1 AND (active OR NOT $2)
		 ORDER BY username, id`,
		teamID, activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := ScanMember(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}
	return members, nil
}
