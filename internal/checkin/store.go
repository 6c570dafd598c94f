package checkin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/teambeat/internal/team"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for cycles and submissions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const cycleColumns = `id, team_id, created_at, closes_at`

const submissionColumns = `s.id, s.cycle_id, s.member_id, s.answers, s.active, s.created_at, s.updated_at`

func scanCycle(scan func(dest ...any) error) (*team.Cycle, error) {
	c := &team.Cycle{}
	if err := scan(&c.ID, &c.TeamID, &c.CreatedAt, &c.ClosesAt); err != nil {
		return nil, err
	}
	return c, nil
}

// submissionDest returns scan targets for submissionColumns and a func that
// decodes the answers column once the row is scanned.
func submissionDest(s *team.Submission) ([]any, func() error) {
	var raw []byte
	dest := []any{&s.ID, &s.CycleID, &s.MemberID, &raw, &s.Active, &s.CreatedAt, &s.UpdatedAt}
	return dest, func() error {
		if raw == nil {
			s.Answers = nil
			return nil
		}
		if err := json.Unmarshal(raw, &s.Answers); err != nil {
			return fmt.Errorf("unmarshaling answers: %w", err)
		}
		return nil
	}
}

// OpenCycle claims the due occurrence and creates the cycle with one pending
// submission per reporting member, all in one transaction. It returns
// ErrAlreadyClaimed if next_send no longer equals p.DueSend or a cycle is
// already open.
func (s *Store) OpenCycle(ctx context.Context, p OpenParams) (*Opened, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning open transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE teams SET next_send = $3, next_report = $4, updated_at = now()
		 WHERE id = $1 AND next_send = $2 AND next_report IS NULL`,
		p.TeamID, p.DueSend, p.NextSend, p.ClosesAt,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming team schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyClaimed
	}

	cycle, err := scanCycle(func(dest ...any) error {
		return tx.QueryRow(ctx,
			`INSERT INTO cycles (team_id, created_at, closes_at) VALUES ($1, $2, $3)
			 RETURNING `+cycleColumns,
			p.TeamID, p.OpenedAt, p.ClosesAt,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating cycle: %w", err)
	}

	rows, err := tx.Query(ctx,
		`WITH s AS (
			INSERT INTO submissions (cycle_id, member_id)
			SELECT $1, id FROM members WHERE team_id = $2 AND active AND report_status
			RETURNING id, member_id
		)
		SELECT s.id, `+team.MemberColumns("m")+`
		FROM s JOIN members m ON m.id = s.member_id
		ORDER BY m.username, m.id`,
		cycle.ID, p.TeamID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating submissions: %w", err)
	}
	var invitations []Invitation
	for rows.Next() {
		var inv Invitation
		m, err := team.ScanMember(func(dest ...any) error {
			return rows.Scan(append([]any{&inv.SubmissionID}, dest...)...)
		})
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		inv.Member = *m
		invitations = append(invitations, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating submission rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing open transaction: %w", err)
	}
	return &Opened{Cycle: *cycle, Invitations: invitations}, nil
}

// LatestCycle returns the team's most recent cycle, or nil if it has none.
func (s *Store) LatestCycle(ctx context.Context, teamID string) (*team.Cycle, error) {
	c, err := scanCycle(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+cycleColumns+` FROM cycles WHERE team_id = $1
			 ORDER BY created_at DESC, id DESC LIMIT 1`, teamID,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest cycle: %w", err)
	}
	return c, nil
}

// CloseCycle clears next_report if it still equals dueAt and deactivates the
// cycle's submissions so their tokens stop working. An empty cycleID only
// clears the marker.
func (s *Store) CloseCycle(ctx context.Context, teamID string, dueAt time.Time, cycleID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning close transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE teams SET next_report = NULL, updated_at = now()
		 WHERE id = $1 AND next_report = $2`,
		teamID, dueAt,
	)
	if err != nil {
		return fmt.Errorf("claiming team report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}

	if cycleID != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE submissions SET active = false, updated_at = now() WHERE cycle_id = $1`,
			cycleID,
		); err != nil {
			return fmt.Errorf("deactivating submissions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing close transaction: %w", err)
	}
	return nil
}

// ListEntries returns a cycle's submissions with their members, ordered by
// username then member id.
func (s *Store) ListEntries(ctx context.Context, cycleID string) ([]team.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+submissionColumns+`, `+team.MemberColumns("m")+`
		 FROM submissions s JOIN members m ON m.id = s.member_id
		 WHERE s.cycle_id = $1
		 ORDER BY m.username, m.id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []team.Entry
	for rows.Next() {
		var e team.Entry
		subDest, decode := submissionDest(&e.Submission)
		m, err := team.ScanMember(func(dest ...any) error {
			return rows.Scan(append(subDest, dest...)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scanning entry row: %w", err)
		}
		if err := decode(); err != nil {
			return nil, err
		}
		e.Member = *m
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entry rows: %w", err)
	}
	return entries, nil
}

// GetSubmission loads a submission with its member and cycle.
func (s *Store) GetSubmission(ctx context.Context, id string) (*Record, error) {
	return s.getRecord(ctx, `s.id = $1`, id)
}

// GetSubmissionForUser loads a submission only if it belongs to userID.
func (s *Store) GetSubmissionForUser(ctx context.Context, userID, submissionID string) (*Record, error) {
	return s.getRecord(ctx, `s.id = $1 AND m.user_id = $2`, submissionID, userID)
}

func (s *Store) getRecord(ctx context.Context, where string, args ...any) (*Record, error) {
	rec := &Record{}
	subDest, decode := submissionDest(&rec.Submission)
	cycleDest := []any{&rec.Cycle.ID, &rec.Cycle.TeamID, &rec.Cycle.CreatedAt, &rec.Cycle.ClosesAt}

	m, err := team.ScanMember(func(dest ...any) error {
		all := append(append(subDest, cycleDest...), dest...)
		return s.pool.QueryRow(ctx,
			`SELECT `+submissionColumns+`, c.id, c.team_id, c.created_at, c.closes_at, `+team.MemberColumns("m")+`
			 FROM submissions s
			 JOIN cycles c ON c.id = s.cycle_id
			 JOIN members m ON m.id = s.member_id
			 WHERE `+where, args...,
		).Scan(all...)
	})
	if err != nil {
		if team.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting submission: %w", err)
	}
	if err := decode(); err != nil {
		return nil, err
	}
	rec.Member = *m
	return rec, nil
}

// SaveAnswers merges answers over the stored ones. It returns ErrNotFound if
// the submission is missing or no longer active.
func (s *Store) SaveAnswers(ctx context.Context, id string, answers team.Answers) (*team.Submission, error) {
	payload, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("marshaling answers: %w", err)
	}

	var sub team.Submission
	dest, decode := submissionDest(&sub)
	err = s.pool.QueryRow(ctx,
		`UPDATE submissions s SET answers = COALESCE(s.answers, '{}'::jsonb) || $2::jsonb, updated_at = now()
		 WHERE s.id = $1 AND s.active
		 RETURNING `+submissionColumns,
		id, string(payload),
	).Scan(dest...)
	if err != nil {
		if team.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("saving answers: %w", err)
	}
	if err := decode(); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetCycle retrieves a cycle by id.
func (s *Store) GetCycle(ctx context.Context, id string) (*team.Cycle, error) {
	c, err := scanCycle(func(dest ...any) error {
		return s.pool.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = $1`, id).Scan(dest...)
	})
	if err != nil {
		if team.IsNoRows(err) {
			return nil, fmt.Errorf("getting cycle: %w", team.ErrNotFound)
		}
		return nil, fmt.Errorf("getting cycle: %w", err)
	}
	return c, nil
}

// ListCycles returns a page of a team's cycles, newest first, and the cursor
// for the next page (empty when there are no more).
func (s *Store) ListCycles(ctx context.Context, teamID string, limit int, cursor string) ([]*team.Cycle, string, error) {
	if limit <= 0 {
		limit = PageSize
	}

	where := `team_id = $1`
	args := []any{teamID}
	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		where += ` AND (created_at, id) < ($2, $3::uuid)`
		args = append(args, ts, id)
	}
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx,
		`SELECT `+cycleColumns+` FROM cycles WHERE `+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)),
		args...,
	)
	if err != nil {
		return nil, "", fmt.Errorf("listing cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*team.Cycle
	for rows.Next() {
		c, err := scanCycle(rows.Scan)
		if err != nil {
			return nil, "", fmt.Errorf("scanning cycle row: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating cycle rows: %w", err)
	}

	var next string
	if len(cycles) > limit {
		last := cycles[limit-1]
		next = encodeCursor(last.CreatedAt, last.ID)
		cycles = cycles[:limit]
	}
	return cycles, next, nil
}

// OpenForUser lists the open cycles in which userID is an active member with
// an active submission.
func (s *Store) OpenForUser(ctx context.Context, userID string, now time.Time) ([]OpenItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.name, c.id, s.id, m.id, t.next_report, s.answers IS NOT NULL
		 FROM members m
		 JOIN teams t ON t.id = m.team_id
		 JOIN LATERAL (
			SELECT id FROM cycles WHERE team_id = t.id ORDER BY created_at DESC, id DESC LIMIT 1
		 ) c ON true
		 JOIN submissions s ON s.cycle_id = c.id AND s.member_id = m.id
		 WHERE m.user_id = $1 AND m.active AND s.active
		   AND t.next_report IS NOT NULL AND t.next_report > $2
		 ORDER BY t.name, t.id`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing open cycles: %w", err)
	}
	defer rows.Close()

	var items []OpenItem
	for rows.Next() {
		var it OpenItem
		if err := rows.Scan(&it.TeamID, &it.TeamName, &it.CycleID, &it.SubmissionID, &it.MemberID,
			&it.ClosesAt, &it.Answered); err != nil {
			return nil, fmt.Errorf("scanning open cycle row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating open cycle rows: %w", err)
	}
	return items, nil
}

// encodeCursor encodes a creation time and id into an opaque cursor.
func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor decodes an opaque cursor into a creation time and id.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return t, id, nil
}
