package deliverylog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the delivery log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const deliveryCols = 8

// BatchInsert writes deliveries in a single multi-row INSERT. It is a no-op
// when the slice is empty.
func (s *Store) BatchInsert(ctx context.Context, deliveries []Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	args := make([]any, 0, len(deliveries)*deliveryCols)
	rows := make([]string, 0, len(deliveries))
	for i, d := range deliveries {
		base := i * deliveryCols
		rows = append(rows, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args,
			string(d.Kind), d.TeamID, nullable(d.CycleID), nullable(d.MemberID),
			d.Recipient, d.Success, d.Error, d.Timestamp,
		)
	}

	query := `INSERT INTO deliveries
		(kind, team_id, cycle_id, member_id, recipient, success, error, timestamp)
		VALUES ` + strings.Join(rows, ", ")
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting deliveries: %w", err)
	}
	return nil
}

// ListByCycle returns a cycle's deliveries in the order they were attempted.
func (s *Store) ListByCycle(ctx context.Context, cycleID string) ([]*Delivery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, team_id, COALESCE(cycle_id::text, ''), COALESCE(member_id::text, ''),
		        recipient, success, error, timestamp
		 FROM deliveries WHERE cycle_id = $1
		 ORDER BY timestamp, id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var d Delivery
		var kind string
		if err := rows.Scan(&d.ID, &kind, &d.TeamID, &d.CycleID, &d.MemberID,
			&d.Recipient, &d.Success, &d.Error, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning delivery row: %w", err)
		}
		d.Kind = Kind(kind)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery rows: %w", err)
	}
	return out, nil
}

// Summarize counts a cycle's successful and failed deliveries.
func (s *Store) Summarize(ctx context.Context, cycleID string) (*Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN NOT success THEN 1 ELSE 0 END), 0)
		 FROM deliveries WHERE cycle_id = $1`, cycleID,
	).Scan(&sum.Sent, &sum.Failed)
	if err != nil {
		return nil, fmt.Errorf("summarizing deliveries: %w", err)
	}
	return &sum, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
