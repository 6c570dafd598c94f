// Package entitlement answers whether an organization may run scheduled
// check-ins.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Checker reports whether orgID currently holds a valid entitlement.
type Checker interface {
	Entitled(ctx context.Context, orgID string) (bool, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, orgID string) (bool, error)

func (f CheckerFunc) Entitled(ctx context.Context, orgID string) (bool, error) { return f(ctx, orgID) }

// Always entitles every organization.
var Always Checker = CheckerFunc(func(context.Context, string) (bool, error) { return true, nil })

// Store checks credits rows in Postgres. Results are never cached.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Entitled reports whether the organization has a credit that has not expired
// and was not cancelled. Teams without an organization are never entitled.
func (s *Store) Entitled(ctx context.Context, orgID string) (bool, error) {
	if orgID == "" {
		return false, nil
	}
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM credits
			WHERE org_id = $1 AND expires_at >= $2 AND NOT cancelled
		)`, orgID, s.now(),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking entitlement: %w", err)
	}
	return ok, nil
}

// Grant records a credit for an organization, creating the organization if
// needed. It returns the organization id.
func (s *Store) Grant(ctx context.Context, orgName, level string, expiresAt time.Time) (string, error) {
	var orgID string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO organizations (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, orgName,
	).Scan(&orgID)
	if err != nil {
		return "", fmt.Errorf("upserting organization: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO credits (org_id, level, expires_at) VALUES ($1, $2, $3)`,
		orgID, level, expiresAt,
	); err != nil {
		return "", fmt.Errorf("inserting credit: %w", err)
	}
	return orgID, nil
}
