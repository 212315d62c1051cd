package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProvisionStepStore implements store.ProvisionStepStore using PostgreSQL.
// Step tracking is registry-side bookkeeping, not tenant data, so it runs
// directly on the pool.
type ProvisionStepStore struct {
	pool *pgxpool.Pool
}

// NewProvisionStepStore creates a new PostgreSQL-backed provision step store.
func NewProvisionStepStore(pool *pgxpool.Pool) *ProvisionStepStore {
	return &ProvisionStepStore{
		pool: pool,
	}
}

// MarkCompleted records that a step finished for the organization.
// Marking an already-completed step is a no-op.
func (s *ProvisionStepStore) MarkCompleted(ctx context.Context, orgID uuid.UUID, step string) error {
	query := `
		INSERT INTO provision_steps (org_id, step) VALUES ($1, $2)
		ON CONFLICT (org_id, step) DO NOTHING
	`

	if _, err := s.pool.Exec(ctx, query, orgID, step); err != nil {
		return fmt.Errorf("failed to mark provision step completed: %w", mapPostgresError(err))
	}

	return nil
}

// Completed returns the set of steps already completed for the organization.
func (s *ProvisionStepStore) Completed(ctx context.Context, orgID uuid.UUID) (map[string]bool, error) {
	query := `SELECT step FROM provision_steps WHERE org_id = $1`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load provision steps: %w", mapPostgresError(err))
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var step string
		if err := rows.Scan(&step); err != nil {
			return nil, fmt.Errorf("failed to scan provision step: %w", err)
		}
		completed[step] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provision steps: %w", err)
	}

	return completed, nil
}
