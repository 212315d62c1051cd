package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/tenant"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AgentStore implements store.AgentStore using PostgreSQL.
// See PrincipalStore for the two-guard isolation scheme; it is identical here.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore creates a new PostgreSQL-backed agent instance store.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{
		pool: pool,
	}
}

const agentColumns = `
	agent_id, org_id, environment_id, name, model, status, config,
	created_by, updated_by, created_at, updated_at, deleted_at
`

func (s *AgentStore) Create(ctx context.Context, agent *models.AgentInstance) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	if agent.OrgID != uuid.Nil && agent.OrgID != orgID {
		return store.ErrIsolationViolation
	}
	agent.OrgID = orgID

	if agent.Status == "" {
		agent.Status = models.AgentStatusStopped
	}
	now := time.Now()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.CreatedBy == uuid.Nil {
		agent.CreatedBy = tenant.ActorID(ctx)
	}
	agent.UpdatedBy = agent.CreatedBy

	query := `
		INSERT INTO agent_instances (` + agentColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			agent.AgentID,
			agent.OrgID,
			agent.EnvironmentID,
			agent.Name,
			agent.Model,
			agent.Status,
			agent.Config,
			nilUUID(agent.CreatedBy),
			nilUUID(agent.UpdatedBy),
			agent.CreatedAt,
			agent.UpdatedAt,
			agent.DeletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrAgentAlreadyExists
			}
			return fmt.Errorf("failed to create agent instance: %w", mapPostgresError(err))
		}
		return nil
	})
}

func (s *AgentStore) Get(ctx context.Context, agentID uuid.UUID) (*models.AgentInstance, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + agentColumns + `
		FROM agent_instances
		WHERE agent_id = $1 AND org_id = $2
	`

	var agent *models.AgentInstance
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		agent, err = scanAgent(tx.QueryRow(ctx, query, agentID, orgID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return agent, nil
}

func (s *AgentStore) List(ctx context.Context, opts store.ListOptions) ([]*models.AgentInstance, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + agentColumns + `
		FROM agent_instances
		WHERE org_id = $1 AND (deleted_at IS NULL OR $2)
		ORDER BY created_at
		LIMIT $3 OFFSET $4
	`

	var agents []*models.AgentInstance
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, orgID, opts.IncludeDeleted, opts.EffectiveLimit(), opts.Offset)
		if err != nil {
			return fmt.Errorf("failed to list agent instances: %w", mapPostgresError(err))
		}
		defer rows.Close()

		for rows.Next() {
			agent, err := scanAgent(rows)
			if err != nil {
				return err
			}
			agents = append(agents, agent)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating agent instances: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return agents, nil
}

func (s *AgentStore) Update(ctx context.Context, agent *models.AgentInstance) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	agent.UpdatedAt = time.Now()
	if agent.UpdatedBy == uuid.Nil {
		agent.UpdatedBy = tenant.ActorID(ctx)
	}

	query := `
		UPDATE agent_instances SET
			environment_id = $3,
			name = $4,
			model = $5,
			status = $6,
			config = $7,
			updated_by = $8,
			updated_at = $9
		WHERE agent_id = $1 AND org_id = $2
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query,
			agent.AgentID,
			orgID,
			agent.EnvironmentID,
			agent.Name,
			agent.Model,
			agent.Status,
			agent.Config,
			nilUUID(agent.UpdatedBy),
			agent.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update agent instance: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrAgentNotFound
		}
		return nil
	})
}

func (s *AgentStore) SoftDelete(ctx context.Context, agentID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE agent_instances SET deleted_at = now(), updated_at = now(), updated_by = $3
		WHERE agent_id = $1 AND org_id = $2 AND deleted_at IS NULL
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query, agentID, orgID, nilUUID(tenant.ActorID(ctx)))
		if err != nil {
			return fmt.Errorf("failed to soft-delete agent instance: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrAgentNotFound
		}
		return nil
	})
}

func (s *AgentStore) HardDelete(ctx context.Context, agentID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	query := `DELETE FROM agent_instances WHERE agent_id = $1 AND org_id = $2`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query, agentID, orgID)
		if err != nil {
			return fmt.Errorf("failed to delete agent instance: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrAgentNotFound
		}
		return nil
	})
}

func scanAgent(row pgx.Row) (*models.AgentInstance, error) {
	var agent models.AgentInstance
	var createdBy, updatedBy *uuid.UUID
	err := row.Scan(
		&agent.AgentID,
		&agent.OrgID,
		&agent.EnvironmentID,
		&agent.Name,
		&agent.Model,
		&agent.Status,
		&agent.Config,
		&createdBy,
		&updatedBy,
		&agent.CreatedAt,
		&agent.UpdatedAt,
		&agent.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to scan agent instance: %w", mapPostgresError(err))
	}
	if createdBy != nil {
		agent.CreatedBy = *createdBy
	}
	if updatedBy != nil {
		agent.UpdatedBy = *updatedBy
	}
	return &agent, nil
}
