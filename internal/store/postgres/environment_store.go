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

// EnvironmentStore implements store.EnvironmentStore using PostgreSQL.
// See PrincipalStore for the two-guard isolation scheme; it is identical here.
type EnvironmentStore struct {
	pool *pgxpool.Pool
}

// NewEnvironmentStore creates a new PostgreSQL-backed environment store.
func NewEnvironmentStore(pool *pgxpool.Pool) *EnvironmentStore {
	return &EnvironmentStore{
		pool: pool,
	}
}

const environmentColumns = `
	environment_id, org_id, name, config,
	created_by, updated_by, created_at, updated_at, deleted_at
`

func (s *EnvironmentStore) Create(ctx context.Context, env *models.Environment) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	if env.OrgID != uuid.Nil && env.OrgID != orgID {
		return store.ErrIsolationViolation
	}
	env.OrgID = orgID

	now := time.Now()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	env.UpdatedAt = now
	if env.CreatedBy == uuid.Nil {
		env.CreatedBy = tenant.ActorID(ctx)
	}
	env.UpdatedBy = env.CreatedBy

	query := `
		INSERT INTO environments (` + environmentColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			env.EnvironmentID,
			env.OrgID,
			env.Name,
			env.Config,
			nilUUID(env.CreatedBy),
			nilUUID(env.UpdatedBy),
			env.CreatedAt,
			env.UpdatedAt,
			env.DeletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrEnvironmentAlreadyExists
			}
			return fmt.Errorf("failed to create environment: %w", mapPostgresError(err))
		}
		return nil
	})
}

func (s *EnvironmentStore) Get(ctx context.Context, environmentID uuid.UUID) (*models.Environment, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + environmentColumns + `
		FROM environments
		WHERE environment_id = $1 AND org_id = $2
	`

	var env *models.Environment
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		env, err = scanEnvironment(tx.QueryRow(ctx, query, environmentID, orgID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return env, nil
}

func (s *EnvironmentStore) List(ctx context.Context, opts store.ListOptions) ([]*models.Environment, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + environmentColumns + `
		FROM environments
		WHERE org_id = $1 AND (deleted_at IS NULL OR $2)
		ORDER BY created_at
		LIMIT $3 OFFSET $4
	`

	var envs []*models.Environment
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, orgID, opts.IncludeDeleted, opts.EffectiveLimit(), opts.Offset)
		if err != nil {
			return fmt.Errorf("failed to list environments: %w", mapPostgresError(err))
		}
		defer rows.Close()

		for rows.Next() {
			env, err := scanEnvironment(rows)
			if err != nil {
				return err
			}
			envs = append(envs, env)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating environments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return envs, nil
}

func (s *EnvironmentStore) Update(ctx context.Context, env *models.Environment) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	env.UpdatedAt = time.Now()
	if env.UpdatedBy == uuid.Nil {
		env.UpdatedBy = tenant.ActorID(ctx)
	}

	query := `
		UPDATE environments SET
			name = $3,
			config = $4,
			updated_by = $5,
			updated_at = $6
		WHERE environment_id = $1 AND org_id = $2
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query,
			env.EnvironmentID,
			orgID,
			env.Name,
			env.Config,
			nilUUID(env.UpdatedBy),
			env.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update environment: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrEnvironmentNotFound
		}
		return nil
	})
}

func (s *EnvironmentStore) SoftDelete(ctx context.Context, environmentID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE environments SET deleted_at = now(), updated_at = now(), updated_by = $3
		WHERE environment_id = $1 AND org_id = $2 AND deleted_at IS NULL
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query, environmentID, orgID, nilUUID(tenant.ActorID(ctx)))
		if err != nil {
			return fmt.Errorf("failed to soft-delete environment: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrEnvironmentNotFound
		}
		return nil
	})
}

func (s *EnvironmentStore) HardDelete(ctx context.Context, environmentID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	query := `DELETE FROM environments WHERE environment_id = $1 AND org_id = $2`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query, environmentID, orgID)
		if err != nil {
			return fmt.Errorf("failed to delete environment: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrEnvironmentNotFound
		}
		return nil
	})
}

func scanEnvironment(row pgx.Row) (*models.Environment, error) {
	var env models.Environment
	var createdBy, updatedBy *uuid.UUID
	err := row.Scan(
		&env.EnvironmentID,
		&env.OrgID,
		&env.Name,
		&env.Config,
		&createdBy,
		&updatedBy,
		&env.CreatedAt,
		&env.UpdatedAt,
		&env.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEnvironmentNotFound
		}
		return nil, fmt.Errorf("failed to scan environment: %w", mapPostgresError(err))
	}
	if createdBy != nil {
		env.CreatedBy = *createdBy
	}
	if updatedBy != nil {
		env.UpdatedBy = *updatedBy
	}
	return &env, nil
}
