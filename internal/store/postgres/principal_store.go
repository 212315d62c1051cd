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

// PrincipalStore implements store.PrincipalStore using PostgreSQL.
//
// Every statement carries an explicit org_id predicate derived from the
// tenant context (the query-filter guard), and runs inside an
// organization-bound transaction so the row policies apply as well (the
// database guard). Either guard alone is sufficient to block a cross-tenant
// access; both must be subverted for data to leak.
type PrincipalStore struct {
	pool *pgxpool.Pool
}

// NewPrincipalStore creates a new PostgreSQL-backed principal store.
func NewPrincipalStore(pool *pgxpool.Pool) *PrincipalStore {
	return &PrincipalStore{
		pool: pool,
	}
}

const principalColumns = `
	principal_id, org_id, email, name, roles,
	created_by, updated_by, created_at, updated_at, deleted_at
`

// Create creates a principal in the context's organization.
func (s *PrincipalStore) Create(ctx context.Context, principal *models.Principal) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	// A caller-supplied organization id that disagrees with the context is
	// an isolation violation, not a value to silently correct.
	if principal.OrgID != uuid.Nil && principal.OrgID != orgID {
		return store.ErrIsolationViolation
	}
	principal.OrgID = orgID

	now := time.Now()
	if principal.CreatedAt.IsZero() {
		principal.CreatedAt = now
	}
	principal.UpdatedAt = now
	if principal.CreatedBy == uuid.Nil {
		principal.CreatedBy = tenant.ActorID(ctx)
	}
	principal.UpdatedBy = principal.CreatedBy

	query := `
		INSERT INTO principals (` + principalColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			principal.PrincipalID,
			principal.OrgID,
			principal.Email,
			principal.Name,
			principal.Roles,
			nilUUID(principal.CreatedBy),
			nilUUID(principal.UpdatedBy),
			principal.CreatedAt,
			principal.UpdatedAt,
			principal.DeletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrPrincipalAlreadyExists
			}
			return fmt.Errorf("failed to create principal: %w", mapPostgresError(err))
		}
		return nil
	})
}

// Get retrieves a principal by ID, filtered to the context's organization.
// A principal owned by another organization is reported as not found so
// resource existence does not leak across tenants.
func (s *PrincipalStore) Get(ctx context.Context, principalID uuid.UUID) (*models.Principal, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE principal_id = $1 AND org_id = $2
	`

	var principal *models.Principal
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		principal, err = scanPrincipal(tx.QueryRow(ctx, query, principalID, orgID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return principal, nil
}

// GetByEmail retrieves a non-deleted principal by email within the context's
// organization.
func (s *PrincipalStore) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE email = $1 AND org_id = $2 AND deleted_at IS NULL
	`

	var principal *models.Principal
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		principal, err = scanPrincipal(tx.QueryRow(ctx, query, email, orgID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return principal, nil
}

// List returns principals in the context's organization, paginated.
func (s *PrincipalStore) List(ctx context.Context, opts store.ListOptions) ([]*models.Principal, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE org_id = $1 AND (deleted_at IS NULL OR $2)
		ORDER BY created_at
		LIMIT $3 OFFSET $4
	`

	var principals []*models.Principal
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, orgID, opts.IncludeDeleted, opts.EffectiveLimit(), opts.Offset)
		if err != nil {
			return fmt.Errorf("failed to list principals: %w", mapPostgresError(err))
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPrincipal(rows)
			if err != nil {
				return err
			}
			principals = append(principals, p)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating principals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return principals, nil
}

// Update applies a partial update, filtered to the context's organization.
// org_id, created_at and created_by are never part of the SET list.
func (s *PrincipalStore) Update(ctx context.Context, principal *models.Principal) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	principal.UpdatedAt = time.Now()
	if principal.UpdatedBy == uuid.Nil {
		principal.UpdatedBy = tenant.ActorID(ctx)
	}

	query := `
		UPDATE principals SET
			email = $3,
			name = $4,
			roles = $5,
			updated_by = $6,
			updated_at = $7
		WHERE principal_id = $1 AND org_id = $2
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query,
			principal.PrincipalID,
			orgID,
			principal.Email,
			principal.Name,
			principal.Roles,
			nilUUID(principal.UpdatedBy),
			principal.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrPrincipalAlreadyExists
			}
			return fmt.Errorf("failed to update principal: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrPrincipalNotFound
		}
		return nil
	})
}

// SoftDelete marks the principal deleted without removing the row.
func (s *PrincipalStore) SoftDelete(ctx context.Context, principalID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE principals SET deleted_at = now(), updated_at = now(), updated_by = $3
		WHERE principal_id = $1 AND org_id = $2 AND deleted_at IS NULL
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query, principalID, orgID, nilUUID(tenant.ActorID(ctx)))
		if err != nil {
			return fmt.Errorf("failed to soft-delete principal: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrPrincipalNotFound
		}
		return nil
	})
}

// HardDelete removes the row, filtered to the context's organization.
func (s *PrincipalStore) HardDelete(ctx context.Context, principalID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	query := `DELETE FROM principals WHERE principal_id = $1 AND org_id = $2`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query, principalID, orgID)
		if err != nil {
			return fmt.Errorf("failed to delete principal: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrPrincipalNotFound
		}
		return nil
	})
}

func scanPrincipal(row pgx.Row) (*models.Principal, error) {
	var p models.Principal
	var createdBy, updatedBy *uuid.UUID
	err := row.Scan(
		&p.PrincipalID,
		&p.OrgID,
		&p.Email,
		&p.Name,
		&p.Roles,
		&createdBy,
		&updatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to scan principal: %w", mapPostgresError(err))
	}
	if createdBy != nil {
		p.CreatedBy = *createdBy
	}
	if updatedBy != nil {
		p.UpdatedBy = *updatedBy
	}
	return &p, nil
}

// nilUUID maps uuid.Nil to SQL NULL for nullable audit columns.
func nilUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
