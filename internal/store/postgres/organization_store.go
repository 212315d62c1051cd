package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// OrganizationStore implements store.OrganizationStore using PostgreSQL.
// The registry is not tenant-scoped, so operations here run directly on the
// pool without an organization-bound transaction.
type OrganizationStore struct {
	pool *pgxpool.Pool
}

// NewOrganizationStore creates a new PostgreSQL-backed organization store.
// It shares the connection pool with other stores.
func NewOrganizationStore(pool *pgxpool.Pool) *OrganizationStore {
	return &OrganizationStore{
		pool: pool,
	}
}

const organizationColumns = `
	org_id, slug, domain, tier, status, settings, features,
	max_users, max_storage_bytes, max_api_calls, created_at, updated_at
`

// Create creates a new organization in status pending.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	if org.Status == "" {
		org.Status = models.OrgStatusPending
	}
	if org.Tier == "" {
		org.Tier = models.TierFree
	}
	now := time.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	query := `
		INSERT INTO organizations (` + organizationColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := s.pool.Exec(ctx, query,
		org.OrgID,
		org.Slug,
		org.Domain,
		org.Tier,
		org.Status,
		org.Settings,
		org.Features,
		org.UsageLimits.MaxUsers,
		org.UsageLimits.MaxStorageBytes,
		org.UsageLimits.MaxAPICalls,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationAlreadyExists
		}
		return fmt.Errorf("failed to create organization: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Str("slug", org.Slug).
		Msg("Created organization")

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE org_id = $1`

	return s.getOne(ctx, query, orgID)
}

// GetBySlug retrieves an organization by its unique slug.
func (s *OrganizationStore) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE slug = $1`

	return s.getOne(ctx, query, slug)
}

func (s *OrganizationStore) getOne(ctx context.Context, query string, arg any) (*models.Organization, error) {
	var org models.Organization
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&org.OrgID,
		&org.Slug,
		&org.Domain,
		&org.Tier,
		&org.Status,
		&org.Settings,
		&org.Features,
		&org.UsageLimits.MaxUsers,
		&org.UsageLimits.MaxStorageBytes,
		&org.UsageLimits.MaxAPICalls,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}

	return &org, nil
}

// Update persists changes to tier, domain, settings, features and limits.
// Status is deliberately absent from the SET list: lifecycle changes must go
// through UpdateStatus so the transition rules cannot be sidestepped.
func (s *OrganizationStore) Update(ctx context.Context, org *models.Organization) error {
	org.UpdatedAt = time.Now()

	query := `
		UPDATE organizations SET
			slug = $2,
			domain = $3,
			tier = $4,
			settings = $5,
			features = $6,
			max_users = $7,
			max_storage_bytes = $8,
			max_api_calls = $9,
			updated_at = $10
		WHERE org_id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		org.OrgID,
		org.Slug,
		org.Domain,
		org.Tier,
		org.Settings,
		org.Features,
		org.UsageLimits.MaxUsers,
		org.UsageLimits.MaxStorageBytes,
		org.UsageLimits.MaxAPICalls,
		org.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationAlreadyExists
		}
		return fmt.Errorf("failed to update organization: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrOrganizationNotFound
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Msg("Updated organization")

	return nil
}

// UpdateStatus transitions the organization's lifecycle status with
// compare-and-swap semantics: the update only applies while the current
// status still equals from, so concurrent transitions cannot interleave.
func (s *OrganizationStore) UpdateStatus(ctx context.Context, orgID uuid.UUID, from, to models.OrgStatus) error {
	if !models.CanTransition(from, to) {
		return store.ErrInvalidStatusTransition
	}

	query := `
		UPDATE organizations SET status = $3, updated_at = now()
		WHERE org_id = $1 AND status = $2
	`

	result, err := s.pool.Exec(ctx, query, orgID, from, to)
	if err != nil {
		return fmt.Errorf("failed to update organization status: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		// Either the organization doesn't exist or it is no longer in the
		// expected status. Distinguish the two for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE org_id = $1)`, orgID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check organization existence: %w", mapPostgresError(err))
		}
		if !exists {
			return store.ErrOrganizationNotFound
		}
		return store.ErrInvalidStatusTransition
	}

	log.Info().
		Str("org_id", orgID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Organization status transitioned")

	return nil
}

// DeleteCascade hard-deletes the organization. Every tenant-scoped table
// references organizations with ON DELETE CASCADE, so a single DELETE removes
// all dependent rows atomically. The cascade runs with referential integrity
// privileges and is not subject to row policies, which is exactly what a
// cross-table hard delete needs.
func (s *OrganizationStore) DeleteCascade(ctx context.Context, orgID uuid.UUID) error {
	query := `DELETE FROM organizations WHERE org_id = $1`

	result, err := s.pool.Exec(ctx, query, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrOrganizationNotFound
	}

	log.Info().
		Str("org_id", orgID.String()).
		Msg("Deleted organization and all dependent tenant data")

	return nil
}
