package store

import (
	"context"
	"errors"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for organization store operations
var (
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrOrganizationAlreadyExists = errors.New("organization already exists")
	ErrInvalidStatusTransition   = errors.New("invalid organization status transition")
)

// OrganizationStore is the canonical registry of tenant identity, tier,
// status, settings and features. The registry itself is not tenant-scoped:
// it is what tenant contexts are resolved against, so lookups here happen
// before any context exists.
type OrganizationStore interface {
	// Create creates a new organization in status pending.
	// Returns ErrOrganizationAlreadyExists on duplicate id or slug.
	Create(ctx context.Context, org *models.Organization) error

	// Get retrieves an organization by ID.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// GetBySlug retrieves an organization by its unique slug.
	GetBySlug(ctx context.Context, slug string) (*models.Organization, error)

	// Update persists changes to tier, domain, settings, features and
	// limits. Settings maps are merged by the caller, never overwritten
	// here. Status changes must go through UpdateStatus.
	Update(ctx context.Context, org *models.Organization) error

	// UpdateStatus transitions the organization's lifecycle status.
	// Returns ErrInvalidStatusTransition for any transition not permitted
	// by the state machine; an illegal transition is a rejected operation,
	// never a silent no-op.
	UpdateStatus(ctx context.Context, orgID uuid.UUID, from, to models.OrgStatus) error

	// DeleteCascade hard-deletes the organization and every dependent
	// tenant-scoped row in a single atomic operation. Either the whole
	// cascade completes or nothing is deleted.
	DeleteCascade(ctx context.Context, orgID uuid.UUID) error
}
