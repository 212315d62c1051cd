package store

import (
	"context"
	"errors"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for principal store operations
var (
	ErrPrincipalNotFound      = errors.New("principal not found")
	ErrPrincipalAlreadyExists = errors.New("principal already exists")
)

// PrincipalStore manages user principals. Every operation is tenant-scoped:
// the organization id comes from the tenant context attached to ctx, never
// from the caller. A Create whose principal carries a different org id than
// the context is rejected as an isolation violation; a Get for a principal
// owned by another organization returns ErrPrincipalNotFound.
type PrincipalStore interface {
	// Create creates a principal in the context's organization.
	Create(ctx context.Context, principal *models.Principal) error

	// Get retrieves a principal by ID, filtered to the context's organization.
	Get(ctx context.Context, principalID uuid.UUID) (*models.Principal, error)

	// GetByEmail retrieves a principal by email within the context's
	// organization. Used by the provisioner's admin-bootstrap existence check.
	GetByEmail(ctx context.Context, email string) (*models.Principal, error)

	// List returns principals in the context's organization, paginated.
	// Soft-deleted principals are excluded unless opts.IncludeDeleted is set.
	List(ctx context.Context, opts ListOptions) ([]*models.Principal, error)

	// Update applies a partial update, filtered to the context's organization.
	Update(ctx context.Context, principal *models.Principal) error

	// SoftDelete marks the principal deleted without removing the row.
	SoftDelete(ctx context.Context, principalID uuid.UUID) error

	// HardDelete removes the row, filtered to the context's organization.
	HardDelete(ctx context.Context, principalID uuid.UUID) error
}
