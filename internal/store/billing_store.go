package store

import (
	"context"
	"errors"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for billing account store operations
var (
	ErrBillingAccountNotFound      = errors.New("billing account not found")
	ErrBillingAccountAlreadyExists = errors.New("billing account already exists")
	ErrExternalRefNotFound         = errors.New("external account reference not found")
)

// BillingAccountStore manages billing accounts and the external account
// back-references used by webhook tenant resolution.
//
// The tenant-scoped operations follow the same isolation contract as
// PrincipalStore. ResolveOrgByExternalAccount is the one deliberate
// exception: it runs BEFORE any tenant context exists, reading only the
// back-reference index written at account creation time. It never reads
// tenant-scoped data.
type BillingAccountStore interface {
	// Create creates a billing account in the context's organization and
	// records the external back-reference in the same atomic operation. If
	// the back-reference write fails the whole create fails; a billing
	// account without its back-reference would make all future webhook
	// resolution for it permanently impossible.
	Create(ctx context.Context, account *models.BillingAccount) error

	Get(ctx context.Context, billingAccountID uuid.UUID) (*models.BillingAccount, error)
	List(ctx context.Context, opts ListOptions) ([]*models.BillingAccount, error)
	Update(ctx context.Context, account *models.BillingAccount) error
	SoftDelete(ctx context.Context, billingAccountID uuid.UUID) error
	HardDelete(ctx context.Context, billingAccountID uuid.UUID) error

	// ResolveOrgByExternalAccount maps (provider, provider account id) to the
	// owning organization id. Returns ErrExternalRefNotFound when no local
	// account matches; the caller must fail closed.
	ResolveOrgByExternalAccount(ctx context.Context, provider, providerAccountID string) (uuid.UUID, error)
}
