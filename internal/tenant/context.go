package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors for tenant context resolution.
var (
	// ErrNoTenantContext is returned when an operation requires a tenant
	// context and none is attached to the unit of work.
	ErrNoTenantContext = errors.New("no tenant context")

	// ErrInvalidOrgClaim is returned when an authenticated principal carries
	// a missing or malformed organization claim.
	ErrInvalidOrgClaim = errors.New("missing or invalid organization claim")

	// ErrOrganizationCancelled is returned when the referenced organization
	// is in its terminal cancelled state.
	ErrOrganizationCancelled = errors.New("organization is cancelled")

	// ErrUnresolved is returned on the webhook path when no local resource
	// matches the external reference. The caller must log and discard the
	// event without attempting any tenant-scoped operation.
	ErrUnresolved = errors.New("tenant unresolved for external reference")
)

// Source records how a tenant context was derived.
type Source string

const (
	SourceClaims  Source = "claims"
	SourceWebhook Source = "webhook"
)

// Tenant is the resolved context for a single unit of work. It is valid only
// for the lifetime of one request or transaction and must never be cached or
// reused across requests; pooled connections are shared across unrelated
// tenants.
type Tenant struct {
	OrgID   uuid.UUID
	ActorID uuid.UUID // Acting principal, for audit trail; uuid.Nil for webhooks
	Source  Source
}

type contextKey int

const tenantContextKey contextKey = iota

// WithTenant attaches a resolved tenant to the context for one unit of work.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey, t)
}

// FromContext extracts the tenant from the context.
// Returns false if no tenant context is attached.
func FromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(tenantContextKey).(*Tenant)
	return t, ok
}

// OrgID returns the organization id for the current unit of work, failing
// closed with ErrNoTenantContext when none is attached.
func OrgID(ctx context.Context) (uuid.UUID, error) {
	t, ok := FromContext(ctx)
	if !ok || t == nil || t.OrgID == uuid.Nil {
		return uuid.Nil, ErrNoTenantContext
	}
	return t.OrgID, nil
}

// ActorID returns the acting principal id for audit purposes, or uuid.Nil
// when the unit of work has no principal (webhook-derived contexts).
func ActorID(ctx context.Context) uuid.UUID {
	t, ok := FromContext(ctx)
	if !ok || t == nil {
		return uuid.Nil
	}
	return t.ActorID
}
