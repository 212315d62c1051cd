package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Resolver derives a validated tenant context from either an authenticated
// principal's claims or an external webhook back-reference. Both paths fail
// closed: the resolver never substitutes a default or "first available"
// organization.
type Resolver struct {
	orgs    store.OrganizationStore
	billing store.BillingAccountStore
}

// NewResolver creates a resolver backed by the organization registry and the
// billing account back-reference index.
func NewResolver(orgs store.OrganizationStore, billing store.BillingAccountStore) *Resolver {
	return &Resolver{
		orgs:    orgs,
		billing: billing,
	}
}

// ResolveClaims validates an organization claim from an authenticated
// principal and returns a tenant context for this unit of work.
//
// The claim is rejected if it is absent, if the organization does not exist,
// or if the organization is cancelled. The returned tenant must not be
// cached or reused across requests.
func (r *Resolver) ResolveClaims(ctx context.Context, orgID, actorID uuid.UUID) (*Tenant, error) {
	if orgID == uuid.Nil {
		return nil, ErrInvalidOrgClaim
	}

	org, err := r.orgs.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			// Same rejection as a malformed claim, no existence leak.
			return nil, ErrInvalidOrgClaim
		}
		return nil, fmt.Errorf("failed to validate organization claim: %w", err)
	}

	if org.IsCancelled() {
		return nil, ErrOrganizationCancelled
	}

	return &Tenant{
		OrgID:   org.OrgID,
		ActorID: actorID,
		Source:  SourceClaims,
	}, nil
}

// ResolveExternalAccount resolves tenant context for an inbound webhook
// event that carries no principal. It looks up the billing account
// back-reference that was stored when the account was created in response to
// an earlier authenticated action.
//
// Returns ErrUnresolved when no local account matches; the caller must log
// and discard the event without executing any tenant-scoped operation.
func (r *Resolver) ResolveExternalAccount(ctx context.Context, provider, providerAccountID string) (*Tenant, error) {
	if provider == "" || providerAccountID == "" {
		return nil, ErrUnresolved
	}

	orgID, err := r.billing.ResolveOrgByExternalAccount(ctx, provider, providerAccountID)
	if err != nil {
		if errors.Is(err, store.ErrExternalRefNotFound) {
			log.Warn().
				Str("provider", provider).
				Str("provider_account_id", providerAccountID).
				Msg("No local billing account for external reference")
			return nil, ErrUnresolved
		}
		return nil, fmt.Errorf("failed to resolve external account: %w", err)
	}

	org, err := r.orgs.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return nil, ErrUnresolved
		}
		return nil, fmt.Errorf("failed to load organization %s: %w", orgID, err)
	}

	if org.IsCancelled() {
		return nil, ErrOrganizationCancelled
	}

	return &Tenant{
		OrgID:  org.OrgID,
		Source: SourceWebhook,
	}, nil
}
