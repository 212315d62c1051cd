package tenant_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store/memory"
	"github.com/gannetcloud/tenantd/internal/tenant"
)

type resolverFixture struct {
	resolver *tenant.Resolver
	orgs     *memory.OrganizationStore
	billing  *memory.BillingAccountStore
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	billing := memory.NewBillingAccountStore()
	orgs := memory.NewOrganizationStore(billing)

	return &resolverFixture{
		resolver: tenant.NewResolver(orgs, billing),
		orgs:     orgs,
		billing:  billing,
	}
}

func (f *resolverFixture) createOrg(t *testing.T, slug string, status models.OrgStatus) uuid.UUID {
	t.Helper()

	orgID, err := uuid.NewV7()
	require.NoError(t, err)
	require.NoError(t, f.orgs.Create(context.Background(), &models.Organization{
		OrgID:  orgID,
		Slug:   slug,
		Status: status,
	}))

	return orgID
}

func TestResolveClaims(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)

	orgID := f.createOrg(t, "acme", models.OrgStatusActive)
	actorID, err := uuid.NewV7()
	require.NoError(t, err)

	t.Run("valid claim", func(t *testing.T) {
		resolved, err := f.resolver.ResolveClaims(ctx, orgID, actorID)
		require.NoError(t, err)
		require.Equal(t, orgID, resolved.OrgID)
		require.Equal(t, actorID, resolved.ActorID)
		require.Equal(t, tenant.SourceClaims, resolved.Source)
	})

	t.Run("zero org claim rejected", func(t *testing.T) {
		_, err := f.resolver.ResolveClaims(ctx, uuid.Nil, actorID)
		require.ErrorIs(t, err, tenant.ErrInvalidOrgClaim)
	})

	t.Run("unknown org rejected like a malformed claim", func(t *testing.T) {
		unknown, err := uuid.NewV7()
		require.NoError(t, err)

		_, err = f.resolver.ResolveClaims(ctx, unknown, actorID)
		require.ErrorIs(t, err, tenant.ErrInvalidOrgClaim)
	})

	t.Run("cancelled org rejected", func(t *testing.T) {
		cancelledID := f.createOrg(t, "gone", models.OrgStatusCancelled)

		_, err := f.resolver.ResolveClaims(ctx, cancelledID, actorID)
		require.ErrorIs(t, err, tenant.ErrOrganizationCancelled)
	})

	t.Run("suspended org still resolves", func(t *testing.T) {
		// Suspended organizations keep their data; reads and admin actions
		// remain possible, only serving is paused.
		suspendedID := f.createOrg(t, "paused", models.OrgStatusSuspended)

		resolved, err := f.resolver.ResolveClaims(ctx, suspendedID, actorID)
		require.NoError(t, err)
		require.Equal(t, suspendedID, resolved.OrgID)
	})
}

func TestResolveExternalAccount(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)

	orgID := f.createOrg(t, "acme", models.OrgStatusActive)

	accountID, err := uuid.NewV7()
	require.NoError(t, err)
	orgCtx := tenant.WithTenant(ctx, &tenant.Tenant{OrgID: orgID, Source: tenant.SourceClaims})
	require.NoError(t, f.billing.Create(orgCtx, &models.BillingAccount{
		BillingAccountID:  accountID,
		Provider:          "stripe",
		ProviderAccountID: "cus_123",
	}))

	t.Run("known reference", func(t *testing.T) {
		resolved, err := f.resolver.ResolveExternalAccount(ctx, "stripe", "cus_123")
		require.NoError(t, err)
		require.Equal(t, orgID, resolved.OrgID)
		require.Equal(t, uuid.Nil, resolved.ActorID)
		require.Equal(t, tenant.SourceWebhook, resolved.Source)
	})

	t.Run("unknown reference unresolved", func(t *testing.T) {
		_, err := f.resolver.ResolveExternalAccount(ctx, "stripe", "cus_missing")
		require.ErrorIs(t, err, tenant.ErrUnresolved)
	})

	t.Run("empty reference unresolved", func(t *testing.T) {
		_, err := f.resolver.ResolveExternalAccount(ctx, "stripe", "")
		require.ErrorIs(t, err, tenant.ErrUnresolved)
	})

	t.Run("cancelled org rejected", func(t *testing.T) {
		cancelledID := f.createOrg(t, "gone", models.OrgStatusCancelled)
		cancelledCtx := tenant.WithTenant(ctx, &tenant.Tenant{OrgID: cancelledID, Source: tenant.SourceClaims})

		cancelledAccount, err := uuid.NewV7()
		require.NoError(t, err)
		require.NoError(t, f.billing.Create(cancelledCtx, &models.BillingAccount{
			BillingAccountID:  cancelledAccount,
			Provider:          "stripe",
			ProviderAccountID: "cus_cancelled",
		}))

		_, err = f.resolver.ResolveExternalAccount(ctx, "stripe", "cus_cancelled")
		require.ErrorIs(t, err, tenant.ErrOrganizationCancelled)
	})
}
