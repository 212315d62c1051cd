package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/tenant"
)

func newOrg(t *testing.T, slug string) *models.Organization {
	t.Helper()

	orgID, err := uuid.NewV7()
	require.NoError(t, err)
	return &models.Organization{OrgID: orgID, Slug: slug}
}

func TestOrganizationStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create defaults to pending", func(t *testing.T) {
		s := NewOrganizationStore()
		org := newOrg(t, "acme")
		require.NoError(t, s.Create(ctx, org))

		got, err := s.Get(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusPending, got.Status)
	})

	t.Run("duplicate slug rejected", func(t *testing.T) {
		s := NewOrganizationStore()
		require.NoError(t, s.Create(ctx, newOrg(t, "acme")))

		err := s.Create(ctx, newOrg(t, "acme"))
		require.ErrorIs(t, err, store.ErrOrganizationAlreadyExists)
	})

	t.Run("get by slug", func(t *testing.T) {
		s := NewOrganizationStore()
		org := newOrg(t, "acme")
		require.NoError(t, s.Create(ctx, org))

		got, err := s.GetBySlug(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, org.OrgID, got.OrgID)

		_, err = s.GetBySlug(ctx, "nope")
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})

	t.Run("update cannot change status", func(t *testing.T) {
		s := NewOrganizationStore()
		org := newOrg(t, "acme")
		require.NoError(t, s.Create(ctx, org))

		org.Status = models.OrgStatusActive
		org.Domain = ptr("acme.example")
		require.NoError(t, s.Update(ctx, org))

		got, err := s.Get(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusPending, got.Status, "status changes must go through UpdateStatus")
		require.Equal(t, "acme.example", *got.Domain)
	})

	t.Run("status transitions are compare-and-swap", func(t *testing.T) {
		s := NewOrganizationStore()
		org := newOrg(t, "acme")
		require.NoError(t, s.Create(ctx, org))

		require.NoError(t, s.UpdateStatus(ctx, org.OrgID, models.OrgStatusPending, models.OrgStatusTrial))

		// Stale expected status loses the race.
		err := s.UpdateStatus(ctx, org.OrgID, models.OrgStatusPending, models.OrgStatusActive)
		require.ErrorIs(t, err, store.ErrInvalidStatusTransition)

		// Cancelled is terminal.
		require.NoError(t, s.UpdateStatus(ctx, org.OrgID, models.OrgStatusTrial, models.OrgStatusSuspended))
		require.NoError(t, s.UpdateStatus(ctx, org.OrgID, models.OrgStatusSuspended, models.OrgStatusCancelled))
		err = s.UpdateStatus(ctx, org.OrgID, models.OrgStatusCancelled, models.OrgStatusActive)
		require.ErrorIs(t, err, store.ErrInvalidStatusTransition)
	})

	t.Run("delete cascades across registered stores", func(t *testing.T) {
		principals := NewPrincipalStore()
		environments := NewEnvironmentStore()
		s := NewOrganizationStore(principals, environments)

		org := newOrg(t, "acme")
		require.NoError(t, s.Create(ctx, org))

		orgCtx := tenant.WithTenant(ctx, &tenant.Tenant{OrgID: org.OrgID, Source: tenant.SourceClaims})

		principalID, err := uuid.NewV7()
		require.NoError(t, err)
		require.NoError(t, principals.Create(orgCtx, &models.Principal{PrincipalID: principalID, Email: "a@acme.example"}))

		environmentID, err := uuid.NewV7()
		require.NoError(t, err)
		require.NoError(t, environments.Create(orgCtx, &models.Environment{EnvironmentID: environmentID, Name: "prod"}))

		require.NoError(t, s.DeleteCascade(ctx, org.OrgID))

		_, err = s.Get(ctx, org.OrgID)
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
		_, err = principals.Get(orgCtx, principalID)
		require.ErrorIs(t, err, store.ErrPrincipalNotFound)
		_, err = environments.Get(orgCtx, environmentID)
		require.ErrorIs(t, err, store.ErrEnvironmentNotFound)
	})
}

func ptr[T any](v T) *T {
	return &v
}
