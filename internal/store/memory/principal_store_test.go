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

func orgContext(t *testing.T) (context.Context, uuid.UUID) {
	t.Helper()

	orgID, err := uuid.NewV7()
	require.NoError(t, err)
	ctx := tenant.WithTenant(context.Background(), &tenant.Tenant{OrgID: orgID, Source: tenant.SourceClaims})
	return ctx, orgID
}

func createPrincipal(t *testing.T, s *PrincipalStore, ctx context.Context, email string) *models.Principal {
	t.Helper()

	principalID, err := uuid.NewV7()
	require.NoError(t, err)
	p := &models.Principal{PrincipalID: principalID, Email: email}
	require.NoError(t, s.Create(ctx, p))
	return p
}

func TestPrincipalStoreIsolation(t *testing.T) {
	s := NewPrincipalStore()
	ctxA, orgA := orgContext(t)
	ctxB, _ := orgContext(t)

	p := createPrincipal(t, s, ctxA, "a@acme.example")
	require.Equal(t, orgA, p.OrgID, "org id is stamped from the context")

	t.Run("cross-tenant get reports not found", func(t *testing.T) {
		_, err := s.Get(ctxB, p.PrincipalID)
		require.ErrorIs(t, err, store.ErrPrincipalNotFound)
	})

	t.Run("cross-tenant list is empty", func(t *testing.T) {
		list, err := s.List(ctxB, store.ListOptions{})
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("cross-tenant update reports not found", func(t *testing.T) {
		// Same signal as the postgres filter: the row's existence must not
		// leak through a different error for writes.
		hijack := *p
		hijack.Name = "hijacked"
		require.ErrorIs(t, s.Update(ctxB, &hijack), store.ErrPrincipalNotFound)
	})

	t.Run("cross-tenant delete reports not found", func(t *testing.T) {
		require.ErrorIs(t, s.SoftDelete(ctxB, p.PrincipalID), store.ErrPrincipalNotFound)
		require.ErrorIs(t, s.HardDelete(ctxB, p.PrincipalID), store.ErrPrincipalNotFound)
	})

	t.Run("mismatched org on create is a violation", func(t *testing.T) {
		principalID, err := uuid.NewV7()
		require.NoError(t, err)
		foreignOrg, err := uuid.NewV7()
		require.NoError(t, err)

		err = s.Create(ctxA, &models.Principal{PrincipalID: principalID, OrgID: foreignOrg, Email: "x@acme.example"})
		require.ErrorIs(t, err, store.ErrIsolationViolation)
	})

	t.Run("no tenant context fails closed", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.Get(ctx, p.PrincipalID)
		require.ErrorIs(t, err, tenant.ErrNoTenantContext)
		_, err = s.List(ctx, store.ListOptions{})
		require.ErrorIs(t, err, tenant.ErrNoTenantContext)
		require.ErrorIs(t, s.SoftDelete(ctx, p.PrincipalID), tenant.ErrNoTenantContext)
	})
}

func TestPrincipalStoreSoftDelete(t *testing.T) {
	s := NewPrincipalStore()
	ctx, _ := orgContext(t)

	p := createPrincipal(t, s, ctx, "a@acme.example")
	createPrincipal(t, s, ctx, "b@acme.example")

	require.NoError(t, s.SoftDelete(ctx, p.PrincipalID))

	t.Run("hidden from default list", func(t *testing.T) {
		list, err := s.List(ctx, store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("visible with include_deleted", func(t *testing.T) {
		list, err := s.List(ctx, store.ListOptions{IncludeDeleted: true})
		require.NoError(t, err)
		require.Len(t, list, 2)
	})

	t.Run("hidden from email lookup", func(t *testing.T) {
		_, err := s.GetByEmail(ctx, "a@acme.example")
		require.ErrorIs(t, err, store.ErrPrincipalNotFound)
	})
}

func TestPrincipalStorePagination(t *testing.T) {
	s := NewPrincipalStore()
	ctx, _ := orgContext(t)

	createPrincipal(t, s, ctx, "a@acme.example")
	createPrincipal(t, s, ctx, "b@acme.example")
	createPrincipal(t, s, ctx, "c@acme.example")

	page, err := s.List(ctx, store.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := s.List(ctx, store.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)

	empty, err := s.List(ctx, store.ListOptions{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, empty)
}
