package provision

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gannetcloud/tenantd/internal/entitlements"
	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/store/memory"
	"github.com/gannetcloud/tenantd/internal/tenant"
)

type fixture struct {
	orgs       *memory.OrganizationStore
	principals *memory.PrincipalStore
	steps      *memory.ProvisionStepStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	principals := memory.NewPrincipalStore()
	return &fixture{
		orgs:       memory.NewOrganizationStore(principals),
		principals: principals,
		steps:      memory.NewProvisionStepStore(),
	}
}

func (f *fixture) createOrg(t *testing.T, tier models.Tier) uuid.UUID {
	t.Helper()

	orgID, err := uuid.NewV7()
	require.NoError(t, err)

	require.NoError(t, f.orgs.Create(context.Background(), &models.Organization{
		OrgID: orgID,
		Slug:  "org-" + orgID.String()[:8],
		Tier:  tier,
	}))

	return orgID
}

func orgCtx(orgID uuid.UUID) context.Context {
	return tenant.WithTenant(context.Background(), &tenant.Tenant{OrgID: orgID, Source: tenant.SourceClaims})
}

func TestProvision(t *testing.T) {
	ctx := context.Background()

	t.Run("full pipeline", func(t *testing.T) {
		f := newFixture(t)
		orgID := f.createOrg(t, models.TierProfessional)

		p := New(f.orgs, f.principals, f.steps, nil, nil)
		err := p.Provision(ctx, orgID, Options{
			AdminEmail: "admin@example.com",
			AdminName:  "Admin",
			Settings:   map[string]any{"session_timeout_mins": 30},
		})
		require.NoError(t, err)

		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusTrial, org.Status)
		require.Equal(t, entitlements.FeaturesForTier(models.TierProfessional), org.Features)
		require.Equal(t, entitlements.LimitsForTier(models.TierProfessional), org.UsageLimits)

		// Caller override wins, defaults fill the rest.
		require.Equal(t, 30, org.Settings["session_timeout_mins"])
		require.Equal(t, true, org.Settings["notifications_enabled"])

		admin, err := f.principals.GetByEmail(orgCtx(orgID), "admin@example.com")
		require.NoError(t, err)
		require.True(t, admin.IsAdmin())
	})

	t.Run("activate option", func(t *testing.T) {
		f := newFixture(t)
		orgID := f.createOrg(t, models.TierFree)

		p := New(f.orgs, f.principals, f.steps, nil, nil)
		require.NoError(t, p.Provision(ctx, orgID, Options{
			AdminEmail: "admin@example.com",
			Activate:   true,
		}))

		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusActive, org.Status)
	})

	t.Run("missing admin email rejected", func(t *testing.T) {
		f := newFixture(t)
		orgID := f.createOrg(t, models.TierFree)

		p := New(f.orgs, f.principals, f.steps, nil, nil)
		err := p.Provision(ctx, orgID, Options{})
		require.ErrorIs(t, err, ErrProvisionIncomplete)

		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusPending, org.Status)
	})

	t.Run("pre-existing settings survive", func(t *testing.T) {
		f := newFixture(t)
		orgID := f.createOrg(t, models.TierBasic)

		// Settings applied while the organization was still pending.
		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		org.Settings = map[string]any{
			"branding_color":       "#123456",
			"session_timeout_mins": 90,
		}
		require.NoError(t, f.orgs.Update(ctx, org))

		p := New(f.orgs, f.principals, f.steps, nil, nil)
		require.NoError(t, p.Provision(ctx, orgID, Options{
			AdminEmail: "admin@example.com",
			Settings:   map[string]any{"session_timeout_mins": 30},
		}))

		org, err = f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, "#123456", org.Settings["branding_color"], "settings set before provisioning must survive it")
		require.Equal(t, 30, org.Settings["session_timeout_mins"], "caller override beats the pre-existing value")
		require.Equal(t, true, org.Settings["notifications_enabled"])
	})

	t.Run("repeat call is a no-op", func(t *testing.T) {
		f := newFixture(t)
		orgID := f.createOrg(t, models.TierFree)

		p := New(f.orgs, f.principals, f.steps, nil, nil)
		opts := Options{AdminEmail: "admin@example.com"}
		require.NoError(t, p.Provision(ctx, orgID, opts))
		require.NoError(t, p.Provision(ctx, orgID, opts))

		list, err := f.principals.List(orgCtx(orgID), store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("unknown tier falls back to free", func(t *testing.T) {
		f := newFixture(t)
		orgID := f.createOrg(t, models.Tier("platinum"))

		p := New(f.orgs, f.principals, f.steps, nil, nil)
		require.NoError(t, p.Provision(ctx, orgID, Options{AdminEmail: "admin@example.com"}))

		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, entitlements.FeaturesForTier(models.TierFree), org.Features)
		require.Equal(t, entitlements.LimitsForTier(models.TierFree), org.UsageLimits)
	})

	t.Run("notification failure does not block activation", func(t *testing.T) {
		f := newFixture(t)
		orgID := f.createOrg(t, models.TierBasic)

		p := New(f.orgs, f.principals, f.steps, failingNotifier{}, nil)
		require.NoError(t, p.Provision(ctx, orgID, Options{AdminEmail: "admin@example.com"}))

		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusTrial, org.Status)
	})
}

func TestProvisionResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orgID := f.createOrg(t, models.TierBasic)

	// First run fails on the settings step, after the admin was created.
	flaky := &flakyOrgStore{OrganizationStore: f.orgs, failUpdates: 1}
	p := New(flaky, f.principals, f.steps, nil, nil)

	opts := Options{AdminEmail: "admin@example.com"}
	err := p.Provision(ctx, orgID, opts)
	require.ErrorIs(t, err, ErrProvisionIncomplete)

	org, err := f.orgs.Get(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, models.OrgStatusPending, org.Status, "partial failure must not activate")

	// Retry resumes from the failed step without duplicating the admin.
	require.NoError(t, p.Provision(ctx, orgID, opts))

	org, err = f.orgs.Get(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, models.OrgStatusTrial, org.Status)

	list, err := f.principals.List(orgCtx(orgID), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestProvisionConcurrentGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orgID := f.createOrg(t, models.TierFree)

	gate := make(chan struct{})
	blocking := &blockingOrgStore{OrganizationStore: f.orgs, gate: gate, entered: make(chan struct{})}
	p := New(blocking, f.principals, f.steps, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Provision(ctx, orgID, Options{AdminEmail: "admin@example.com"})
	}()

	<-blocking.entered
	err := p.Provision(ctx, orgID, Options{AdminEmail: "admin@example.com"})
	require.ErrorIs(t, err, ErrProvisionInProgress)

	close(gate)
	wg.Wait()
}

func TestDeprovision(t *testing.T) {
	ctx := context.Background()

	provisioned := func(t *testing.T, f *fixture, p *Provisioner) uuid.UUID {
		t.Helper()
		orgID := f.createOrg(t, models.TierBasic)
		require.NoError(t, p.Provision(ctx, orgID, Options{AdminEmail: "admin@example.com", Activate: true}))
		return orgID
	}

	t.Run("soft retains data", func(t *testing.T) {
		f := newFixture(t)
		p := New(f.orgs, f.principals, f.steps, nil, nil)
		orgID := provisioned(t, f, p)

		require.NoError(t, p.DeprovisionSoft(ctx, orgID))

		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusSuspended, org.Status)

		list, err := f.principals.List(orgCtx(orgID), store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1, "suspension must retain tenant data")
	})

	t.Run("hard requires suspended", func(t *testing.T) {
		f := newFixture(t)
		p := New(f.orgs, f.principals, f.steps, nil, nil)
		orgID := provisioned(t, f, p)

		err := p.DeprovisionHard(ctx, orgID)
		require.ErrorIs(t, err, ErrNotSuspended)
	})

	t.Run("hard cascades", func(t *testing.T) {
		f := newFixture(t)
		p := New(f.orgs, f.principals, f.steps, nil, nil)
		orgID := provisioned(t, f, p)

		require.NoError(t, p.DeprovisionSoft(ctx, orgID))
		require.NoError(t, p.DeprovisionHard(ctx, orgID))

		_, err := f.orgs.Get(ctx, orgID)
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)

		list, err := f.principals.List(orgCtx(orgID), store.ListOptions{IncludeDeleted: true})
		require.NoError(t, err)
		require.Empty(t, list, "cascade must remove all tenant rows")
	})

	t.Run("failed cascade stays suspended and retryable", func(t *testing.T) {
		f := newFixture(t)
		flaky := &flakyCascadeStore{OrganizationStore: f.orgs, failDeletes: 1}
		p := New(flaky, f.principals, f.steps, nil, nil)
		orgID := provisioned(t, f, p)

		require.NoError(t, p.DeprovisionSoft(ctx, orgID))
		require.Error(t, p.DeprovisionHard(ctx, orgID))

		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusSuspended, org.Status, "failed delete must not strand a terminal status")

		require.NoError(t, p.DeprovisionHard(ctx, orgID))
		_, err = f.orgs.Get(ctx, orgID)
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})

	t.Run("snapshot failure aborts delete", func(t *testing.T) {
		f := newFixture(t)
		p := New(f.orgs, f.principals, f.steps, nil, failingSnapshotter{})
		orgID := provisioned(t, f, p)

		require.NoError(t, p.DeprovisionSoft(ctx, orgID))
		require.Error(t, p.DeprovisionHard(ctx, orgID))

		org, err := f.orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, models.OrgStatusSuspended, org.Status)
	})
}

type failingNotifier struct{}

func (failingNotifier) NotifyProvisioned(ctx context.Context, org *models.Organization, adminEmail string) error {
	return errors.New("smtp unavailable")
}

type failingSnapshotter struct{}

func (failingSnapshotter) Snapshot(ctx context.Context, orgID uuid.UUID) error {
	return errors.New("object store unavailable")
}

// flakyOrgStore fails the next failUpdates calls to Update.
type flakyOrgStore struct {
	store.OrganizationStore
	failUpdates int
}

func (s *flakyOrgStore) Update(ctx context.Context, org *models.Organization) error {
	if s.failUpdates > 0 {
		s.failUpdates--
		return errors.New("transient store error")
	}
	return s.OrganizationStore.Update(ctx, org)
}

// flakyCascadeStore fails the next failDeletes calls to DeleteCascade.
type flakyCascadeStore struct {
	store.OrganizationStore
	failDeletes int
}

func (s *flakyCascadeStore) DeleteCascade(ctx context.Context, orgID uuid.UUID) error {
	if s.failDeletes > 0 {
		s.failDeletes--
		return errors.New("transient store error")
	}
	return s.OrganizationStore.DeleteCascade(ctx, orgID)
}

// blockingOrgStore signals on entered then blocks Get until gate closes,
// holding a provision run open so a second one can observe the guard.
type blockingOrgStore struct {
	store.OrganizationStore
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (s *blockingOrgStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	var first bool
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.gate
	}
	return s.OrganizationStore.Get(ctx, orgID)
}
