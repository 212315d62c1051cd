// Package provision implements the organization lifecycle workflows: the
// multi-step provisioning pipeline that takes a new organization from pending
// to serving, and the soft/hard deprovisioning paths.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gannetcloud/tenantd/internal/entitlements"
	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/telemetry"
	"github.com/gannetcloud/tenantd/internal/tenant"
)

// Provisioning step names, recorded per organization so a failed run can be
// resumed without repeating completed steps.
const (
	StepAdmin    = "admin"
	StepSettings = "settings"
	StepFeatures = "features"
	StepLimits   = "limits"
	StepNotify   = "notify"
)

// requiredSteps must all complete before the organization leaves pending.
// Notify is best-effort and deliberately not in this list.
var requiredSteps = []string{StepAdmin, StepSettings, StepFeatures, StepLimits}

// Errors returned by provisioning operations.
var (
	// ErrProvisionIncomplete indicates one or more required steps failed.
	// The organization stays pending; the call is safe to retry and will
	// resume from the first incomplete step.
	ErrProvisionIncomplete = errors.New("provisioning incomplete")

	// ErrProvisionInProgress indicates another provision run for the same
	// organization is already executing.
	ErrProvisionInProgress = errors.New("provisioning already in progress")

	// ErrAdminEmailRequired indicates admin bootstrap was requested without
	// an email address. Skipping the admin silently would leave an
	// organization nobody can administer.
	ErrAdminEmailRequired = errors.New("admin bootstrap requires an email address")

	// ErrNotSuspended indicates a hard deprovision was attempted on an
	// organization that is not suspended.
	ErrNotSuspended = errors.New("hard deprovision requires a suspended organization")
)

// defaultSettings is merged under caller-supplied settings for every new
// organization. Caller values always win.
var defaultSettings = map[string]any{
	"notifications_enabled": true,
	"session_timeout_mins":  60,
	"audit_retention_days":  90,
}

// Notifier sends the post-provisioning welcome notification. Delivery is
// best-effort: a failure is logged and recorded but never blocks activation.
type Notifier interface {
	NotifyProvisioned(ctx context.Context, org *models.Organization, adminEmail string) error
}

// Snapshotter exports an organization's data before a hard deprovision.
// Optional; when configured, a snapshot failure aborts the deletion.
type Snapshotter interface {
	Snapshot(ctx context.Context, orgID uuid.UUID) error
}

// Options controls a provisioning run.
type Options struct {
	// AdminEmail bootstraps the first admin principal. Required.
	AdminEmail string

	// AdminName is the display name for the bootstrapped admin.
	AdminName string

	// Settings are caller overrides merged over the defaults.
	Settings map[string]any

	// Activate moves the organization to active instead of trial once all
	// required steps complete.
	Activate bool
}

// Provisioner runs the organization provisioning and deprovisioning
// workflows. Runs are idempotent and resumable: each completed step is
// recorded, and a retry after a partial failure re-executes only the steps
// that have not completed.
type Provisioner struct {
	orgs       store.OrganizationStore
	principals store.PrincipalStore
	steps      store.ProvisionStepStore
	notifier   Notifier
	snapshots  Snapshotter

	// inflight holds a per-org marker preventing concurrent provision runs
	// for the same organization from interleaving half-applied state.
	inflight sync.Map
}

// New creates a provisioner. notifier and snapshots may be nil.
func New(orgs store.OrganizationStore, principals store.PrincipalStore, steps store.ProvisionStepStore, notifier Notifier, snapshots Snapshotter) *Provisioner {
	return &Provisioner{
		orgs:       orgs,
		principals: principals,
		steps:      steps,
		notifier:   notifier,
		snapshots:  snapshots,
	}
}

// Provision runs the provisioning pipeline for a pending organization:
// admin bootstrap, default settings, tier features, usage limits, welcome
// notification. On full success the organization transitions to trial (or
// active, per opts); on partial failure it stays pending and the call
// returns ErrProvisionIncomplete wrapping the step failure.
func (p *Provisioner) Provision(ctx context.Context, orgID uuid.UUID, opts Options) error {
	if _, loaded := p.inflight.LoadOrStore(orgID, struct{}{}); loaded {
		return ErrProvisionInProgress
	}
	defer p.inflight.Delete(orgID)

	started := time.Now()

	org, err := p.orgs.Get(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}

	if org.Status != models.OrgStatusPending {
		// Already provisioned; a repeat call is a no-op, not an error.
		log.Debug().
			Str("org_id", orgID.String()).
			Str("status", string(org.Status)).
			Msg("Organization already provisioned")
		return nil
	}

	completed, err := p.steps.Completed(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load provisioning progress: %w", err)
	}

	// Provisioning acts inside the new organization on its behalf.
	orgCtx := tenant.WithTenant(ctx, &tenant.Tenant{OrgID: orgID, Source: tenant.SourceClaims})

	runStep := func(step string, fn func() error) error {
		if completed[step] {
			return nil
		}
		if err := fn(); err != nil {
			return fmt.Errorf("step %s: %w", step, err)
		}
		if err := p.steps.MarkCompleted(ctx, orgID, step); err != nil {
			return fmt.Errorf("failed to record step %s: %w", step, err)
		}
		return nil
	}

	if err := runStep(StepAdmin, func() error {
		return p.bootstrapAdmin(orgCtx, opts)
	}); err != nil {
		return p.incomplete(orgID, err)
	}

	if err := runStep(StepSettings, func() error {
		return p.applySettings(ctx, org, opts.Settings)
	}); err != nil {
		return p.incomplete(orgID, err)
	}

	if err := runStep(StepFeatures, func() error {
		org.Features = entitlements.FeaturesForTier(org.Tier)
		return p.orgs.Update(ctx, org)
	}); err != nil {
		return p.incomplete(orgID, err)
	}

	if err := runStep(StepLimits, func() error {
		org.UsageLimits = entitlements.LimitsForTier(org.Tier)
		return p.orgs.Update(ctx, org)
	}); err != nil {
		return p.incomplete(orgID, err)
	}

	// All required steps done; the organization may start serving.
	target := models.OrgStatusTrial
	if opts.Activate {
		target = models.OrgStatusActive
	}
	if err := p.orgs.UpdateStatus(ctx, orgID, models.OrgStatusPending, target); err != nil {
		return fmt.Errorf("failed to activate organization: %w", err)
	}

	// Best-effort. Activation already happened and must not be rolled back
	// over a notification failure.
	if err := runStep(StepNotify, func() error {
		if p.notifier == nil {
			return nil
		}
		return p.notifier.NotifyProvisioned(ctx, org, opts.AdminEmail)
	}); err != nil {
		log.Warn().
			Err(err).
			Str("org_id", orgID.String()).
			Msg("Welcome notification failed")
	}

	telemetry.GetMetrics().ProvisionedTotal.Add(ctx, 1)
	telemetry.GetMetrics().ProvisionDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	log.Info().
		Str("org_id", orgID.String()).
		Str("slug", org.Slug).
		Str("tier", string(org.Tier)).
		Str("status", string(target)).
		Msg("Organization provisioned")

	return nil
}

func (p *Provisioner) bootstrapAdmin(orgCtx context.Context, opts Options) error {
	if opts.AdminEmail == "" {
		return ErrAdminEmailRequired
	}
	if _, err := mail.ParseAddress(opts.AdminEmail); err != nil {
		return fmt.Errorf("invalid admin email %q: %w", opts.AdminEmail, err)
	}

	// Resumed runs may have created the admin before the step record was
	// written; an existing principal with this email means the work is done.
	if _, err := p.principals.GetByEmail(orgCtx, opts.AdminEmail); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrPrincipalNotFound) {
		return fmt.Errorf("failed to check for existing admin: %w", err)
	}

	principalID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate principal id: %w", err)
	}

	return p.principals.Create(orgCtx, &models.Principal{
		PrincipalID: principalID,
		Email:       opts.AdminEmail,
		Name:        opts.AdminName,
		Roles:       []string{models.RoleAdmin},
	})
}

// applySettings merges in precedence order: caller overrides, then settings
// the organization already carries (set while pending, e.g. via PATCH), then
// defaults for whatever is still unset. mergo.Merge never replaces an
// existing key, so each later merge only fills gaps.
func (p *Provisioner) applySettings(ctx context.Context, org *models.Organization, overrides map[string]any) error {
	settings := map[string]any{}
	if err := mergo.Merge(&settings, overrides); err != nil {
		return fmt.Errorf("failed to merge settings overrides: %w", err)
	}
	if err := mergo.Merge(&settings, org.Settings); err != nil {
		return fmt.Errorf("failed to merge existing settings: %w", err)
	}
	if err := mergo.Merge(&settings, defaultSettings); err != nil {
		return fmt.Errorf("failed to merge default settings: %w", err)
	}

	org.Settings = settings
	return p.orgs.Update(ctx, org)
}

func (p *Provisioner) incomplete(orgID uuid.UUID, err error) error {
	telemetry.GetMetrics().ProvisionFailuresTotal.Add(context.Background(), 1)
	log.Error().
		Err(err).
		Str("org_id", orgID.String()).
		Msg("Provisioning step failed, organization stays pending")
	return fmt.Errorf("%w: %s", ErrProvisionIncomplete, err)
}

// DeprovisionSoft suspends the organization. All data is retained and the
// organization can be reactivated later.
func (p *Provisioner) DeprovisionSoft(ctx context.Context, orgID uuid.UUID) error {
	org, err := p.orgs.Get(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}

	if err := p.orgs.UpdateStatus(ctx, orgID, org.Status, models.OrgStatusSuspended); err != nil {
		return fmt.Errorf("failed to suspend organization: %w", err)
	}

	log.Info().
		Str("org_id", orgID.String()).
		Str("slug", org.Slug).
		Msg("Organization suspended")

	return nil
}

// DeprovisionHard permanently deletes a suspended organization and all its
// tenant data in one atomic cascade. When a snapshotter is
// configured, a snapshot failure aborts the deletion; losing the export is
// recoverable, losing the data is not.
func (p *Provisioner) DeprovisionHard(ctx context.Context, orgID uuid.UUID) error {
	org, err := p.orgs.Get(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}

	if org.Status != models.OrgStatusSuspended {
		return fmt.Errorf("%w: status is %s", ErrNotSuspended, org.Status)
	}

	if p.snapshots != nil {
		if err := p.snapshots.Snapshot(ctx, orgID); err != nil {
			return fmt.Errorf("failed to snapshot organization before delete: %w", err)
		}
	}

	// Deleted straight from suspended, no status flip first: a cancelled
	// organization with its data still present would be unreachable (the
	// suspended precondition above rejects it) and unresolvable. A failed
	// cascade leaves the organization suspended and this call retryable.
	if err := p.orgs.DeleteCascade(ctx, orgID); err != nil {
		return fmt.Errorf("failed to delete organization data: %w", err)
	}

	telemetry.GetMetrics().DeprovisionedTotal.Add(ctx, 1)

	log.Info().
		Str("org_id", orgID.String()).
		Str("slug", org.Slug).
		Msg("Organization hard-deleted with full cascade")

	return nil
}
