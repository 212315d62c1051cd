package store

import (
	"context"

	"github.com/google/uuid"
)

// ProvisionStepStore tracks per-organization completion of provisioning
// steps so a failed provision can be resumed without re-running completed
// steps or duplicating side effects. Step tracking is registry-side
// bookkeeping, not tenant data.
type ProvisionStepStore interface {
	// MarkCompleted records that a step finished for the organization.
	// Marking an already-completed step is a no-op.
	MarkCompleted(ctx context.Context, orgID uuid.UUID, step string) error

	// Completed returns the set of steps already completed for the
	// organization.
	Completed(ctx context.Context, orgID uuid.UUID) (map[string]bool, error)
}
