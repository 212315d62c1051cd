package store

import (
	"context"
	"errors"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for webhook event store operations
var (
	ErrWebhookEventNotFound = errors.New("webhook event not found")
)

// WebhookEventStore records inbound third-party events. Events arrive
// before tenant resolution, so this store is not tenant-scoped; it serves
// as the audit trail and dead-letter queue for webhook processing.
type WebhookEventStore interface {
	// Record persists an event idempotently, keyed on its payload
	// fingerprint. Returns created=false with the existing event when the
	// same event was already recorded.
	Record(ctx context.Context, event *models.WebhookEvent) (created bool, existing *models.WebhookEvent, err error)

	// Get retrieves an event by ID.
	Get(ctx context.Context, eventID uuid.UUID) (*models.WebhookEvent, error)

	// MarkProcessed records the outcome of processing an event.
	MarkProcessed(ctx context.Context, eventID uuid.UUID, status models.WebhookEventStatus, resolvedOrgID *uuid.UUID, processingErr error) error

	// ListDeadLettered returns dead-lettered events for manual review.
	ListDeadLettered(ctx context.Context, opts ListOptions) ([]*models.WebhookEvent, error)
}
