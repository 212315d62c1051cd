package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventStore implements store.WebhookEventStore using PostgreSQL.
// Events arrive before tenant resolution, so this store is not tenant-scoped
// and runs directly on the pool.
type WebhookEventStore struct {
	pool *pgxpool.Pool
}

// NewWebhookEventStore creates a new PostgreSQL-backed webhook event store.
func NewWebhookEventStore(pool *pgxpool.Pool) *WebhookEventStore {
	return &WebhookEventStore{
		pool: pool,
	}
}

const webhookEventColumns = `
	event_id, provider, provider_event_id, fingerprint, event_type, payload,
	signature_valid, status, error, resolved_org_id, received_at, processed_at
`

// Record persists an event idempotently, keyed on its payload fingerprint.
// Provider retries deliver byte-identical payloads; ON CONFLICT DO NOTHING
// makes the second delivery a no-op and the existing event is returned so
// the caller can report the original outcome.
func (s *WebhookEventStore) Record(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if event.Status == "" {
		event.Status = models.WebhookEventReceived
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	query := `
		INSERT INTO webhook_events (` + webhookEventColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (fingerprint) DO NOTHING
	`

	result, err := s.pool.Exec(ctx, query,
		event.EventID,
		event.Provider,
		event.ProviderEventID,
		event.Fingerprint,
		event.EventType,
		event.Payload,
		event.SignatureValid,
		event.Status,
		event.Error,
		event.ResolvedOrgID,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to record webhook event: %w", mapPostgresError(err))
	}

	if result.RowsAffected() > 0 {
		return true, nil, nil
	}

	existing, err := s.getByFingerprint(ctx, event.Fingerprint)
	if err != nil {
		return false, nil, err
	}

	return false, existing, nil
}

// Get retrieves an event by ID.
func (s *WebhookEventStore) Get(ctx context.Context, eventID uuid.UUID) (*models.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE event_id = $1`

	return scanWebhookEvent(s.pool.QueryRow(ctx, query, eventID))
}

func (s *WebhookEventStore) getByFingerprint(ctx context.Context, fingerprint string) (*models.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE fingerprint = $1`

	return scanWebhookEvent(s.pool.QueryRow(ctx, query, fingerprint))
}

// MarkProcessed records the outcome of processing an event.
func (s *WebhookEventStore) MarkProcessed(ctx context.Context, eventID uuid.UUID, status models.WebhookEventStatus, resolvedOrgID *uuid.UUID, processingErr error) error {
	errText := ""
	if processingErr != nil {
		errText = processingErr.Error()
	}

	query := `
		UPDATE webhook_events SET
			status = $2,
			resolved_org_id = $3,
			error = $4,
			processed_at = now()
		WHERE event_id = $1
	`

	result, err := s.pool.Exec(ctx, query, eventID, status, resolvedOrgID, errText)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrWebhookEventNotFound
	}

	return nil
}

// ListDeadLettered returns dead-lettered events for manual review, oldest first.
func (s *WebhookEventStore) ListDeadLettered(ctx context.Context, opts store.ListOptions) ([]*models.WebhookEvent, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE status = $1
		ORDER BY received_at
		LIMIT $2 OFFSET $3
	`

	rows, err := s.pool.Query(ctx, query, models.WebhookEventDeadLettered, opts.EffectiveLimit(), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-lettered events: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}

	return events, nil
}

func scanWebhookEvent(row pgx.Row) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := row.Scan(
		&event.EventID,
		&event.Provider,
		&event.ProviderEventID,
		&event.Fingerprint,
		&event.EventType,
		&event.Payload,
		&event.SignatureValid,
		&event.Status,
		&event.Error,
		&event.ResolvedOrgID,
		&event.ReceivedAt,
		&event.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrWebhookEventNotFound
		}
		return nil, fmt.Errorf("failed to scan webhook event: %w", mapPostgresError(err))
	}
	return &event, nil
}
