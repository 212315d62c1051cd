package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/google/uuid"
)

// WebhookEventStore implements store.WebhookEventStore using in-memory
// storage. This implementation is for testing only - data is lost on restart.
// Webhook events are not tenant-scoped; see the interface for why.
type WebhookEventStore struct {
	mu sync.RWMutex

	events       map[uuid.UUID]*models.WebhookEvent
	fingerprints map[string]uuid.UUID
}

// NewWebhookEventStore creates a new in-memory webhook event store.
func NewWebhookEventStore() *WebhookEventStore {
	return &WebhookEventStore{
		events:       make(map[uuid.UUID]*models.WebhookEvent),
		fingerprints: make(map[string]uuid.UUID),
	}
}

// Record persists an event idempotently, keyed on its payload fingerprint.
func (s *WebhookEventStore) Record(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, exists := s.fingerprints[event.Fingerprint]; exists {
		clone := *s.events[existingID]
		return false, &clone, nil
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	if event.Status == "" {
		event.Status = models.WebhookEventReceived
	}

	clone := *event
	s.events[event.EventID] = &clone
	s.fingerprints[event.Fingerprint] = event.EventID

	return true, &clone, nil
}

// Get retrieves an event by ID.
func (s *WebhookEventStore) Get(ctx context.Context, eventID uuid.UUID) (*models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.events[eventID]
	if !exists {
		return nil, store.ErrWebhookEventNotFound
	}

	clone := *e
	return &clone, nil
}

// MarkProcessed records the outcome of processing an event.
func (s *WebhookEventStore) MarkProcessed(ctx context.Context, eventID uuid.UUID, status models.WebhookEventStatus, resolvedOrgID *uuid.UUID, processingErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[eventID]
	if !exists {
		return store.ErrWebhookEventNotFound
	}

	now := time.Now()
	e.Status = status
	e.ProcessedAt = &now
	e.ResolvedOrgID = resolvedOrgID
	if processingErr != nil {
		e.Error = processingErr.Error()
	}

	return nil
}

// ListDeadLettered returns dead-lettered events for manual review.
func (s *WebhookEventStore) ListDeadLettered(ctx context.Context, opts store.ListOptions) ([]*models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.WebhookEvent
	for _, e := range s.events {
		if e.Status != models.WebhookEventDeadLettered {
			continue
		}
		clone := *e
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.Before(result[j].ReceivedAt)
	})

	return paginate(result, opts), nil
}
