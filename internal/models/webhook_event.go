package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventStatus tracks the processing outcome of an inbound event.
type WebhookEventStatus string

const (
	WebhookEventReceived     WebhookEventStatus = "received"
	WebhookEventProcessed    WebhookEventStatus = "processed"
	WebhookEventDiscarded    WebhookEventStatus = "discarded"
	WebhookEventDeadLettered WebhookEventStatus = "dead_lettered"
)

// WebhookEvent records an inbound third-party event. Events arrive before
// any tenant context exists, so this table is deliberately NOT tenant-scoped;
// it doubles as an audit trail and dead-letter queue for events whose
// external reference could not be resolved to a local billing account.
type WebhookEvent struct {
	EventID         uuid.UUID // UUIDv7
	Provider        string
	ProviderEventID string // Provider-assigned id, if present
	Fingerprint     string // base58(SHA-256(payload)), idempotency key
	EventType       string
	Payload         []byte
	SignatureValid  bool
	Status          WebhookEventStatus
	Error           string

	// Set only after successful tenant resolution, for audit.
	ResolvedOrgID *uuid.UUID

	ReceivedAt  time.Time
	ProcessedAt *time.Time
}
