package models

import (
	"time"

	"github.com/google/uuid"
)

// BillingAccount links an organization to an external billing provider
// account. The provider account id is the back-reference used to resolve
// tenant context for inbound billing webhooks, which carry no auth context.
// It is written exactly once, when the account is created in response to an
// authenticated action; if it is never persisted, webhook resolution for
// this account is permanently impossible by design.
type BillingAccount struct {
	BillingAccountID uuid.UUID // UUIDv7
	OrgID            uuid.UUID // UUIDv7, FK to organizations, ON DELETE CASCADE

	Provider          string // e.g. "stripe"
	ProviderAccountID string // External customer id, unique per provider
	SubscriptionID    string // External subscription id
	Plan              string // Provider-side plan reference

	CreatedBy uuid.UUID
	UpdatedBy uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted returns true if the billing account has been soft-deleted.
func (b *BillingAccount) IsDeleted() bool {
	return b.DeletedAt != nil
}
