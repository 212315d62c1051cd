package models

import (
	"time"

	"github.com/google/uuid"
)

// Environment represents an isolated execution environment (e.g. staging,
// production) owned by an organization.
type Environment struct {
	EnvironmentID uuid.UUID // UUIDv7
	OrgID         uuid.UUID // UUIDv7, FK to organizations, ON DELETE CASCADE
	Name          string
	Config        map[string]any

	CreatedBy uuid.UUID
	UpdatedBy uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted returns true if the environment has been soft-deleted.
func (e *Environment) IsDeleted() bool {
	return e.DeletedAt != nil
}
