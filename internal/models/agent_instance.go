package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the runtime state of an agent instance.
type AgentStatus string

const (
	AgentStatusStopped AgentStatus = "stopped"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusFailed  AgentStatus = "failed"
)

// AgentInstance represents a deployed AI agent belonging to an organization.
type AgentInstance struct {
	AgentID       uuid.UUID // UUIDv7
	OrgID         uuid.UUID // UUIDv7, FK to organizations, ON DELETE CASCADE
	EnvironmentID *uuid.UUID
	Name          string
	Model         string
	Status        AgentStatus
	Config        map[string]any

	CreatedBy uuid.UUID
	UpdatedBy uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted returns true if the agent instance has been soft-deleted.
func (a *AgentInstance) IsDeleted() bool {
	return a.DeletedAt != nil
}
