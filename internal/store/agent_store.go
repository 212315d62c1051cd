package store

import (
	"context"
	"errors"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for agent instance store operations
var (
	ErrAgentNotFound      = errors.New("agent instance not found")
	ErrAgentAlreadyExists = errors.New("agent instance already exists")
)

// AgentStore manages agent instances. All operations are tenant-scoped via
// the context; see PrincipalStore for the isolation contract.
type AgentStore interface {
	Create(ctx context.Context, agent *models.AgentInstance) error
	Get(ctx context.Context, agentID uuid.UUID) (*models.AgentInstance, error)
	List(ctx context.Context, opts ListOptions) ([]*models.AgentInstance, error)
	Update(ctx context.Context, agent *models.AgentInstance) error
	SoftDelete(ctx context.Context, agentID uuid.UUID) error
	HardDelete(ctx context.Context, agentID uuid.UUID) error
}
