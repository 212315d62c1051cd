package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/tenant"
	"github.com/google/uuid"
)

// AgentStore implements store.AgentStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type AgentStore struct {
	mu sync.RWMutex

	agents map[uuid.UUID]*models.AgentInstance
}

// NewAgentStore creates a new in-memory agent instance store.
func NewAgentStore() *AgentStore {
	return &AgentStore{
		agents: make(map[uuid.UUID]*models.AgentInstance),
	}
}

func (s *AgentStore) Create(ctx context.Context, agent *models.AgentInstance) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}
	if agent.OrgID != uuid.Nil && agent.OrgID != orgID {
		return store.ErrIsolationViolation
	}
	agent.OrgID = orgID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agent.AgentID]; exists {
		return store.ErrAgentAlreadyExists
	}

	now := time.Now()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.CreatedBy == uuid.Nil {
		agent.CreatedBy = tenant.ActorID(ctx)
	}
	agent.UpdatedBy = agent.CreatedBy
	if agent.Status == "" {
		agent.Status = models.AgentStatusStopped
	}

	clone := *agent
	s.agents[agent.AgentID] = &clone

	return nil
}

func (s *AgentStore) Get(ctx context.Context, agentID uuid.UUID) (*models.AgentInstance, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.agents[agentID]
	if !exists || a.OrgID != orgID {
		return nil, store.ErrAgentNotFound
	}

	clone := *a
	return &clone, nil
}

func (s *AgentStore) List(ctx context.Context, opts store.ListOptions) ([]*models.AgentInstance, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.AgentInstance
	for _, a := range s.agents {
		if a.OrgID != orgID {
			continue
		}
		if a.DeletedAt != nil && !opts.IncludeDeleted {
			continue
		}
		clone := *a
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return paginate(result, opts), nil
}

func (s *AgentStore) Update(ctx context.Context, agent *models.AgentInstance) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.agents[agent.AgentID]
	if !exists || current.OrgID != orgID {
		return store.ErrAgentNotFound
	}

	agent.OrgID = current.OrgID
	agent.CreatedAt = current.CreatedAt
	agent.CreatedBy = current.CreatedBy
	agent.UpdatedAt = time.Now()
	if agent.UpdatedBy == uuid.Nil {
		agent.UpdatedBy = tenant.ActorID(ctx)
	}

	clone := *agent
	s.agents[agent.AgentID] = &clone

	return nil
}

func (s *AgentStore) SoftDelete(ctx context.Context, agentID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.agents[agentID]
	if !exists || a.OrgID != orgID {
		return store.ErrAgentNotFound
	}

	now := time.Now()
	a.DeletedAt = &now
	a.UpdatedAt = now
	a.UpdatedBy = tenant.ActorID(ctx)

	return nil
}

func (s *AgentStore) HardDelete(ctx context.Context, agentID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.agents[agentID]
	if !exists || a.OrgID != orgID {
		return store.ErrAgentNotFound
	}

	delete(s.agents, agentID)

	return nil
}

// DeleteByOrg removes every agent instance belonging to the organization.
func (s *AgentStore) DeleteByOrg(orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.agents {
		if a.OrgID == orgID {
			delete(s.agents, id)
		}
	}
}
