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

// EnvironmentStore implements store.EnvironmentStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type EnvironmentStore struct {
	mu sync.RWMutex

	environments map[uuid.UUID]*models.Environment
}

// NewEnvironmentStore creates a new in-memory environment store.
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{
		environments: make(map[uuid.UUID]*models.Environment),
	}
}

func (s *EnvironmentStore) Create(ctx context.Context, env *models.Environment) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}
	if env.OrgID != uuid.Nil && env.OrgID != orgID {
		return store.ErrIsolationViolation
	}
	env.OrgID = orgID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.environments[env.EnvironmentID]; exists {
		return store.ErrEnvironmentAlreadyExists
	}

	now := time.Now()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	env.UpdatedAt = now
	if env.CreatedBy == uuid.Nil {
		env.CreatedBy = tenant.ActorID(ctx)
	}
	env.UpdatedBy = env.CreatedBy

	clone := *env
	s.environments[env.EnvironmentID] = &clone

	return nil
}

func (s *EnvironmentStore) Get(ctx context.Context, environmentID uuid.UUID) (*models.Environment, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.environments[environmentID]
	if !exists || e.OrgID != orgID {
		return nil, store.ErrEnvironmentNotFound
	}

	clone := *e
	return &clone, nil
}

func (s *EnvironmentStore) List(ctx context.Context, opts store.ListOptions) ([]*models.Environment, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Environment
	for _, e := range s.environments {
		if e.OrgID != orgID {
			continue
		}
		if e.DeletedAt != nil && !opts.IncludeDeleted {
			continue
		}
		clone := *e
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return paginate(result, opts), nil
}

func (s *EnvironmentStore) Update(ctx context.Context, env *models.Environment) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.environments[env.EnvironmentID]
	if !exists || current.OrgID != orgID {
		return store.ErrEnvironmentNotFound
	}

	env.OrgID = current.OrgID
	env.CreatedAt = current.CreatedAt
	env.CreatedBy = current.CreatedBy
	env.UpdatedAt = time.Now()
	if env.UpdatedBy == uuid.Nil {
		env.UpdatedBy = tenant.ActorID(ctx)
	}

	clone := *env
	s.environments[env.EnvironmentID] = &clone

	return nil
}

func (s *EnvironmentStore) SoftDelete(ctx context.Context, environmentID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.environments[environmentID]
	if !exists || e.OrgID != orgID {
		return store.ErrEnvironmentNotFound
	}

	now := time.Now()
	e.DeletedAt = &now
	e.UpdatedAt = now
	e.UpdatedBy = tenant.ActorID(ctx)

	return nil
}

func (s *EnvironmentStore) HardDelete(ctx context.Context, environmentID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.environments[environmentID]
	if !exists || e.OrgID != orgID {
		return store.ErrEnvironmentNotFound
	}

	delete(s.environments, environmentID)

	return nil
}

// DeleteByOrg removes every environment belonging to the organization.
func (s *EnvironmentStore) DeleteByOrg(orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.environments {
		if e.OrgID == orgID {
			delete(s.environments, id)
		}
	}
}
