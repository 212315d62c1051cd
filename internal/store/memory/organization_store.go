package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/google/uuid"
)

// OrgCascader is implemented by tenant-scoped memory stores so that a hard
// organization delete can cascade across every resource type, mirroring the
// ON DELETE CASCADE foreign keys in the PostgreSQL schema.
type OrgCascader interface {
	DeleteByOrg(orgID uuid.UUID)
}

// OrganizationStore implements store.OrganizationStore using in-memory
// storage. This implementation is for testing only - data is lost on restart.
type OrganizationStore struct {
	mu sync.RWMutex

	organizations map[uuid.UUID]*models.Organization // org_id -> Organization
	slugs         map[string]uuid.UUID               // slug -> org_id
	cascaders     []OrgCascader
}

// NewOrganizationStore creates a new in-memory organization store. The given
// cascaders are invoked on hard delete, in order, while the registry lock is
// held so the cascade is atomic with respect to other registry operations.
func NewOrganizationStore(cascaders ...OrgCascader) *OrganizationStore {
	return &OrganizationStore{
		organizations: make(map[uuid.UUID]*models.Organization),
		slugs:         make(map[string]uuid.UUID),
		cascaders:     cascaders,
	}
}

// AddCascader registers an additional tenant-scoped store for cascade deletes.
func (s *OrganizationStore) AddCascader(c OrgCascader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cascaders = append(s.cascaders, c)
}

// Create creates a new organization in memory.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.organizations[org.OrgID]; exists {
		return store.ErrOrganizationAlreadyExists
	}
	if _, exists := s.slugs[org.Slug]; exists {
		return store.ErrOrganizationAlreadyExists
	}

	if org.Status == "" {
		org.Status = models.OrgStatusPending
	}
	now := time.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	clone := cloneOrganization(org)
	s.organizations[org.OrgID] = clone
	s.slugs[org.Slug] = org.OrgID

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	return cloneOrganization(org), nil
}

// GetBySlug retrieves an organization by its unique slug.
func (s *OrganizationStore) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgID, exists := s.slugs[slug]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	return cloneOrganization(s.organizations[orgID]), nil
}

// Update updates an existing organization. Status changes are ignored here;
// they must go through UpdateStatus.
func (s *OrganizationStore) Update(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.organizations[org.OrgID]
	if !exists {
		return store.ErrOrganizationNotFound
	}

	org.Status = current.Status
	org.CreatedAt = current.CreatedAt
	org.UpdatedAt = time.Now()

	if org.Slug != current.Slug {
		if _, taken := s.slugs[org.Slug]; taken {
			return store.ErrOrganizationAlreadyExists
		}
		delete(s.slugs, current.Slug)
		s.slugs[org.Slug] = org.OrgID
	}

	s.organizations[org.OrgID] = cloneOrganization(org)

	return nil
}

// UpdateStatus transitions the organization's lifecycle status with
// compare-and-swap semantics on the expected current status.
func (s *OrganizationStore) UpdateStatus(ctx context.Context, orgID uuid.UUID, from, to models.OrgStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return store.ErrOrganizationNotFound
	}

	if org.Status != from || !models.CanTransition(from, to) {
		return store.ErrInvalidStatusTransition
	}

	org.Status = to
	org.UpdatedAt = time.Now()

	return nil
}

// DeleteCascade hard-deletes the organization and every dependent
// tenant-scoped row across all registered cascaders.
func (s *OrganizationStore) DeleteCascade(ctx context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return store.ErrOrganizationNotFound
	}

	for _, c := range s.cascaders {
		c.DeleteByOrg(orgID)
	}

	delete(s.slugs, org.Slug)
	delete(s.organizations, orgID)

	return nil
}

func cloneOrganization(org *models.Organization) *models.Organization {
	clone := *org
	if org.Settings != nil {
		clone.Settings = make(map[string]any, len(org.Settings))
		for k, v := range org.Settings {
			clone.Settings[k] = v
		}
	}
	clone.Features = append([]string(nil), org.Features...)
	return &clone
}
