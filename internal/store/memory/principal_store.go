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

// PrincipalStore implements store.PrincipalStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
//
// Isolation is enforced the same way as the PostgreSQL store's explicit
// query filter: every operation derives the organization id from the tenant
// context and fails closed without one. The memory store has no equivalent
// of the database row policy; that second guard exists only in PostgreSQL.
type PrincipalStore struct {
	mu sync.RWMutex

	principals map[uuid.UUID]*models.Principal // principal_id -> Principal
}

// NewPrincipalStore creates a new in-memory principal store.
func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{
		principals: make(map[uuid.UUID]*models.Principal),
	}
}

// Create creates a principal in the context's organization.
func (s *PrincipalStore) Create(ctx context.Context, principal *models.Principal) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	// A caller-supplied organization id that disagrees with the context is
	// an isolation violation, not a value to silently correct.
	if principal.OrgID != uuid.Nil && principal.OrgID != orgID {
		return store.ErrIsolationViolation
	}
	principal.OrgID = orgID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.principals[principal.PrincipalID]; exists {
		return store.ErrPrincipalAlreadyExists
	}

	now := time.Now()
	if principal.CreatedAt.IsZero() {
		principal.CreatedAt = now
	}
	principal.UpdatedAt = now
	if principal.CreatedBy == uuid.Nil {
		principal.CreatedBy = tenant.ActorID(ctx)
	}
	principal.UpdatedBy = principal.CreatedBy

	clone := *principal
	s.principals[principal.PrincipalID] = &clone

	return nil
}

// Get retrieves a principal by ID, filtered to the context's organization.
// A principal owned by another organization is reported as not found.
func (s *PrincipalStore) Get(ctx context.Context, principalID uuid.UUID) (*models.Principal, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.principals[principalID]
	if !exists || p.OrgID != orgID {
		return nil, store.ErrPrincipalNotFound
	}

	clone := *p
	return &clone, nil
}

// GetByEmail retrieves a principal by email within the context's organization.
func (s *PrincipalStore) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.principals {
		if p.OrgID == orgID && p.Email == email && p.DeletedAt == nil {
			clone := *p
			return &clone, nil
		}
	}

	return nil, store.ErrPrincipalNotFound
}

// List returns principals in the context's organization, paginated.
func (s *PrincipalStore) List(ctx context.Context, opts store.ListOptions) ([]*models.Principal, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Principal
	for _, p := range s.principals {
		if p.OrgID != orgID {
			continue
		}
		if p.DeletedAt != nil && !opts.IncludeDeleted {
			continue
		}
		clone := *p
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return paginate(result, opts), nil
}

// Update applies a partial update, filtered to the context's organization.
func (s *PrincipalStore) Update(ctx context.Context, principal *models.Principal) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.principals[principal.PrincipalID]
	if !exists || current.OrgID != orgID {
		return store.ErrPrincipalNotFound
	}

	principal.OrgID = current.OrgID
	principal.CreatedAt = current.CreatedAt
	principal.CreatedBy = current.CreatedBy
	principal.UpdatedAt = time.Now()
	if principal.UpdatedBy == uuid.Nil {
		principal.UpdatedBy = tenant.ActorID(ctx)
	}

	clone := *principal
	s.principals[principal.PrincipalID] = &clone

	return nil
}

// SoftDelete marks the principal deleted without removing the row.
func (s *PrincipalStore) SoftDelete(ctx context.Context, principalID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.principals[principalID]
	if !exists || p.OrgID != orgID {
		return store.ErrPrincipalNotFound
	}

	now := time.Now()
	p.DeletedAt = &now
	p.UpdatedAt = now
	p.UpdatedBy = tenant.ActorID(ctx)

	return nil
}

// HardDelete removes the row, filtered to the context's organization.
func (s *PrincipalStore) HardDelete(ctx context.Context, principalID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.principals[principalID]
	if !exists || p.OrgID != orgID {
		return store.ErrPrincipalNotFound
	}

	delete(s.principals, principalID)

	return nil
}

// DeleteByOrg removes every principal belonging to the organization.
// Invoked by the organization registry's cascade delete.
func (s *PrincipalStore) DeleteByOrg(orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.principals {
		if p.OrgID == orgID {
			delete(s.principals, id)
		}
	}
}

func paginate[T any](items []T, opts store.ListOptions) []T {
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if limit := opts.EffectiveLimit(); len(items) > limit {
		items = items[:limit]
	}
	return items
}
