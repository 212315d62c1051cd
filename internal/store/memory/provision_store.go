package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ProvisionStepStore implements store.ProvisionStepStore using in-memory
// storage. This implementation is for testing only - data is lost on restart.
type ProvisionStepStore struct {
	mu sync.RWMutex

	steps map[uuid.UUID]map[string]bool
}

// NewProvisionStepStore creates a new in-memory provision step store.
func NewProvisionStepStore() *ProvisionStepStore {
	return &ProvisionStepStore{
		steps: make(map[uuid.UUID]map[string]bool),
	}
}

// MarkCompleted records that a step finished for the organization.
func (s *ProvisionStepStore) MarkCompleted(ctx context.Context, orgID uuid.UUID, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.steps[orgID] == nil {
		s.steps[orgID] = make(map[string]bool)
	}
	s.steps[orgID][step] = true

	return nil
}

// Completed returns the set of steps already completed for the organization.
func (s *ProvisionStepStore) Completed(ctx context.Context, orgID uuid.UUID) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]bool, len(s.steps[orgID]))
	for step, done := range s.steps[orgID] {
		result[step] = done
	}

	return result, nil
}

// DeleteByOrg removes step tracking for the organization.
func (s *ProvisionStepStore) DeleteByOrg(orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.steps, orgID)
}
