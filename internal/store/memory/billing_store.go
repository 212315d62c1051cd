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

type externalRef struct {
	provider          string
	providerAccountID string
}

// BillingAccountStore implements store.BillingAccountStore using in-memory
// storage. This implementation is for testing only - data is lost on restart.
type BillingAccountStore struct {
	mu sync.RWMutex

	accounts map[uuid.UUID]*models.BillingAccount
	refs     map[externalRef]uuid.UUID // back-reference index -> org_id
}

// NewBillingAccountStore creates a new in-memory billing account store.
func NewBillingAccountStore() *BillingAccountStore {
	return &BillingAccountStore{
		accounts: make(map[uuid.UUID]*models.BillingAccount),
		refs:     make(map[externalRef]uuid.UUID),
	}
}

// Create creates a billing account and its external back-reference together.
func (s *BillingAccountStore) Create(ctx context.Context, account *models.BillingAccount) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}
	if account.OrgID != uuid.Nil && account.OrgID != orgID {
		return store.ErrIsolationViolation
	}
	account.OrgID = orgID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.BillingAccountID]; exists {
		return store.ErrBillingAccountAlreadyExists
	}
	ref := externalRef{provider: account.Provider, providerAccountID: account.ProviderAccountID}
	if _, exists := s.refs[ref]; exists {
		return store.ErrBillingAccountAlreadyExists
	}

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if account.CreatedBy == uuid.Nil {
		account.CreatedBy = tenant.ActorID(ctx)
	}
	account.UpdatedBy = account.CreatedBy

	clone := *account
	s.accounts[account.BillingAccountID] = &clone
	s.refs[ref] = orgID

	return nil
}

func (s *BillingAccountStore) Get(ctx context.Context, billingAccountID uuid.UUID) (*models.BillingAccount, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.accounts[billingAccountID]
	if !exists || a.OrgID != orgID {
		return nil, store.ErrBillingAccountNotFound
	}

	clone := *a
	return &clone, nil
}

func (s *BillingAccountStore) List(ctx context.Context, opts store.ListOptions) ([]*models.BillingAccount, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.BillingAccount
	for _, a := range s.accounts {
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

func (s *BillingAccountStore) Update(ctx context.Context, account *models.BillingAccount) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.accounts[account.BillingAccountID]
	if !exists || current.OrgID != orgID {
		return store.ErrBillingAccountNotFound
	}

	// The back-reference is immutable once written; webhook resolution
	// depends on it.
	account.Provider = current.Provider
	account.ProviderAccountID = current.ProviderAccountID

	account.OrgID = current.OrgID
	account.CreatedAt = current.CreatedAt
	account.CreatedBy = current.CreatedBy
	account.UpdatedAt = time.Now()
	if account.UpdatedBy == uuid.Nil {
		account.UpdatedBy = tenant.ActorID(ctx)
	}

	clone := *account
	s.accounts[account.BillingAccountID] = &clone

	return nil
}

func (s *BillingAccountStore) SoftDelete(ctx context.Context, billingAccountID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.accounts[billingAccountID]
	if !exists || a.OrgID != orgID {
		return store.ErrBillingAccountNotFound
	}

	now := time.Now()
	a.DeletedAt = &now
	a.UpdatedAt = now
	a.UpdatedBy = tenant.ActorID(ctx)

	return nil
}

func (s *BillingAccountStore) HardDelete(ctx context.Context, billingAccountID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.accounts[billingAccountID]
	if !exists || a.OrgID != orgID {
		return store.ErrBillingAccountNotFound
	}

	delete(s.refs, externalRef{provider: a.Provider, providerAccountID: a.ProviderAccountID})
	delete(s.accounts, billingAccountID)

	return nil
}

// ResolveOrgByExternalAccount maps an external account reference to its
// owning organization. This runs before any tenant context exists and reads
// only the back-reference index.
func (s *BillingAccountStore) ResolveOrgByExternalAccount(ctx context.Context, provider, providerAccountID string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgID, exists := s.refs[externalRef{provider: provider, providerAccountID: providerAccountID}]
	if !exists {
		return uuid.Nil, store.ErrExternalRefNotFound
	}

	return orgID, nil
}

// DeleteByOrg removes every billing account (and back-reference) belonging
// to the organization.
func (s *BillingAccountStore) DeleteByOrg(orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.accounts {
		if a.OrgID == orgID {
			delete(s.refs, externalRef{provider: a.Provider, providerAccountID: a.ProviderAccountID})
			delete(s.accounts, id)
		}
	}
}
