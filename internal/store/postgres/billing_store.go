package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/tenant"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// BillingAccountStore implements store.BillingAccountStore using PostgreSQL.
//
// Tenant-scoped operations follow the two-guard isolation scheme (see
// PrincipalStore). ResolveOrgByExternalAccount is the deliberate exception:
// it runs before any tenant context exists and reads only the non-RLS
// external_account_refs index.
type BillingAccountStore struct {
	pool *pgxpool.Pool
}

// NewBillingAccountStore creates a new PostgreSQL-backed billing account store.
func NewBillingAccountStore(pool *pgxpool.Pool) *BillingAccountStore {
	return &BillingAccountStore{
		pool: pool,
	}
}

const billingAccountColumns = `
	billing_account_id, org_id, provider, provider_account_id, subscription_id, plan,
	created_by, updated_by, created_at, updated_at, deleted_at
`

// Create creates a billing account and its external back-reference in the
// same transaction. The back-reference is what makes future webhooks for
// this provider account resolvable; losing it would silently orphan the
// account, so the two inserts succeed or fail together.
func (s *BillingAccountStore) Create(ctx context.Context, account *models.BillingAccount) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	if account.OrgID != uuid.Nil && account.OrgID != orgID {
		return store.ErrIsolationViolation
	}
	account.OrgID = orgID

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if account.CreatedBy == uuid.Nil {
		account.CreatedBy = tenant.ActorID(ctx)
	}
	account.UpdatedBy = account.CreatedBy

	accountQuery := `
		INSERT INTO billing_accounts (` + billingAccountColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`
	refQuery := `
		INSERT INTO external_account_refs (provider, provider_account_id, org_id)
		VALUES ($1, $2, $3)
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, accountQuery,
			account.BillingAccountID,
			account.OrgID,
			account.Provider,
			account.ProviderAccountID,
			account.SubscriptionID,
			account.Plan,
			nilUUID(account.CreatedBy),
			nilUUID(account.UpdatedBy),
			account.CreatedAt,
			account.UpdatedAt,
			account.DeletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrBillingAccountAlreadyExists
			}
			return fmt.Errorf("failed to create billing account: %w", mapPostgresError(err))
		}

		if _, err := tx.Exec(ctx, refQuery, account.Provider, account.ProviderAccountID, account.OrgID); err != nil {
			if isUniqueViolation(err) {
				return store.ErrBillingAccountAlreadyExists
			}
			return fmt.Errorf("failed to record external account reference: %w", mapPostgresError(err))
		}

		log.Debug().
			Str("org_id", account.OrgID.String()).
			Str("provider", account.Provider).
			Msg("Created billing account with external back-reference")

		return nil
	})
}

func (s *BillingAccountStore) Get(ctx context.Context, billingAccountID uuid.UUID) (*models.BillingAccount, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + billingAccountColumns + `
		FROM billing_accounts
		WHERE billing_account_id = $1 AND org_id = $2
	`

	var account *models.BillingAccount
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		account, err = scanBillingAccount(tx.QueryRow(ctx, query, billingAccountID, orgID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

func (s *BillingAccountStore) List(ctx context.Context, opts store.ListOptions) ([]*models.BillingAccount, error) {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + billingAccountColumns + `
		FROM billing_accounts
		WHERE org_id = $1 AND (deleted_at IS NULL OR $2)
		ORDER BY created_at
		LIMIT $3 OFFSET $4
	`

	var accounts []*models.BillingAccount
	err = withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, orgID, opts.IncludeDeleted, opts.EffectiveLimit(), opts.Offset)
		if err != nil {
			return fmt.Errorf("failed to list billing accounts: %w", mapPostgresError(err))
		}
		defer rows.Close()

		for rows.Next() {
			account, err := scanBillingAccount(rows)
			if err != nil {
				return err
			}
			accounts = append(accounts, account)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating billing accounts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

// Update applies a partial update. The provider and provider account id are
// immutable once written: the back-reference must keep matching what the
// external provider will send in webhooks.
func (s *BillingAccountStore) Update(ctx context.Context, account *models.BillingAccount) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	account.UpdatedAt = time.Now()
	if account.UpdatedBy == uuid.Nil {
		account.UpdatedBy = tenant.ActorID(ctx)
	}

	query := `
		UPDATE billing_accounts SET
			subscription_id = $3,
			plan = $4,
			updated_by = $5,
			updated_at = $6
		WHERE billing_account_id = $1 AND org_id = $2
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query,
			account.BillingAccountID,
			orgID,
			account.SubscriptionID,
			account.Plan,
			nilUUID(account.UpdatedBy),
			account.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update billing account: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrBillingAccountNotFound
		}
		return nil
	})
}

func (s *BillingAccountStore) SoftDelete(ctx context.Context, billingAccountID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE billing_accounts SET deleted_at = now(), updated_at = now(), updated_by = $3
		WHERE billing_account_id = $1 AND org_id = $2 AND deleted_at IS NULL
	`

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query, billingAccountID, orgID, nilUUID(tenant.ActorID(ctx)))
		if err != nil {
			return fmt.Errorf("failed to soft-delete billing account: %w", mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return store.ErrBillingAccountNotFound
		}
		return nil
	})
}

// HardDelete removes the billing account and its back-reference together.
func (s *BillingAccountStore) HardDelete(ctx context.Context, billingAccountID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	return withOrgTx(ctx, s.pool, func(tx pgx.Tx) error {
		var provider, providerAccountID string
		err := tx.QueryRow(ctx, `
			SELECT provider, provider_account_id FROM billing_accounts
			WHERE billing_account_id = $1 AND org_id = $2
		`, billingAccountID, orgID).Scan(&provider, &providerAccountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrBillingAccountNotFound
			}
			return fmt.Errorf("failed to look up billing account: %w", mapPostgresError(err))
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM billing_accounts WHERE billing_account_id = $1 AND org_id = $2
		`, billingAccountID, orgID); err != nil {
			return fmt.Errorf("failed to delete billing account: %w", mapPostgresError(err))
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM external_account_refs
			WHERE provider = $1 AND provider_account_id = $2 AND org_id = $3
		`, provider, providerAccountID, orgID); err != nil {
			return fmt.Errorf("failed to delete external account reference: %w", mapPostgresError(err))
		}

		return nil
	})
}

// ResolveOrgByExternalAccount maps (provider, provider account id) to the
// owning organization id. This runs before tenant resolution, on the
// non-RLS back-reference index only; it never touches tenant-scoped rows.
func (s *BillingAccountStore) ResolveOrgByExternalAccount(ctx context.Context, provider, providerAccountID string) (uuid.UUID, error) {
	query := `
		SELECT org_id FROM external_account_refs
		WHERE provider = $1 AND provider_account_id = $2
	`

	var orgID uuid.UUID
	err := s.pool.QueryRow(ctx, query, provider, providerAccountID).Scan(&orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, store.ErrExternalRefNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve external account: %w", mapPostgresError(err))
	}

	return orgID, nil
}

func scanBillingAccount(row pgx.Row) (*models.BillingAccount, error) {
	var account models.BillingAccount
	var createdBy, updatedBy *uuid.UUID
	err := row.Scan(
		&account.BillingAccountID,
		&account.OrgID,
		&account.Provider,
		&account.ProviderAccountID,
		&account.SubscriptionID,
		&account.Plan,
		&createdBy,
		&updatedBy,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrBillingAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan billing account: %w", mapPostgresError(err))
	}
	if createdBy != nil {
		account.CreatedBy = *createdBy
	}
	if updatedBy != nil {
		account.UpdatedBy = *updatedBy
	}
	return &account, nil
}
