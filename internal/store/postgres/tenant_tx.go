package postgres

import (
	"context"
	"fmt"

	"github.com/gannetcloud/tenantd/internal/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// withOrgTx runs fn inside a transaction bound to the context's organization.
// The binding uses set_config with is_local=true, which is SET LOCAL
// semantics: it is visible only inside this transaction and cleared
// automatically on commit or rollback. Pooled connections are shared across
// unrelated tenants, so the binding must never outlive the transaction.
//
// The bound setting is what the row policies evaluate; together with the
// explicit org_id predicates in every query it forms the two independent
// isolation guards. Fails closed with tenant.ErrNoTenantContext when the
// context carries no tenant.
func withOrgTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_org', $1, true)`, orgID.String()); err != nil {
		return fmt.Errorf("failed to bind tenant context: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
