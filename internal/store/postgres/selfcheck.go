package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Errors returned by VerifyIsolation. All of them are fatal: the server must
// refuse to start when the row-policy guard cannot be relied on.
var (
	// ErrPrivilegedRole indicates the pool's role is a superuser or carries
	// BYPASSRLS. Such roles silently skip row policies, reducing isolation to
	// the query-filter guard alone.
	ErrPrivilegedRole = errors.New("database role bypasses row security")

	// ErrRowSecurityDisabled indicates a tenant-scoped table is missing
	// ENABLE or FORCE ROW LEVEL SECURITY.
	ErrRowSecurityDisabled = errors.New("row security not enforced on tenant table")

	// ErrIsolationProbeFailed indicates the live cross-tenant probe saw rows
	// it should not have.
	ErrIsolationProbeFailed = errors.New("row policy failed cross-tenant probe")
)

// tenantTables is the set of tables that must carry forced row security.
var tenantTables = []string{"principals", "environments", "agent_instances", "billing_accounts"}

// VerifyIsolation confirms at startup that the database-level isolation
// guard is actually in force for the connected role. The query-filter guard
// lives in application code and is exercised by tests; the row-policy guard
// depends on runtime database state (role attributes, table settings) that
// can drift underneath a correct binary, so it is re-verified on every boot.
//
// Three checks, all fatal on failure:
//
//  1. the connected role is not a superuser and does not carry BYPASSRLS
//  2. every tenant-scoped table has row security enabled AND forced
//  3. a live probe in a rolled-back transaction confirms that rows written
//     under one organization binding are invisible under another
func VerifyIsolation(ctx context.Context, pool *pgxpool.Pool) error {
	if err := checkRole(ctx, pool); err != nil {
		return err
	}
	if err := checkTableSecurity(ctx, pool); err != nil {
		return err
	}
	if err := probeCrossTenant(ctx, pool); err != nil {
		return err
	}

	log.Info().Msg("Row security isolation verified")
	return nil
}

func checkRole(ctx context.Context, pool *pgxpool.Pool) error {
	var rolsuper, rolbypassrls bool
	err := pool.QueryRow(ctx, `
		SELECT rolsuper, rolbypassrls FROM pg_roles WHERE rolname = current_user
	`).Scan(&rolsuper, &rolbypassrls)
	if err != nil {
		return fmt.Errorf("failed to inspect current role: %w", err)
	}

	if rolsuper || rolbypassrls {
		return fmt.Errorf("%w: superuser=%t bypassrls=%t", ErrPrivilegedRole, rolsuper, rolbypassrls)
	}

	return nil
}

func checkTableSecurity(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range tenantTables {
		var enabled, forced bool
		err := pool.QueryRow(ctx, `
			SELECT relrowsecurity, relforcerowsecurity
			FROM pg_class
			WHERE oid = to_regclass($1)
		`, table).Scan(&enabled, &forced)
		if err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", table, err)
		}

		if !enabled || !forced {
			return fmt.Errorf("%w: table=%s enabled=%t forced=%t", ErrRowSecurityDisabled, table, enabled, forced)
		}
	}

	return nil
}

// probeCrossTenant writes a probe row under one organization binding and
// reads it back under another, entirely inside a transaction that is rolled
// back. The probe deliberately omits the explicit org_id filter so that the
// row policy is the only thing standing between the two organizations.
func probeCrossTenant(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin probe transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // probe is always rolled back

	orgA, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate probe org id: %w", err)
	}
	orgB, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate probe org id: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO organizations (org_id, slug) VALUES ($1, $2)
	`, orgA, "rls-probe-"+orgA.String()); err != nil {
		return fmt.Errorf("failed to insert probe organization: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_org', $1, true)`, orgA.String()); err != nil {
		return fmt.Errorf("failed to bind probe context: %w", err)
	}

	envID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate probe environment id: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO environments (environment_id, org_id, name) VALUES ($1, $2, 'rls-probe')
	`, envID, orgA); err != nil {
		return fmt.Errorf("failed to insert probe row: %w", err)
	}

	var count int

	// Under the other organization's binding the probe row must be invisible.
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_org', $1, true)`, orgB.String()); err != nil {
		return fmt.Errorf("failed to rebind probe context: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM environments WHERE environment_id = $1`, envID).Scan(&count); err != nil {
		return fmt.Errorf("failed to run cross-tenant probe query: %w", err)
	}
	if count != 0 {
		return fmt.Errorf("%w: foreign context saw %d rows, want 0", ErrIsolationProbeFailed, count)
	}

	// And visible again under the owning organization's binding.
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_org', $1, true)`, orgA.String()); err != nil {
		return fmt.Errorf("failed to rebind probe context: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM environments WHERE environment_id = $1`, envID).Scan(&count); err != nil {
		return fmt.Errorf("failed to run owning-tenant probe query: %w", err)
	}
	if count != 1 {
		return fmt.Errorf("%w: owning context saw %d rows, want 1", ErrIsolationProbeFailed, count)
	}

	return nil
}
