package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/gannetcloud/tenantd/internal/logger"
	postgresstore "github.com/gannetcloud/tenantd/internal/store/postgres"
)

// MigrateCmd runs the schema migrations. It takes its own connection string:
// migrations create tables and row policies, which needs a privileged role,
// while the server runs as a role the isolation self-check would reject for
// exactly those privileges.
type MigrateCmd struct {
	ConnString string `help:"PostgreSQL connection string for the migration role" env:"TENANTD_MIGRATE_CONNECTION_STRING"`
}

func (c *MigrateCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	if c.ConnString == "" {
		return errors.New("connection string is required (--conn-string or TENANTD_MIGRATE_CONNECTION_STRING)")
	}

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{ConnString: c.ConnString})
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	if err := postgresstore.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Migrations complete")
	return nil
}
