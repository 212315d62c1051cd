package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/gannetcloud/tenantd/internal/auth"
	"github.com/gannetcloud/tenantd/internal/logger"
	"github.com/gannetcloud/tenantd/internal/provision"
	"github.com/gannetcloud/tenantd/internal/server"
	"github.com/gannetcloud/tenantd/internal/store"
	memorystore "github.com/gannetcloud/tenantd/internal/store/memory"
	postgresstore "github.com/gannetcloud/tenantd/internal/store/postgres"
	"github.com/gannetcloud/tenantd/internal/telemetry"
	"github.com/gannetcloud/tenantd/internal/tenant"
	"github.com/gannetcloud/tenantd/internal/webhook"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TENANTD_LISTEN"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"TENANTD_CORS_ORIGINS"`

	// Auth configuration
	JWTPublicKey string `help:"path to PEM-encoded ES256 public key for token verification" env:"TENANTD_JWT_PUBLIC_KEY"`

	// Webhook configuration
	WebhookSecret string `help:"shared secret for webhook signature verification" env:"TENANTD_WEBHOOK_SECRET"`

	// Operational modes
	Tracing bool `help:"enable telemetry" default:"false" env:"TENANTD_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"TENANTD_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string for the application role" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Telemetry is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "tenantd", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	if c.WebhookSecret == "" {
		return errors.New("webhook secret is required (--webhook-secret or TENANTD_WEBHOOK_SECRET)")
	}
	if len(c.WebhookSecret) < 32 {
		return errors.New("webhook secret must be at least 32 bytes (256 bits) for HMAC-SHA256")
	}

	if c.JWTPublicKey == "" {
		return errors.New("JWT public key is required (--jwt-public-key or TENANTD_JWT_PUBLIC_KEY)")
	}
	publicKeyPEM, err := os.ReadFile(c.JWTPublicKey)
	if err != nil {
		return fmt.Errorf("failed to read JWT public key: %w", err)
	}
	verifier, err := auth.NewVerifierFromPEM(string(publicKeyPEM))
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	stores, steps, err := c.createStores(ctx, log)
	if err != nil {
		return err
	}

	resolver := tenant.NewResolver(stores.Organizations, stores.Billing)
	provisioner := provision.New(stores.Organizations, stores.Principals, steps, nil, nil)
	processor := webhook.NewProcessor(stores.WebhookEvents, resolver, nil, []byte(c.WebhookSecret))

	srv := server.NewServer(stores, provisioner, processor, verifier, resolver, c.CORSOrigins)

	log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
	return configureHTTPServer(c.Listen, srv.Handler(log)).ListenAndServe()
}

// createStores builds the store set for the configured backend. The postgres
// path refuses to start unless the isolation self-check passes: serving
// tenant traffic through a role that bypasses row policies, or against
// tables without forced row security, silently voids one of the two
// isolation guards.
func (c *ServerCmd) createStores(ctx context.Context, log zerolog.Logger) (server.Stores, store.ProvisionStepStore, error) {
	switch c.StoreType {
	case "postgres":
		if err := c.PostgresStore.Validate(); err != nil {
			return server.Stores{}, nil, fmt.Errorf("failed to validate postgres flags: %w", err)
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return server.Stores{}, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		if err := postgresstore.VerifyIsolation(ctx, pool); err != nil {
			return server.Stores{}, nil, fmt.Errorf("isolation self-check failed, refusing to start: %w", err)
		}
		log.Info().Msg("Isolation self-check passed")
		log.Info().Msg("Using PostgreSQL stores")

		return server.Stores{
			Organizations: postgresstore.NewOrganizationStore(pool),
			Principals:    postgresstore.NewPrincipalStore(pool),
			Agents:        postgresstore.NewAgentStore(pool),
			Environments:  postgresstore.NewEnvironmentStore(pool),
			Billing:       postgresstore.NewBillingAccountStore(pool),
			WebhookEvents: postgresstore.NewWebhookEventStore(pool),
		}, postgresstore.NewProvisionStepStore(pool), nil

	default:
		principals := memorystore.NewPrincipalStore()
		agents := memorystore.NewAgentStore()
		environments := memorystore.NewEnvironmentStore()
		billing := memorystore.NewBillingAccountStore()
		orgs := memorystore.NewOrganizationStore(principals, agents, environments, billing)
		log.Info().Msg("Using in-memory stores")

		return server.Stores{
			Organizations: orgs,
			Principals:    principals,
			Agents:        agents,
			Environments:  environments,
			Billing:       billing,
			WebhookEvents: memorystore.NewWebhookEventStore(),
		}, memorystore.NewProvisionStepStore(), nil
	}
}
