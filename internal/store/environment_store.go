package store

import (
	"context"
	"errors"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for environment store operations
var (
	ErrEnvironmentNotFound      = errors.New("environment not found")
	ErrEnvironmentAlreadyExists = errors.New("environment already exists")
)

// EnvironmentStore manages execution environments. All operations are
// tenant-scoped via the context; see PrincipalStore for the isolation
// contract.
type EnvironmentStore interface {
	Create(ctx context.Context, env *models.Environment) error
	Get(ctx context.Context, environmentID uuid.UUID) (*models.Environment, error)
	List(ctx context.Context, opts ListOptions) ([]*models.Environment, error)
	Update(ctx context.Context, env *models.Environment) error
	SoftDelete(ctx context.Context, environmentID uuid.UUID) error
	HardDelete(ctx context.Context, environmentID uuid.UUID) error
}
