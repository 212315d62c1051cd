package models

import (
	"time"

	"github.com/google/uuid"
)

// Principal roles. RoleAdmin is the strongest role a tenant can hold and is
// scoped to its own organization. RoleOperator is the platform operator role
// for the organization lifecycle surface; it is never granted by tenant
// provisioning and must be minted out-of-band.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleMember   = "member"
	RoleReadonly = "readonly"
)

// Principal represents a user identity within an organization.
// Principals are tenant-scoped: they are only visible and mutable inside
// their owning organization.
type Principal struct {
	PrincipalID uuid.UUID // UUIDv7
	OrgID       uuid.UUID // UUIDv7, FK to organizations, ON DELETE CASCADE
	Email       string
	Name        string
	Roles       []string

	// Audit trail, distinct from the tenant boundary
	CreatedBy uuid.UUID
	UpdatedBy uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time // Soft delete
}

// IsDeleted returns true if the principal has been soft-deleted.
func (p *Principal) IsDeleted() bool {
	return p.DeletedAt != nil
}

// IsAdmin returns true if the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	for _, r := range p.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}
