package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier represents an organization's subscription level. The tier determines
// the default feature set and usage limits assigned during provisioning.
type Tier string

const (
	TierFree         Tier = "free"
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
	TierEducation    Tier = "education"
)

// OrgStatus represents the lifecycle status of an organization.
type OrgStatus string

const (
	OrgStatusPending   OrgStatus = "pending"
	OrgStatusTrial     OrgStatus = "trial"
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusCancelled OrgStatus = "cancelled"
)

// orgStatusTransitions defines the only legal status transitions.
// cancelled is terminal and only reachable from suspended.
var orgStatusTransitions = map[OrgStatus][]OrgStatus{
	OrgStatusPending:   {OrgStatusTrial, OrgStatusActive},
	OrgStatusTrial:     {OrgStatusActive, OrgStatusSuspended},
	OrgStatusActive:    {OrgStatusSuspended},
	OrgStatusSuspended: {OrgStatusActive, OrgStatusCancelled},
	OrgStatusCancelled: {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to OrgStatus) bool {
	for _, next := range orgStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UsageLimits holds per-organization resource ceilings derived from the tier.
type UsageLimits struct {
	MaxUsers        int   `json:"max_users" yaml:"max_users"`
	MaxStorageBytes int64 `json:"max_storage_bytes" yaml:"max_storage_bytes"`
	MaxAPICalls     int   `json:"max_api_calls" yaml:"max_api_calls"`
}

// Organization represents a tenant in the system. It is the unit of data
// isolation: every tenant-scoped resource carries its org_id.
type Organization struct {
	OrgID       uuid.UUID // UUIDv7
	Slug        string    // Unique, URL-safe
	Domain      *string   // Optional verified email domain
	Tier        Tier
	Status      OrgStatus
	Settings    map[string]any // Merged, never overwritten, on update
	Features    []string       // Derived from tier, overridable
	UsageLimits UsageLimits
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsCancelled returns true if the organization is in its terminal state.
// Cancelled organizations can never resolve a tenant context again.
func (o *Organization) IsCancelled() bool {
	return o.Status == OrgStatusCancelled
}

// IsServing returns true if the organization may serve tenant traffic.
func (o *Organization) IsServing() bool {
	return o.Status == OrgStatusTrial || o.Status == OrgStatusActive
}
