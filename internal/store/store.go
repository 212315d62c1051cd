package store

import "errors"

// Sentinel errors shared across store implementations.
var (
	// ErrIsolationViolation is returned when a write targets a resource
	// outside the current tenant context's organization. Reads never return
	// this error; a cross-tenant read is indistinguishable from not-found so
	// that resource existence does not leak across tenants. The audit layer
	// logs isolation violations distinctly from ordinary not-found.
	ErrIsolationViolation = errors.New("isolation violation")
)

// ListOptions controls pagination and soft-delete visibility for list
// operations on tenant-scoped stores.
type ListOptions struct {
	Limit          int  // Max results (0 = default of 100)
	Offset         int
	IncludeDeleted bool // Include soft-deleted rows (default listings exclude them)
}

// DefaultListLimit is applied when ListOptions.Limit is zero.
const DefaultListLimit = 100

// EffectiveLimit returns the limit to apply for a list query.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}
