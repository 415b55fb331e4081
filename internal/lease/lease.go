// Package lease grants conflict-free concurrent write access over WorldPath
// subtrees within one (tenant, plan).
//
// Two interchangeable strategies implement the Manager contract: the
// enforcing manager rejects overlapping grants, and the passthrough manager
// grants unconditionally. Both canonicalize every selector, so the values
// they produce are bit-compatible; only conflict enforcement differs. This
// lets overlap enforcement be switched on without touching call sites.
package lease

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evanharte/planwright/internal/worldpath"
)

// ErrCodeLeaseConflict is the machine-readable code carried by ConflictError.
const ErrCodeLeaseConflict = "LEASE_CONFLICT"

// ConflictError reports an acquisition whose selectors overlap a held lease
// in the same (tenant, plan).
type ConflictError struct {
	Tenant   string
	PlanID   string
	Selector worldpath.Selector // the requested selector that overlapped
	HeldBy   string             // id of the conflicting lease
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: tenant %s plan %s: selector %s overlaps lease %s",
		ErrCodeLeaseConflict, e.Tenant, e.PlanID, e.Selector, e.HeldBy)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Lease is an exclusive, time-bounded grant over a set of selectors within
// one (tenant, plan). Held until released or expired.
type Lease struct {
	ID        string
	Tenant    string
	PlanID    string
	Selectors []worldpath.Selector
	TTL       time.Duration

	grantedAt time.Time
}

// ExpiresAt returns the instant the lease lapses if never released.
func (l *Lease) ExpiresAt() time.Time {
	return l.grantedAt.Add(l.TTL)
}

// Manager is the lease façade consumed by the runner.
//
// Acquire canonicalizes every raw selector (PathInvalid on failure) and
// grants a lease over the canonical forms. Release is idempotent: unknown
// or already-released ids are no-ops.
type Manager interface {
	Acquire(tenant, planID string, selectors []string) (*Lease, error)
	Release(leaseID string)
}

// canonicalizeAll converts raw selectors to canonical form, failing on the
// first invalid path.
func canonicalizeAll(selectors []string) ([]worldpath.Selector, error) {
	out := make([]worldpath.Selector, 0, len(selectors))
	for _, raw := range selectors {
		sel, err := worldpath.CanonicalizeSelector(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

// newLeaseID returns a fresh lease identifier.
func newLeaseID() string {
	return uuid.NewString()
}
