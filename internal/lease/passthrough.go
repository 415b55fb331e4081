package lease

import "time"

// PassthroughManager grants every acquisition unconditionally. It exists so
// the rest of the system can run while overlap enforcement is not yet wired
// in: the call-site contract is identical to the enforcing manager and, like
// it, every selector is still canonicalized, so the two strategies produce
// bit-compatible lease values.
type PassthroughManager struct {
	ttl time.Duration
	now func() time.Time
}

// NewPassthrough creates a passthrough lease manager.
func NewPassthrough(ttl time.Duration) *PassthroughManager {
	return &PassthroughManager{ttl: ttl, now: time.Now}
}

// Acquire canonicalizes the selectors and grants a lease. The only failure
// mode is an invalid path; conflicts are never checked.
func (m *PassthroughManager) Acquire(tenant, planID string, selectors []string) (*Lease, error) {
	canonical, err := canonicalizeAll(selectors)
	if err != nil {
		return nil, err
	}
	return &Lease{
		ID:        newLeaseID(),
		Tenant:    tenant,
		PlanID:    planID,
		Selectors: canonical,
		TTL:       m.ttl,
		grantedAt: m.now(),
	}, nil
}

// Release is a no-op; passthrough leases track no state.
func (m *PassthroughManager) Release(string) {}
