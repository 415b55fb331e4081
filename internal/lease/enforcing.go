package lease

import (
	"sync"
	"time"

	"github.com/evanharte/planwright/internal/worldpath"
)

// EnforcingManager rejects acquisitions whose selectors overlap any lease
// currently held in the same (tenant, plan).
//
// Overlap checking and grant happen as one indivisible step under the
// manager's lock, so two racing acquisitions can never both succeed with
// overlapping selectors.
type EnforcingManager struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	held map[string]map[string]*Lease // (tenant,plan) key -> lease id -> lease
	byID map[string]*Lease
}

// EnforcingOption configures an EnforcingManager.
type EnforcingOption func(*EnforcingManager)

// WithClock injects the time source. Tests use a manual clock to drive
// TTL expiry deterministically.
func WithClock(now func() time.Time) EnforcingOption {
	return func(m *EnforcingManager) {
		m.now = now
	}
}

// NewEnforcing creates an enforcing lease manager. Leases expire ttl after
// grant if never released.
func NewEnforcing(ttl time.Duration, opts ...EnforcingOption) *EnforcingManager {
	m := &EnforcingManager{
		ttl:  ttl,
		now:  time.Now,
		held: make(map[string]map[string]*Lease),
		byID: make(map[string]*Lease),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func scopeKey(tenant, planID string) string {
	return tenant + "\x00" + planID
}

// Acquire canonicalizes the selectors and grants a lease if no held,
// unexpired lease in the same (tenant, plan) overlaps them.
func (m *EnforcingManager) Acquire(tenant, planID string, selectors []string) (*Lease, error) {
	canonical, err := canonicalizeAll(selectors)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := scopeKey(tenant, planID)
	m.pruneExpiredLocked(key)

	for _, held := range m.held[key] {
		for _, want := range canonical {
			for _, got := range held.Selectors {
				if worldpath.SelectorsOverlap(want, got) {
					return nil, &ConflictError{
						Tenant:   tenant,
						PlanID:   planID,
						Selector: want,
						HeldBy:   held.ID,
					}
				}
			}
		}
	}

	l := &Lease{
		ID:        newLeaseID(),
		Tenant:    tenant,
		PlanID:    planID,
		Selectors: canonical,
		TTL:       m.ttl,
		grantedAt: m.now(),
	}

	if m.held[key] == nil {
		m.held[key] = make(map[string]*Lease)
	}
	m.held[key][l.ID] = l
	m.byID[l.ID] = l
	return l, nil
}

// Release frees the lease's selectors. Idempotent.
func (m *EnforcingManager) Release(leaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byID[leaseID]
	if !ok {
		return
	}
	delete(m.byID, leaseID)
	delete(m.held[scopeKey(l.Tenant, l.PlanID)], leaseID)
}

// Held returns the number of live leases in a (tenant, plan), after pruning
// expired ones. Used for diagnostics and tests.
func (m *EnforcingManager) Held(tenant, planID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scopeKey(tenant, planID)
	m.pruneExpiredLocked(key)
	return len(m.held[key])
}

// pruneExpiredLocked drops leases past their TTL so their selectors free up
// for new acquisitions. Callers must hold m.mu.
func (m *EnforcingManager) pruneExpiredLocked(key string) {
	now := m.now()
	for id, l := range m.held[key] {
		if !now.Before(l.ExpiresAt()) {
			delete(m.held[key], id)
			delete(m.byID, id)
		}
	}
}
