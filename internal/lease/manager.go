package lease

import (
	"time"

	"github.com/evanharte/planwright/internal/policy"
)

// FromPolicy selects the lease strategy for a policy document: enforcing
// when path leases are enabled, passthrough otherwise. Both honor the
// configured TTL.
func FromPolicy(doc *policy.Doc, opts ...EnforcingOption) Manager {
	ttl := doc.LeaseTTL()
	if ttl <= 0 {
		ttl = time.Duration(policy.DefaultLeaseTTLS) * time.Second
	}
	if doc.Leases.EnablePathLeases {
		return NewEnforcing(ttl, opts...)
	}
	return NewPassthrough(ttl)
}
