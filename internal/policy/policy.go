// Package policy loads the two externally supplied, read-only documents the
// executor core depends on: the policy document (budget cap, retry schedule,
// lease settings) and the registry snapshot (processor specs and their
// predicate bindings).
//
// Documents are YAML, validated against embedded CUE schemas, and parsed
// exactly once into immutable structs. The core never re-reads or reflects
// over raw documents.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Lease conflict handling modes (resolves what happens when an enforcing
// lease manager refuses an acquisition).
const (
	// OnConflictReject terminates the transition as Rejected.
	OnConflictReject = "reject"
	// OnConflictRetry waits out the backoff schedule and re-acquires,
	// consuming retry attempts.
	OnConflictRetry = "retry"
)

// Defaults applied after validation when the document omits a section.
const (
	DefaultMaxAttempts = 1
	DefaultLeaseTTLS   = 60
)

// Doc is a parsed, validated policy document.
type Doc struct {
	Budget   BudgetPolicy   `yaml:"budget"`
	Retry    RetryPolicy    `yaml:"retry"`
	Leases   LeasePolicy    `yaml:"leases"`
	Dispatch DispatchPolicy `yaml:"dispatch"`
}

// BudgetPolicy caps cumulative spend (reserved plus settled) per plan.
type BudgetPolicy struct {
	MaxUSDMicro int64 `yaml:"max_usd_micro"`
}

// RetryPolicy bounds re-dispatch of a failed attempt.
type RetryPolicy struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BackoffMS   []int64 `yaml:"backoff_ms"`
}

// LeasePolicy configures the lease manager.
type LeasePolicy struct {
	DefaultTTLS      int    `yaml:"default_ttl_s"`
	EnablePathLeases bool   `yaml:"enable_path_leases"`
	OnConflict       string `yaml:"on_conflict"`
}

// DispatchPolicy throttles adapter invocations. Zero means unlimited.
type DispatchPolicy struct {
	RateQPS float64 `yaml:"rate_qps"`
	Burst   int     `yaml:"burst"`
}

// Parse validates a YAML policy document against the embedded schema and
// returns the parsed form with defaults applied.
func Parse(data []byte) (*Doc, error) {
	if err := validateSchema(data, policySchema, "#Policy"); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	var doc Doc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}

	if doc.Retry.MaxAttempts == 0 {
		doc.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if doc.Leases.DefaultTTLS == 0 {
		doc.Leases.DefaultTTLS = DefaultLeaseTTLS
	}
	if doc.Leases.OnConflict == "" {
		doc.Leases.OnConflict = OnConflictReject
	}

	return &doc, nil
}

// Load reads and parses a policy document from disk.
func Load(path string) (*Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// BackoffFor returns the wait before re-dispatching attempt attemptIdx+1.
// The schedule is indexed by attempt and holds its last value for attempts
// beyond the list length. An empty schedule means no wait.
func (d *Doc) BackoffFor(attemptIdx int) time.Duration {
	ms := d.Retry.BackoffMS
	if len(ms) == 0 {
		return 0
	}
	if attemptIdx >= len(ms) {
		attemptIdx = len(ms) - 1
	}
	if attemptIdx < 0 {
		attemptIdx = 0
	}
	return time.Duration(ms[attemptIdx]) * time.Millisecond
}

// LeaseTTL returns the lease time-to-live from policy.
func (d *Doc) LeaseTTL() time.Duration {
	return time.Duration(d.Leases.DefaultTTLS) * time.Second
}
