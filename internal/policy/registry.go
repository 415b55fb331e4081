package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Snapshot is an immutable registry snapshot pinned to a plan. The executor
// core only reads it: processor idempotency, spend estimates, and the
// predicate bindings that gate admission and success.
type Snapshot struct {
	ID         string                   `yaml:"id"`
	Processors map[string]ProcessorSpec `yaml:"processors"`
}

// ProcessorSpec describes one processor reference in the snapshot.
type ProcessorSpec struct {
	// Idempotent marks processors whose side effects are safe to repeat.
	// Non-idempotent processors are never re-dispatched once an envelope
	// confirms outputs were produced.
	Idempotent bool `yaml:"idempotent"`

	// EstimateUSDMicro is the per-attempt reservation amount.
	EstimateUSDMicro int64 `yaml:"estimate_usd_micro"`

	// Admission predicates run before any side effect.
	Admission []PredicateRef `yaml:"admission"`

	// Success predicates run against the envelope's declared outputs.
	Success []PredicateRef `yaml:"success"`
}

// PredicateRef names a versioned predicate plus its arguments.
type PredicateRef struct {
	ID      string         `yaml:"id"`
	Version string         `yaml:"version"`
	Args    map[string]any `yaml:"args"`
}

// ParseSnapshot validates a YAML registry snapshot against the embedded
// schema and returns the parsed form.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	if err := validateSchema(data, registrySchema, "#Snapshot"); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("registry: decode: %w", err)
	}
	return &snap, nil
}

// LoadSnapshot reads and parses a registry snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return ParseSnapshot(data)
}

// Processor looks up a processor spec by reference string.
func (s *Snapshot) Processor(ref string) (ProcessorSpec, bool) {
	spec, ok := s.Processors[ref]
	return spec, ok
}
