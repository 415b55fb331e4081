// Package plan defines the domain types shared across the executor core:
// Plans, Transitions and their status machine, and the Envelope returned by
// a processor invocation.
package plan

// Plan is a set of proposed Transitions executed under one policy document
// and one registry snapshot. A Plan is immutable once created except for
// Transition status updates driven by the runner.
type Plan struct {
	ID                 string
	Tenant             string
	Transitions        []*Transition
	RegistrySnapshotID string
	PolicyID           string
}

// Transition is one unit of proposed change, executed by invoking a
// processor through an adapter.
//
// WriteSet holds the raw selector strings as proposed; canonicalization
// happens at lease acquisition, and the resolved selectors travel in the
// lease and the adapter context.
type Transition struct {
	ID           string
	PlanID       string
	ProcessorRef string
	Inputs       map[string]any
	WriteSet     []string
	AttemptIdx   int
	Status       Status
}

// Output is one artifact declared by a processor's result envelope.
type Output struct {
	Path      string `json:"path"`
	ContentID string `json:"content_id"`
	SizeBytes int64  `json:"size_bytes"`
	MIME      string `json:"mime"`
}

// Envelope statuses.
const (
	EnvelopeSuccess = "success"
	EnvelopeError   = "error"
)

// Envelope is the canonical result of one dispatch. Its shape is identical
// regardless of transport or hermetic/real execution mode; only Meta fields
// (mode, duration, resource usage) differ between modes.
type Envelope struct {
	Status      string            `json:"status"`
	ExecutionID string            `json:"execution_id"`
	Outputs     []Output          `json:"outputs,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Succeeded reports whether the envelope declares a successful execution.
func (e *Envelope) Succeeded() bool {
	return e != nil && e.Status == EnvelopeSuccess
}
