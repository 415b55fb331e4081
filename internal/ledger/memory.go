package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryWriter is the in-process Writer used by tests and ephemeral runs.
// Appends for one plan are serialized under the plan's lock.
type MemoryWriter struct {
	mu    sync.Mutex
	now   func() time.Time
	plans map[string][]Event
}

// MemoryOption configures a MemoryWriter.
type MemoryOption func(*MemoryWriter)

// WithMemoryClock injects the timestamp source, for deterministic logs.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(w *MemoryWriter) {
		w.now = now
	}
}

// NewMemory creates an empty in-memory ledger.
func NewMemory(opts ...MemoryOption) *MemoryWriter {
	w := &MemoryWriter{
		now:   time.Now,
		plans: make(map[string][]Event),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append implements Writer.
func (w *MemoryWriter) Append(_ context.Context, ev Event) (Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	log := w.plans[ev.PlanID]
	ev.Seq = int64(len(log)) + 1
	if ev.Timestamp.IsZero() {
		ev.Timestamp = w.now()
	}
	ev.Payload = clonePayload(ev.Payload)
	w.plans[ev.PlanID] = append(log, ev)
	return ev, nil
}

// Events implements Writer. The returned slice and its payload maps are
// copies; committed events cannot be mutated through them.
func (w *MemoryWriter) Events(_ context.Context, planID string) ([]Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	log := w.plans[planID]
	out := make([]Event, len(log))
	copy(out, log)
	for i := range out {
		out[i].Payload = clonePayload(out[i].Payload)
	}
	return out, nil
}

// clonePayload isolates stored events from caller-held maps. Nested values
// are not copied: payloads are flat maps of scalars by convention.
func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// Close implements Writer.
func (w *MemoryWriter) Close() error { return nil }
