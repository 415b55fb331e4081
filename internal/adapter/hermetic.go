package adapter

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evanharte/planwright/internal/plan"
)

// Step is one scripted attempt outcome for a hermetic processor.
type Step struct {
	envelope  *plan.Envelope
	transport *TransportError
	progress  []ProgressEvent
	hang      bool
}

// Succeed scripts a success envelope declaring the given outputs.
func Succeed(outputs ...plan.Output) Step {
	return Step{envelope: &plan.Envelope{Status: plan.EnvelopeSuccess, Outputs: outputs}}
}

// SucceedAtCost is Succeed with an actual spend reported in envelope meta,
// which the runner settles against the reservation.
func SucceedAtCost(costUSDMicro int64, outputs ...plan.Output) Step {
	s := Succeed(outputs...)
	s.envelope.Meta = map[string]string{"cost_usd_micro": strconv.FormatInt(costUSDMicro, 10)}
	return s
}

// FailTransport scripts a transport failure: no envelope is confirmed.
func FailTransport(kind TransportErrorKind) Step {
	return Step{transport: &TransportError{Kind: kind, Msg: "scripted transport failure"}}
}

// FailProcessor scripts an error envelope. Outputs may be non-empty when the
// processor produced side effects before failing; transient marks the
// failure safe to retry when no outputs were confirmed.
func FailProcessor(msg string, transient bool, outputs ...plan.Output) Step {
	meta := map[string]string{"processor_error": msg}
	if transient {
		meta["transient"] = "true"
	}
	return Step{envelope: &plan.Envelope{Status: plan.EnvelopeError, Outputs: outputs, Meta: meta}}
}

// Hang scripts an invocation that blocks until the context is cancelled.
func Hang() Step {
	return Step{hang: true}
}

// WithProgress attaches streamed progress events emitted before the step's
// final outcome.
func (s Step) WithProgress(events ...ProgressEvent) Step {
	s.progress = events
	return s
}

// Hermetic executes scripted processor behaviors in-process. Scripts are
// consumed per processor reference, one step per attempt; an exhausted or
// missing script defaults to an empty success envelope.
//
// Safe for concurrent use.
type Hermetic struct {
	mu      sync.Mutex
	scripts map[string][]Step
	now     func() time.Time
}

// NewHermetic creates an empty hermetic adapter.
func NewHermetic() *Hermetic {
	return &Hermetic{
		scripts: make(map[string][]Step),
		now:     time.Now,
	}
}

// Script appends attempt outcomes for a processor reference.
func (h *Hermetic) Script(processorRef string, steps ...Step) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts[processorRef] = append(h.scripts[processorRef], steps...)
}

// Invoke implements Invoker.
func (h *Hermetic) Invoke(ctx context.Context, processorRef string, ic InvokeContext) (*plan.Envelope, error) {
	return h.InvokeStream(ctx, processorRef, ic, nil)
}

// InvokeStream implements StreamingInvoker. Progress events, when scripted,
// are delivered before the final outcome.
func (h *Hermetic) InvokeStream(ctx context.Context, processorRef string, ic InvokeContext, onProgress func(ProgressEvent)) (*plan.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step := h.nextStep(processorRef)
	started := h.now()

	if onProgress != nil {
		for _, ev := range step.progress {
			onProgress(ev)
		}
	}

	if step.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if step.transport != nil {
		return nil, step.transport
	}

	env := step.envelope
	if env == nil {
		env = &plan.Envelope{Status: plan.EnvelopeSuccess}
	}

	// Copy before stamping so a script replayed across attempts cannot
	// leak one attempt's identity into another.
	out := *env
	out.ExecutionID = ic.ExecutionID
	if out.ExecutionID == "" {
		out.ExecutionID = uuid.NewString()
	}
	out.Meta = mergeMeta(env.Meta, map[string]string{
		"mode":        "hermetic",
		"duration_ms": strconv.FormatInt(h.now().Sub(started).Milliseconds(), 10),
	})
	return &out, nil
}

// nextStep pops the scripted step for a processor, or a zero Step (empty
// success) when the script is missing or exhausted.
func (h *Hermetic) nextStep(processorRef string) Step {
	h.mu.Lock()
	defer h.mu.Unlock()

	script := h.scripts[processorRef]
	if len(script) == 0 {
		return Step{}
	}
	step := script[0]
	h.scripts[processorRef] = script[1:]
	return step
}

func mergeMeta(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
