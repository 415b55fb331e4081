// Package adapter defines the transport contract the runner dispatches
// through, and a hermetic in-process implementation for tests and local
// runs.
//
// The runner depends only on the Invoke contract; WebSocket or HTTP
// transports implement the same interface externally. Envelope shape is
// identical regardless of transport or hermetic/real mode: only meta fields
// differ.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/evanharte/planwright/internal/budget"
	"github.com/evanharte/planwright/internal/plan"
	"github.com/evanharte/planwright/internal/predicate"
	"github.com/evanharte/planwright/internal/worldpath"
)

// InvokeContext carries everything a processor invocation receives.
type InvokeContext struct {
	PlanID       string
	TransitionID string
	ExecutionID  string
	AttemptIdx   int

	Inputs           map[string]any
	WriteSetResolved []worldpath.Selector
	BudgetReserved   *budget.Receipt

	// WorldMount is the read-only world capability; ScratchDir is the
	// only writable root the processor gets.
	WorldMount predicate.WorldReader
	ScratchDir string

	Seed           int64
	MemoKey        string
	EnvFingerprint string
}

// Invoker dispatches a transition's inputs to a processor and returns its
// envelope. Transport-level failures surface as TransportError; context
// cancellation surfaces as the context's error.
type Invoker interface {
	Invoke(ctx context.Context, processorRef string, ic InvokeContext) (*plan.Envelope, error)
}

// ProgressEvent is one streamed progress notification (token, frame, log
// line) emitted before the final envelope.
type ProgressEvent struct {
	Kind    string
	Message string
}

// StreamingInvoker is the optional streaming variant of the contract.
type StreamingInvoker interface {
	Invoker
	InvokeStream(ctx context.Context, processorRef string, ic InvokeContext, onProgress func(ProgressEvent)) (*plan.Envelope, error)
}

// TransportErrorKind classifies transport failures. All kinds are retryable
// up to the policy's attempt limit.
type TransportErrorKind string

const (
	TransportTimeout           TransportErrorKind = "TRANSPORT_TIMEOUT"
	TransportProtocolViolation TransportErrorKind = "TRANSPORT_PROTOCOL_VIOLATION"
	TransportConnectionClosed  TransportErrorKind = "TRANSPORT_CONNECTION_CLOSED"
)

// TransportError reports a failed dispatch with no confirmed envelope.
type TransportError struct {
	Kind TransportErrorKind
	Msg  string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// AsTransport extracts a TransportError from an error chain.
func AsTransport(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
