package run

import (
	"context"
	"errors"
	"strconv"

	"github.com/evanharte/planwright/internal/adapter"
	"github.com/evanharte/planwright/internal/plan"
	"github.com/evanharte/planwright/internal/policy"
)

// attemptOutcome is the runner's classification of one dispatch attempt.
type attemptOutcome struct {
	success   bool
	cancelled bool
	retryable bool
	code      string
	evidence  string
	envelope  *plan.Envelope
}

// classifyDispatch maps an adapter result onto the failure taxonomy.
//
// Retry discipline: transport errors carry no confirmed envelope and are
// always retryable. A non-success envelope from the processor is retryable
// only when the processor marked it transient and no outputs were produced.
// Success envelopes are classified by the caller's success predicates.
func classifyDispatch(env *plan.Envelope, err error) attemptOutcome {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attemptOutcome{cancelled: true, code: CodeCancelled, evidence: err.Error()}
		}
		if te, ok := adapter.AsTransport(err); ok {
			return attemptOutcome{retryable: true, code: string(te.Kind), evidence: te.Msg}
		}
		// Unknown adapter failure with no confirmed envelope: treat as a
		// protocol violation, retryable like any transport fault.
		return attemptOutcome{
			retryable: true,
			code:      string(adapter.TransportProtocolViolation),
			evidence:  err.Error(),
		}
	}

	if env.Succeeded() {
		return attemptOutcome{success: true, envelope: env}
	}

	// Idempotency matters only after a success-predicate failure; a plain
	// error envelope is retryable when the processor marked it transient
	// and nothing was confirmed produced.
	transient := env.Meta["transient"] == "true"
	retryable := transient && len(env.Outputs) == 0
	return attemptOutcome{
		retryable: retryable,
		code:      CodeProcessorError,
		evidence:  processorEvidence(env),
		envelope:  env,
	}
}

// predicateFailureRetryable decides whether a success-predicate failure may
// be re-dispatched. A non-idempotent processor whose envelope confirms
// outputs were already produced must not run again; only when nothing was
// confirmed produced (or the processor is idempotent) is a retry safe.
func predicateFailureRetryable(spec policy.ProcessorSpec, env *plan.Envelope) bool {
	if spec.Idempotent {
		return true
	}
	return len(env.Outputs) == 0
}

func processorEvidence(env *plan.Envelope) string {
	if msg, ok := env.Meta["processor_error"]; ok {
		return msg
	}
	return "processor returned error envelope"
}

// settlementFromEnvelope extracts the actual spend a confirmed envelope
// reports, when it reports one.
func settlementFromEnvelope(env *plan.Envelope) (int64, bool) {
	if env == nil {
		return 0, false
	}
	raw, ok := env.Meta["cost_usd_micro"]
	if !ok {
		return 0, false
	}
	cost, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cost < 0 {
		return 0, false
	}
	return cost, true
}
