package run

import (
	"context"
	"fmt"

	"github.com/evanharte/planwright/internal/adapter"
	"github.com/evanharte/planwright/internal/budget"
	"github.com/evanharte/planwright/internal/ledger"
	"github.com/evanharte/planwright/internal/lease"
	"github.com/evanharte/planwright/internal/plan"
	"github.com/evanharte/planwright/internal/policy"
	"github.com/evanharte/planwright/internal/predicate"
	"github.com/evanharte/planwright/internal/worldpath"
)

// ExecuteTransition drives one transition from Pending to exactly one
// terminal status. On return the transition holds no lease and no
// unsettled reservation, whatever the terminal was.
func (r *Runner) ExecuteTransition(ctx context.Context, p *plan.Plan, t *plan.Transition) Result {
	log := r.logger.With("plan", p.ID, "transition", t.ID, "processor", t.ProcessorRef)

	spec, ok := r.snapshot.Processor(t.ProcessorRef)
	if !ok {
		return r.reject(ctx, p, t, CodeProcessorUnknown,
			fmt.Sprintf("processor %q not in snapshot %s", t.ProcessorRef, r.snapshot.ID), 0)
	}

	// Admission runs before any side effect: no lease, no reservation.
	admitted, outcomes := r.predicates.EvaluateAll(ctx, spec.Admission, predicate.Request{World: r.world})
	if !admitted {
		log.Info("admission denied")
		return r.reject(ctx, p, t, CodeAdmissionDenied, summarizeOutcomes(outcomes), 0)
	}
	r.advance(t, plan.StatusAdmitted)

	lse, rejected := r.acquireLease(ctx, p, t)
	if rejected != nil {
		return *rejected
	}
	log.Debug("lease acquired", "lease", lse.ID, "selectors", len(lse.Selectors))

	return r.attemptLoop(ctx, p, t, spec, lse)
}

// acquireLease obtains write access for the transition's write-set,
// retrying lease conflicts with backoff when policy says so. On failure it
// returns the terminal result; nothing is held.
func (r *Runner) acquireLease(ctx context.Context, p *plan.Plan, t *plan.Transition) (*lease.Lease, *Result) {
	for {
		lse, err := r.leases.Acquire(p.Tenant, p.ID, t.WriteSet)
		if err == nil {
			r.advance(t, plan.StatusLeased)
			return lse, nil
		}

		if worldpath.IsPathInvalid(err) {
			res := r.reject(ctx, p, t, worldpath.ErrCodePathInvalid, err.Error(), 0)
			return nil, &res
		}
		if !lease.IsConflict(err) {
			res := r.reject(ctx, p, t, CodeInternal, err.Error(), 0)
			return nil, &res
		}

		retriesRemain := t.AttemptIdx+1 < r.policy.Retry.MaxAttempts
		if r.policy.Leases.OnConflict != policy.OnConflictRetry || !retriesRemain {
			res := r.reject(ctx, p, t, lease.ErrCodeLeaseConflict, err.Error(), 0)
			return nil, &res
		}

		if t.Status != plan.StatusRetrying {
			r.advance(t, plan.StatusRetrying)
		}
		if werr := r.wait(ctx, r.policy.BackoffFor(t.AttemptIdx)); werr != nil {
			r.advance(t, plan.StatusFailed)
			r.appendEvent(ctx, p, t, ledger.KindExecutionFailed, map[string]any{
				"code": CodeCancelled, "evidence": werr.Error(), "retrying": false,
			})
			res := Result{TransitionID: t.ID, Status: t.Status, Code: CodeCancelled, Evidence: werr.Error()}
			return nil, &res
		}
		t.AttemptIdx++
	}
}

// attemptLoop reserves, dispatches, and classifies until the transition
// settles, exhausts its attempts, or hits a non-retryable failure.
func (r *Runner) attemptLoop(ctx context.Context, p *plan.Plan, t *plan.Transition, spec policy.ProcessorSpec, lse *lease.Lease) Result {
	log := r.logger.With("plan", p.ID, "transition", t.ID)
	attempts := 0

	for {
		receipt, err := r.budget.Reserve(p.ID, t.ID, t.AttemptIdx, spec.EstimateUSDMicro)
		if err != nil {
			r.leases.Release(lse.ID)
			code := CodeInternal
			if budget.IsExceeded(err) {
				code = budget.ErrCodeBudgetExceeded
			}
			return r.reject(ctx, p, t, code, err.Error(), attempts)
		}
		r.advance(t, plan.StatusReserved)

		if r.limiter != nil {
			if werr := r.limiter.Wait(ctx); werr != nil {
				return r.failTerminal(ctx, p, t, lse, receipt, nil, CodeCancelled, werr.Error(), attempts)
			}
		}

		attempts++
		execID := r.newExecutionID()
		r.appendEvent(ctx, p, t, ledger.KindExecutionStarted, map[string]any{
			"processor_ref": t.ProcessorRef,
			"execution_id":  execID,
		})
		r.advance(t, plan.StatusDispatched)
		log.Info("dispatched", "attempt", t.AttemptIdx, "execution_id", execID)

		env, ierr := r.adapter.Invoke(ctx, t.ProcessorRef, r.invokeContext(p, t, execID, lse, receipt))
		out := classifyDispatch(env, ierr)

		if out.success {
			okAll, outcomes := r.predicates.EvaluateAll(ctx, spec.Success, predicate.Request{
				World:   r.world,
				Outputs: env.Outputs,
			})
			if okAll {
				return r.commit(ctx, p, t, lse, receipt, env, attempts)
			}
			// Partial side effects may already exist; this is the failure
			// branch, not an abort.
			out = attemptOutcome{
				retryable: predicateFailureRetryable(spec, env),
				code:      CodeSuccessPredicateFailed,
				evidence:  summarizeOutcomes(outcomes),
				envelope:  env,
			}
		}

		if out.cancelled {
			return r.failTerminal(ctx, p, t, lse, receipt, out.envelope, CodeCancelled, out.evidence, attempts)
		}

		retriesRemain := t.AttemptIdx+1 < r.policy.Retry.MaxAttempts
		if !out.retryable || !retriesRemain {
			return r.failTerminal(ctx, p, t, lse, receipt, out.envelope, out.code, out.evidence, attempts)
		}

		// Retry: refund this attempt's reservation (partial spend when the
		// envelope reported one), wait out the backoff, re-reserve with the
		// same lease.
		actual, _ := settlementFromEnvelope(out.envelope)
		if _, serr := r.budget.Settle(receipt, actual); serr != nil {
			log.Error("settle on retry failed", "error", serr)
		}
		r.appendEvent(ctx, p, t, ledger.KindExecutionFailed, map[string]any{
			"code": out.code, "evidence": out.evidence, "retrying": true,
		})
		r.advance(t, plan.StatusRetrying)
		log.Info("retrying", "attempt", t.AttemptIdx, "code", out.code, "backoff", r.policy.BackoffFor(t.AttemptIdx))

		if werr := r.wait(ctx, r.policy.BackoffFor(t.AttemptIdx)); werr != nil {
			r.leases.Release(lse.ID)
			r.advance(t, plan.StatusFailed)
			r.appendEvent(ctx, p, t, ledger.KindExecutionFailed, map[string]any{
				"code": CodeCancelled, "evidence": werr.Error(), "retrying": false,
			})
			return Result{TransitionID: t.ID, Status: t.Status, Code: CodeCancelled, Evidence: werr.Error(), Attempts: attempts}
		}
		t.AttemptIdx++
	}
}

// commit settles the attempt, appends the success event, and releases the
// lease. The settlement amount is the envelope's reported actual spend when
// present, otherwise the full reservation.
func (r *Runner) commit(ctx context.Context, p *plan.Plan, t *plan.Transition, lse *lease.Lease, receipt *budget.Receipt, env *plan.Envelope, attempts int) Result {
	actual, known := settlementFromEnvelope(env)
	if !known {
		actual = receipt.ReservedUSDMicro
	}

	settled, serr := r.budget.Settle(receipt, actual)
	if serr != nil {
		// The actual spend breaches the plan cap. Forfeit the reservation
		// (always fits: it was already committed) and fail the transition.
		if budget.IsExceeded(serr) {
			if _, ferr := r.budget.Settle(receipt, receipt.ReservedUSDMicro); ferr != nil {
				r.logger.Error("forfeit settle failed", "transition", t.ID, "error", ferr)
			}
		}
		return r.failTerminal(ctx, p, t, lse, receipt, env, budget.ErrCodeBudgetExceeded, serr.Error(), attempts)
	}

	r.advance(t, plan.StatusSucceeded)
	r.appendEvent(ctx, p, t, ledger.KindExecutionSucceeded, map[string]any{
		"execution_id":      env.ExecutionID,
		"outputs":           len(env.Outputs),
		"settled_usd_micro": settled.SettledUSDMicro,
	})
	r.leases.Release(lse.ID)
	r.advance(t, plan.StatusSettled)

	return Result{
		TransitionID:    t.ID,
		Status:          t.Status,
		Attempts:        attempts,
		Envelope:        env,
		SettledUSDMicro: settled.SettledUSDMicro,
	}
}

// failTerminal moves the transition to Failed, settling the outstanding
// reservation (partial spend when a confirmed envelope reports one, a full
// refund on cancellation with nothing confirmed, otherwise forfeited) and
// releasing the lease.
func (r *Runner) failTerminal(ctx context.Context, p *plan.Plan, t *plan.Transition, lse *lease.Lease, receipt *budget.Receipt, env *plan.Envelope, code, evidence string, attempts int) Result {
	var settledAmount int64
	if receipt != nil && !receipt.Settled() {
		actual, known := settlementFromEnvelope(env)
		if !known {
			if code == CodeCancelled {
				actual = 0 // no confirmed envelope: refund
			} else {
				actual = receipt.ReservedUSDMicro // forfeited per policy
			}
		}
		settledReceipt, serr := r.budget.Settle(receipt, actual)
		if serr != nil {
			if budget.IsExceeded(serr) {
				settledReceipt, serr = r.budget.Settle(receipt, receipt.ReservedUSDMicro)
			}
			if serr != nil {
				r.logger.Error("terminal settle failed", "transition", t.ID, "error", serr)
			}
		}
		if settledReceipt != nil {
			settledAmount = settledReceipt.SettledUSDMicro
		}
	}

	r.leases.Release(lse.ID)
	r.advance(t, plan.StatusFailed)
	r.appendEvent(ctx, p, t, ledger.KindExecutionFailed, map[string]any{
		"code": code, "evidence": evidence, "retrying": false,
	})

	return Result{
		TransitionID:    t.ID,
		Status:          t.Status,
		Code:            code,
		Evidence:        evidence,
		Attempts:        attempts,
		Envelope:        env,
		SettledUSDMicro: settledAmount,
	}
}

// reject moves the transition to Rejected and records the refusal. Nothing
// is held at this point: rejection happens before resource commitment or
// after it has been unwound.
func (r *Runner) reject(ctx context.Context, p *plan.Plan, t *plan.Transition, code, evidence string, attempts int) Result {
	r.advance(t, plan.StatusRejected)
	r.appendEvent(ctx, p, t, ledger.KindExecutionRejected, map[string]any{
		"code": code, "evidence": evidence,
	})
	return Result{TransitionID: t.ID, Status: t.Status, Code: code, Evidence: evidence, Attempts: attempts}
}

// invokeContext assembles the adapter context for one dispatch attempt.
func (r *Runner) invokeContext(p *plan.Plan, t *plan.Transition, execID string, lse *lease.Lease, receipt *budget.Receipt) adapter.InvokeContext {
	return adapter.InvokeContext{
		PlanID:           p.ID,
		TransitionID:     t.ID,
		ExecutionID:      execID,
		AttemptIdx:       t.AttemptIdx,
		Inputs:           t.Inputs,
		WriteSetResolved: lse.Selectors,
		BudgetReserved:   receipt,
		WorldMount:       r.world,
		ScratchDir:       fmt.Sprintf("%s/%s/%s", r.scratchRoot, p.ID, execID),
		Seed:             r.seed,
		MemoKey:          fmt.Sprintf("%s:%s:%d", p.ID, t.ID, t.AttemptIdx),
		EnvFingerprint:   r.envFP,
	}
}

// advance moves the transition's status, logging machine violations. The
// edge set is closed; a refused move is a runner bug, not a runtime state.
func (r *Runner) advance(t *plan.Transition, to plan.Status) {
	if err := t.Advance(to); err != nil {
		r.logger.Error("status machine violation", "transition", t.ID, "error", err)
	}
}

// appendEvent writes a ledger event, logging (not propagating) append
// failures on best-effort terminal records.
func (r *Runner) appendEvent(ctx context.Context, p *plan.Plan, t *plan.Transition, kind ledger.Kind, payload map[string]any) {
	_, err := r.ledger.Append(ctx, ledger.Event{
		PlanID:       p.ID,
		Kind:         kind,
		TransitionID: t.ID,
		AttemptIdx:   t.AttemptIdx,
		Payload:      payload,
	})
	if err != nil {
		r.logger.Error("ledger append failed", "plan", p.ID, "transition", t.ID, "kind", kind, "error", err)
	}
}
