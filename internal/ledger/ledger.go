// Package ledger serializes transition outcomes into an append-only,
// monotonically sequenced per-plan event log.
//
// Writers are single-writer per plan: one append is in flight at a time for
// a given plan, guaranteeing strictly increasing seq values with no gaps.
// Readers may observe any committed prefix but never a partial or reordered
// one. Events are never mutated after append.
package ledger

import (
	"context"
	"time"
)

// Kind classifies a ledger event.
type Kind string

const (
	KindExecutionStarted   Kind = "execution.started"
	KindExecutionSucceeded Kind = "execution.succeeded"
	KindExecutionFailed    Kind = "execution.failed"
	KindExecutionRejected  Kind = "execution.rejected"
)

// Event is one committed entry in a plan's log. Seq is assigned by the
// writer at append time: per-plan, starting at 1, no gaps, never reused.
type Event struct {
	PlanID       string         `json:"plan_id"`
	Seq          int64          `json:"seq"`
	Kind         Kind           `json:"kind"`
	TransitionID string         `json:"transition_id"`
	AttemptIdx   int            `json:"attempt_idx"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Writer is the append-only event log contract.
type Writer interface {
	// Append commits the event, assigning its Seq (and Timestamp when
	// unset), and returns the committed form.
	Append(ctx context.Context, ev Event) (Event, error)

	// Events returns the committed prefix of a plan's log in seq order.
	Events(ctx context.Context, planID string) ([]Event, error)

	// Close releases the writer's resources.
	Close() error
}
