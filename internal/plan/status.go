package plan

import "fmt"

// Status is a Transition's position in the execution state machine.
type Status string

const (
	// StatusPending is the initial status, set when the Plan is created.
	StatusPending Status = "pending"

	// StatusAdmitted means all admission predicates evaluated true.
	StatusAdmitted Status = "admitted"

	// StatusLeased means write access was granted for the resolved write-set.
	StatusLeased Status = "leased"

	// StatusReserved means budget was reserved for the current attempt.
	StatusReserved Status = "reserved"

	// StatusDispatched means the adapter invoke is in flight.
	StatusDispatched Status = "dispatched"

	// StatusSucceeded means the envelope passed all success predicates;
	// the commit (settle, release, ledger append) is still in progress.
	StatusSucceeded Status = "succeeded"

	// StatusRetrying means a retryable failure occurred and the backoff
	// wait is in progress.
	StatusRetrying Status = "retrying"

	// StatusSettled is the terminal success status: committed, settled,
	// lease released.
	StatusSettled Status = "settled"

	// StatusRejected is terminal: the transition was refused before any
	// side effect was confirmed (admission failure, lease conflict under a
	// reject policy, budget refusal).
	StatusRejected Status = "rejected"

	// StatusFailed is terminal: execution was attempted and did not
	// succeed within policy limits, or was cancelled.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSettled, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// allowedTransitions is the closed edge set of the status machine.
// Statuses advance strictly forward to exactly one terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAdmitted, StatusRejected},
	StatusAdmitted:   {StatusLeased, StatusRetrying, StatusRejected},
	StatusLeased:     {StatusReserved, StatusRejected},
	StatusReserved:   {StatusDispatched, StatusFailed},
	StatusDispatched: {StatusSucceeded, StatusRetrying, StatusFailed},
	StatusRetrying:   {StatusLeased, StatusReserved, StatusRejected, StatusFailed},
	StatusSucceeded:  {StatusSettled},
}

// ValidTransition reports whether from -> to is an allowed status move.
func ValidTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves the transition to the next status, enforcing the edge set.
// An invalid move is a programming error in the runner, surfaced loudly.
func (t *Transition) Advance(to Status) error {
	if !ValidTransition(t.Status, to) {
		return fmt.Errorf("invalid status transition for %s: %s -> %s", t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}
