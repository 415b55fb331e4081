// Package budget meters spend per transition attempt against a plan-level
// cap. Reservations are atomic check-and-increments under a per-ledger
// critical section, so concurrent transitions cannot jointly over-commit the
// cap via a race.
package budget

import (
	"errors"
	"fmt"
	"sync"
)

// Error codes for budget failures.
const (
	ErrCodeBudgetExceeded       = "BUDGET_EXCEEDED"
	ErrCodeSettleWithoutReserve = "SETTLE_WITHOUT_RESERVE"
)

// ExceededError is returned when a reservation or settlement would push the
// plan's cumulative spend past the policy cap. The ledger is not mutated.
type ExceededError struct {
	PlanID      string
	Requested   int64 // amount that was asked for
	Committed   int64 // outstanding reservations plus settlements
	MaxUSDMicro int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s: plan %s: requested %d with %d committed exceeds cap %d",
		ErrCodeBudgetExceeded, e.PlanID, e.Requested, e.Committed, e.MaxUSDMicro)
}

// IsExceeded reports whether err is (or wraps) an ExceededError.
func IsExceeded(err error) bool {
	var ee *ExceededError
	return errors.As(err, &ee)
}

// SettleError is returned on a settle with no matching outstanding
// reservation: a programming error, never retried.
type SettleError struct {
	PlanID       string
	TransitionID string
	AttemptIdx   int
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("%s: plan %s transition %s attempt %d has no outstanding reservation",
		ErrCodeSettleWithoutReserve, e.PlanID, e.TransitionID, e.AttemptIdx)
}

// IsSettleWithoutReserve reports whether err is (or wraps) a SettleError.
func IsSettleWithoutReserve(err error) bool {
	var se *SettleError
	return errors.As(err, &se)
}

// Receipt records the reservation and settlement for one transition attempt.
type Receipt struct {
	PlanID           string
	TransitionID     string
	AttemptIdx       int
	ReservedUSDMicro int64
	SettledUSDMicro  int64

	settled bool
}

// Settled reports whether the receipt's reservation has been settled.
func (r *Receipt) Settled() bool { return r.settled }

// planAccount tracks one plan's running totals.
// Invariant: outstanding + settled never exceeds the cap.
type planAccount struct {
	outstanding int64 // sum of non-settled reservations
	settled     int64 // sum of settlements
}

// Ledger enforces one policy cap across all attempts of a plan's
// transitions. Safe for concurrent use.
type Ledger struct {
	mu          sync.Mutex
	maxUSDMicro int64
	plans       map[string]*planAccount
}

// NewLedger creates a budget ledger with the given per-plan cap.
func NewLedger(maxUSDMicro int64) *Ledger {
	return &Ledger{
		maxUSDMicro: maxUSDMicro,
		plans:       make(map[string]*planAccount),
	}
}

// Reserve sets aside amount for one attempt. Fails without mutating state
// if outstanding + settled + amount would exceed the cap.
func (l *Ledger) Reserve(planID, transitionID string, attemptIdx int, amount int64) (*Receipt, error) {
	if amount < 0 {
		return nil, fmt.Errorf("reserve: negative amount %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(planID)
	committed := acct.outstanding + acct.settled
	if committed+amount > l.maxUSDMicro {
		return nil, &ExceededError{
			PlanID:      planID,
			Requested:   amount,
			Committed:   committed,
			MaxUSDMicro: l.maxUSDMicro,
		}
	}

	acct.outstanding += amount
	return &Receipt{
		PlanID:           planID,
		TransitionID:     transitionID,
		AttemptIdx:       attemptIdx,
		ReservedUSDMicro: amount,
	}, nil
}

// Settle records actual spend for a reservation and releases the unused
// portion back to the plan's available budget. Settling more than was
// reserved is allowed (actuals may exceed estimates) but only up to the cap.
//
// Settling an already-settled receipt is a SettleError. A failed settle
// leaves the reservation outstanding.
func (l *Ledger) Settle(r *Receipt, actualUSDMicro int64) (*Receipt, error) {
	if r == nil {
		return nil, &SettleError{}
	}
	if actualUSDMicro < 0 {
		return nil, fmt.Errorf("settle: negative amount %d", actualUSDMicro)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if r.settled {
		return nil, &SettleError{PlanID: r.PlanID, TransitionID: r.TransitionID, AttemptIdx: r.AttemptIdx}
	}

	acct := l.account(r.PlanID)

	// With the reservation released, the settlement must still fit.
	committed := acct.outstanding - r.ReservedUSDMicro + acct.settled
	if committed+actualUSDMicro > l.maxUSDMicro {
		return nil, &ExceededError{
			PlanID:      r.PlanID,
			Requested:   actualUSDMicro,
			Committed:   committed,
			MaxUSDMicro: l.maxUSDMicro,
		}
	}

	acct.outstanding -= r.ReservedUSDMicro
	acct.settled += actualUSDMicro
	r.SettledUSDMicro = actualUSDMicro
	r.settled = true
	return r, nil
}

// Committed returns the plan's outstanding reservations plus settlements.
func (l *Ledger) Committed(planID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(planID)
	return acct.outstanding + acct.settled
}

// Available returns how much of the cap the plan has left.
func (l *Ledger) Available(planID string) int64 {
	return l.maxUSDMicro - l.Committed(planID)
}

// account returns the plan's account, creating it on first use.
// Callers must hold l.mu.
func (l *Ledger) account(planID string) *planAccount {
	acct, ok := l.plans[planID]
	if !ok {
		acct = &planAccount{}
		l.plans[planID] = acct
	}
	return acct
}
