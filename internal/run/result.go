package run

import (
	"fmt"
	"strings"

	"github.com/evanharte/planwright/internal/plan"
	"github.com/evanharte/planwright/internal/predicate"
)

// Runner-level error codes. Collaborator failures keep their own codes
// (PATH_INVALID, LEASE_CONFLICT, BUDGET_EXCEEDED, TRANSPORT_*); these cover
// the classifications the runner itself makes.
const (
	CodeAdmissionDenied        = "ADMISSION_DENIED"
	CodeSuccessPredicateFailed = "SUCCESS_PREDICATE_FAILED"
	CodeProcessorError         = "PROCESSOR_ERROR"
	CodeProcessorUnknown       = "PROCESSOR_UNKNOWN"
	CodeCancelled              = "CANCELLED"
	CodeLedgerAppendFailed     = "LEDGER_APPEND_FAILED"
	CodeInternal               = "INTERNAL"
)

// Result is the terminal record of one transition's execution. Every
// non-settled result carries a machine-readable code and human-readable
// evidence; there are no silent failures.
type Result struct {
	TransitionID string
	Status       plan.Status
	Code         string
	Evidence     string

	// Attempts is the number of dispatch attempts made.
	Attempts int

	// Envelope is the last confirmed envelope, if any.
	Envelope *plan.Envelope

	// SettledUSDMicro is the spend recorded against the plan's budget.
	SettledUSDMicro int64
}

// Settled reports terminal success.
func (res Result) Settled() bool { return res.Status == plan.StatusSettled }

// summarizeOutcomes renders failed predicate outcomes into one evidence
// string.
func summarizeOutcomes(outcomes []predicate.Outcome) string {
	var parts []string
	for _, out := range outcomes {
		if out.OK {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s@%s: %s", out.ID, out.Version, out.Evidence))
	}
	if len(parts) == 0 {
		return "all predicates passed"
	}
	return strings.Join(parts, "; ")
}
