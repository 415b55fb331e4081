// Package predicate evaluates named, versioned boolean checks that gate
// transition admission and success.
//
// Predicates form a closed, registered table keyed by (id, version) - never
// dynamic lookup. Every predicate is pure and deterministic given identical
// world state and args, has read-only world access, and must never raise:
// internal errors and panics are downgraded to a false outcome with evidence
// describing the cause.
package predicate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/evanharte/planwright/internal/plan"
	"github.com/evanharte/planwright/internal/policy"
)

// Func is one predicate implementation. It returns the boolean verdict,
// a human-readable evidence string, and an optional internal error. Errors
// never propagate past the evaluator; they become false outcomes.
type Func func(ctx context.Context, req Request) (bool, string, error)

// Request carries everything a predicate may read.
type Request struct {
	// World is the injected read capability over World state.
	World WorldReader

	// Args are the predicate arguments from the registry snapshot.
	Args map[string]any

	// Outputs are the envelope's declared outputs. Empty at admission
	// time; populated for success predicates.
	Outputs []plan.Output
}

// Outcome is the result of evaluating one predicate reference.
type Outcome struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	OK       bool   `json:"ok"`
	Evidence string `json:"evidence"`
}

type tableKey struct {
	id      string
	version string
}

// Evaluator holds the closed predicate table.
//
// Registration happens at construction time; Evaluate never mutates the
// table, so an Evaluator is safe for concurrent use once built.
type Evaluator struct {
	table  map[tableKey]Func
	logger *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger injects the evaluator's logger.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator creates an evaluator preloaded with the built-in predicates.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		table:  make(map[tableKey]Func),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	registerBuiltins(e)
	return e
}

// Register adds a predicate under (id, version). Duplicate registration is
// a programming error.
func (e *Evaluator) Register(id, version string, fn Func) error {
	key := tableKey{id: id, version: version}
	if _, exists := e.table[key]; exists {
		return fmt.Errorf("predicate (%s, %s) already registered", id, version)
	}
	e.table[key] = fn
	return nil
}

// Known returns the registered (id, version) pairs, sorted. Diagnostics only.
func (e *Evaluator) Known() []string {
	keys := make([]string, 0, len(e.table))
	for k := range e.table {
		keys = append(keys, k.id+"@"+k.version)
	}
	sort.Strings(keys)
	return keys
}

// Evaluate runs one predicate reference. It never panics and never returns
// an error: unknown predicates, internal failures, and panics all map to a
// false outcome whose evidence names the cause.
func (e *Evaluator) Evaluate(ctx context.Context, ref policy.PredicateRef, req Request) (out Outcome) {
	out = Outcome{ID: ref.ID, Version: ref.Version}

	fn, ok := e.table[tableKey{id: ref.ID, version: ref.Version}]
	if !ok {
		out.Evidence = fmt.Sprintf("predicate (%s, %s) not registered", ref.ID, ref.Version)
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out.OK = false
			out.Evidence = fmt.Sprintf("predicate panicked: %v", r)
			e.logger.Error("predicate panic",
				"predicate", ref.ID,
				"version", ref.Version,
				"panic", r)
		}
	}()

	req.Args = ref.Args
	verdict, evidence, err := fn(ctx, req)
	if err != nil {
		out.OK = false
		out.Evidence = fmt.Sprintf("internal error: %v", err)
		return out
	}

	out.OK = verdict
	out.Evidence = evidence
	return out
}

// EvaluateAll runs every reference in order and reports whether all passed.
// All outcomes are returned regardless of verdict, so callers get complete
// evidence even on the first failure.
func (e *Evaluator) EvaluateAll(ctx context.Context, refs []policy.PredicateRef, req Request) (bool, []Outcome) {
	outcomes := make([]Outcome, 0, len(refs))
	allOK := true
	for _, ref := range refs {
		out := e.Evaluate(ctx, ref, req)
		if !out.OK {
			allOK = false
		}
		outcomes = append(outcomes, out)
	}
	return allOK, outcomes
}
