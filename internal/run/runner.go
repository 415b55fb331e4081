// Package run drives transitions through the execution state machine:
// admit, lease, reserve, dispatch, await, check success, commit, retry, or
// fail.
//
// Safety under concurrency comes entirely from the collaborators: the lease
// manager guarantees non-overlapping write-sets, the budget ledger's
// reserve/settle is atomic per plan, and the ledger writer serializes
// appends per plan. The runner imposes no global lock; transitions execute
// concurrently on a bounded worker pool and suspend only while awaiting the
// adapter or waiting out a retry backoff, both as cancellable waits.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/evanharte/planwright/internal/adapter"
	"github.com/evanharte/planwright/internal/budget"
	"github.com/evanharte/planwright/internal/ledger"
	"github.com/evanharte/planwright/internal/lease"
	"github.com/evanharte/planwright/internal/plan"
	"github.com/evanharte/planwright/internal/policy"
	"github.com/evanharte/planwright/internal/predicate"
)

// DefaultWorkers bounds concurrent transition execution when no worker
// count is configured.
const DefaultWorkers = 4

// Deps are the collaborators a Runner composes. All fields are required
// except World, which may be nil when no predicate reads world state.
type Deps struct {
	Policy     *policy.Doc
	Snapshot   *policy.Snapshot
	Leases     lease.Manager
	Budget     *budget.Ledger
	Predicates *predicate.Evaluator
	Ledger     ledger.Writer
	Adapter    adapter.Invoker
	World      predicate.WorldReader
}

// Runner executes a plan's transitions. Safe for concurrent use.
type Runner struct {
	policy     *policy.Doc
	snapshot   *policy.Snapshot
	leases     lease.Manager
	budget     *budget.Ledger
	predicates *predicate.Evaluator
	ledger     ledger.Writer
	adapter    adapter.Invoker
	world      predicate.WorldReader

	logger      *slog.Logger
	workers     int
	limiter     *rate.Limiter
	scratchRoot string
	seed        int64
	envFP       string

	// wait suspends for a backoff duration, honoring cancellation.
	// Injected in tests to observe the schedule without sleeping.
	wait func(ctx context.Context, d time.Duration) error

	// newExecutionID stamps each dispatch attempt.
	newExecutionID func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers bounds the worker pool. Values below 1 fall back to the
// default.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n >= 1 {
			r.workers = n
		}
	}
}

// WithLogger injects the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithBackoffWait replaces the backoff sleep. Tests use this to record
// waits instead of elapsing them.
func WithBackoffWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		r.wait = wait
	}
}

// WithExecutionIDs replaces the execution id source, for deterministic logs.
func WithExecutionIDs(gen func() string) Option {
	return func(r *Runner) {
		r.newExecutionID = gen
	}
}

// WithScratchRoot sets the writable root handed to processors.
func WithScratchRoot(dir string) Option {
	return func(r *Runner) {
		r.scratchRoot = dir
	}
}

// WithSeed sets the seed forwarded in every invoke context.
func WithSeed(seed int64) Option {
	return func(r *Runner) {
		r.seed = seed
	}
}

// WithEnvFingerprint sets the environment fingerprint forwarded to adapters.
func WithEnvFingerprint(fp string) Option {
	return func(r *Runner) {
		r.envFP = fp
	}
}

// New composes a Runner from its collaborators. The dispatch rate limiter
// is built from policy.dispatch; a zero rate means unlimited.
func New(deps Deps, opts ...Option) (*Runner, error) {
	switch {
	case deps.Policy == nil:
		return nil, fmt.Errorf("run: nil policy")
	case deps.Snapshot == nil:
		return nil, fmt.Errorf("run: nil snapshot")
	case deps.Leases == nil:
		return nil, fmt.Errorf("run: nil lease manager")
	case deps.Budget == nil:
		return nil, fmt.Errorf("run: nil budget ledger")
	case deps.Predicates == nil:
		return nil, fmt.Errorf("run: nil predicate evaluator")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("run: nil ledger writer")
	case deps.Adapter == nil:
		return nil, fmt.Errorf("run: nil adapter")
	}

	r := &Runner{
		policy:         deps.Policy,
		snapshot:       deps.Snapshot,
		leases:         deps.Leases,
		budget:         deps.Budget,
		predicates:     deps.Predicates,
		ledger:         deps.Ledger,
		adapter:        deps.Adapter,
		world:          deps.World,
		logger:         slog.Default(),
		workers:        DefaultWorkers,
		newExecutionID: uuid.NewString,
		wait:           sleepWait,
	}

	if qps := deps.Policy.Dispatch.RateQPS; qps > 0 {
		burst := deps.Policy.Dispatch.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// sleepWait is the production backoff wait: a timer select, never a busy
// loop.
func sleepWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecutePlan runs every transition of the plan through the worker pool and
// returns results in transition order. Transitions whose write-sets overlap
// serialize on lease conflicts; disjoint ones run in parallel.
func (r *Runner) ExecutePlan(ctx context.Context, p *plan.Plan) ([]Result, error) {
	type job struct {
		idx int
		t   *plan.Transition
	}

	jobs := make(chan job)
	results := make([]Result, len(p.Transitions))

	workers := r.workers
	if workers > len(p.Transitions) && len(p.Transitions) > 0 {
		workers = len(p.Transitions)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.idx] = r.ExecuteTransition(ctx, p, j.t)
			}
		}()
	}

	for i, t := range p.Transitions {
		jobs <- job{idx: i, t: t}
	}
	close(jobs)
	wg.Wait()

	return results, ctx.Err()
}
