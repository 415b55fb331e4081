package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evanharte/planwright/internal/adapter"
	"github.com/evanharte/planwright/internal/budget"
	"github.com/evanharte/planwright/internal/ledger"
	"github.com/evanharte/planwright/internal/lease"
	"github.com/evanharte/planwright/internal/plan"
	"github.com/evanharte/planwright/internal/policy"
	"github.com/evanharte/planwright/internal/predicate"
	"github.com/evanharte/planwright/internal/run"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Policy   string
	Registry string
	Database string
	Workers  int

	// Adapter allows overriding the processor adapter (for testing).
	// If nil, defaults to a hermetic adapter that confirms every dispatch.
	Adapter adapter.Invoker
}

// TransitionReport is the per-transition row of the run summary.
type TransitionReport struct {
	TransitionID    string `json:"transition_id"`
	Status          string `json:"status"`
	Code            string `json:"code,omitempty"`
	Evidence        string `json:"evidence,omitempty"`
	Attempts        int    `json:"attempts"`
	SettledUSDMicro int64  `json:"settled_usd_micro"`
}

// RunReport is the complete run summary.
type RunReport struct {
	PlanID      string             `json:"plan_id"`
	Settled     int                `json:"settled"`
	Failed      int                `json:"failed"`
	Rejected    int                `json:"rejected"`
	Transitions []TransitionReport `json:"transitions"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a plan's transitions",
		Long: `Execute every transition of a plan under the given policy and
registry snapshot, recording execution events in a SQLite ledger.

Transitions run on a bounded worker pool; write leases serialize
overlapping write-sets and the budget ledger enforces the plan's
spending cap across attempts.

Example:
  planwright run --policy policy.yaml --registry snapshot.yaml --db ./ledger.db plan.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "", "path to policy YAML (required)")
	_ = cmd.MarkFlagRequired("policy")
	cmd.Flags().StringVar(&opts.Registry, "registry", "", "path to registry snapshot YAML (required)")
	_ = cmd.MarkFlagRequired("registry")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger database (in-memory when omitted)")
	cmd.Flags().IntVar(&opts.Workers, "workers", run.DefaultWorkers, "transition worker pool size")

	return cmd
}

func runPlan(opts *RunOptions, planPath string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	p, loadErrs := LoadPlan(planPath)
	if len(loadErrs) > 0 {
		return WrapExitError(ExitCommandError, "failed to load plan", loadErrs[0])
	}

	doc, err := policy.Load(opts.Policy)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load policy", err)
	}
	snap, err := policy.LoadSnapshot(opts.Registry)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load registry snapshot", err)
	}

	// Events persist only when a database path is given; trace needs one.
	var w ledger.Writer = ledger.NewMemory()
	if opts.Database != "" {
		logger.Info("opening ledger", "path", opts.Database)
		sqlWriter, err := ledger.OpenSQLite(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open ledger database", err)
		}
		w = sqlWriter
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil {
			logger.Error("error closing ledger", "error", closeErr)
		}
	}()

	inv := opts.Adapter
	if inv == nil {
		inv = adapter.NewHermetic()
	}

	runner, err := run.New(run.Deps{
		Policy:     doc,
		Snapshot:   snap,
		Leases:     lease.FromPolicy(doc),
		Budget:     budget.NewLedger(doc.Budget.MaxUSDMicro),
		Predicates: predicate.NewEvaluator(),
		Ledger:     w,
		Adapter:    inv,
		World:      predicate.NewMemWorld(),
	}, run.WithWorkers(opts.Workers), run.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build runner", err)
	}

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, cancelling plan", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("executing plan", "plan_id", p.ID, "transitions", len(p.Transitions), "workers", opts.Workers)
	results, err := runner.ExecutePlan(ctx, p)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "plan execution error", err)
	}

	report := buildRunReport(p.ID, results)
	if outErr := outputRunReport(opts, cmd, report); outErr != nil {
		return outErr
	}

	if report.Failed > 0 || report.Rejected > 0 {
		return NewExitError(ExitFailure,
			fmt.Sprintf("plan %s: %d failed, %d rejected", p.ID, report.Failed, report.Rejected))
	}
	return nil
}

func buildRunReport(planID string, results []run.Result) RunReport {
	report := RunReport{PlanID: planID}
	for _, res := range results {
		report.Transitions = append(report.Transitions, TransitionReport{
			TransitionID:    res.TransitionID,
			Status:          string(res.Status),
			Code:            res.Code,
			Evidence:        res.Evidence,
			Attempts:        res.Attempts,
			SettledUSDMicro: res.SettledUSDMicro,
		})
		switch {
		case res.Settled():
			report.Settled++
		case res.Status == plan.StatusRejected:
			report.Rejected++
		default:
			report.Failed++
		}
	}
	return report
}

func outputRunReport(opts *RunOptions, cmd *cobra.Command, report RunReport) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "Plan %s: %d settled, %d failed, %d rejected\n",
		report.PlanID, report.Settled, report.Failed, report.Rejected)
	for _, tr := range report.Transitions {
		line := fmt.Sprintf("  %-12s %-10s attempts=%d settled_usd_micro=%d",
			tr.TransitionID, tr.Status, tr.Attempts, tr.SettledUSDMicro)
		if tr.Code != "" {
			line += " code=" + tr.Code
		}
		fmt.Fprintln(formatter.Writer, line)
		if opts.Verbose && tr.Evidence != "" {
			fmt.Fprintf(formatter.Writer, "    evidence: %s\n", tr.Evidence)
		}
	}
	return nil
}
