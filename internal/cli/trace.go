package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanharte/planwright/internal/ledger"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	PlanID     string
	Transition string // optional - filter to a specific transition
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq          int64          `json:"seq"`
	Kind         string         `json:"kind"`
	TransitionID string         `json:"transition_id"`
	AttemptIdx   int            `json:"attempt_idx"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Started     int `json:"started"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Rejected    int `json:"rejected"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	PlanID   string       `json:"plan_id"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the execution ledger for a plan",
		Long: `Query the append-only execution ledger for a plan.

Shows the ordered event timeline: which transitions started, which
attempts failed or were retried, and how executions settled.

Examples:
  planwright trace --db ./ledger.db --plan plan-1
  planwright trace --db ./ledger.db --plan plan-1 --transition t2
  planwright trace --db ./ledger.db --plan plan-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.PlanID, "plan", "", "plan id to trace (required)")
	_ = cmd.MarkFlagRequired("plan")
	cmd.Flags().StringVar(&opts.Transition, "transition", "", "filter to a specific transition id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	w, err := ledger.OpenSQLite(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger database", err)
	}
	defer w.Close()

	events, err := w.Events(ctx, opts.PlanID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}

	if len(events) == 0 {
		if opts.Format == "json" {
			return outputTraceJSON(cmd, TraceResult{
				PlanID:   opts.PlanID,
				Timeline: []TraceEvent{},
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "No events found for plan: %s\n", opts.PlanID)
		return nil
	}

	result := buildTrace(opts.PlanID, events, opts.Transition)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result)
}

// buildTrace filters and summarizes the event stream. Stats always cover
// the whole plan; the transition filter narrows the timeline only.
func buildTrace(planID string, events []ledger.Event, transition string) TraceResult {
	result := TraceResult{PlanID: planID}

	for _, ev := range events {
		result.Stats.TotalEvents++
		switch ev.Kind {
		case ledger.KindExecutionStarted:
			result.Stats.Started++
		case ledger.KindExecutionSucceeded:
			result.Stats.Succeeded++
		case ledger.KindExecutionFailed:
			result.Stats.Failed++
		case ledger.KindExecutionRejected:
			result.Stats.Rejected++
		}

		if transition != "" && ev.TransitionID != transition {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:          ev.Seq,
			Kind:         string(ev.Kind),
			TransitionID: ev.TransitionID,
			AttemptIdx:   ev.AttemptIdx,
			Timestamp:    ev.Timestamp,
			Payload:      ev.Payload,
		})
	}
	return result
}

func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{Status: "ok", Data: result})
}

func outputTraceText(cmd *cobra.Command, result TraceResult) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Plan: %s\n", result.PlanID)
	fmt.Fprintf(out, "Events: %d (started=%d succeeded=%d failed=%d rejected=%d)\n\n",
		result.Stats.TotalEvents, result.Stats.Started, result.Stats.Succeeded,
		result.Stats.Failed, result.Stats.Rejected)

	for _, ev := range result.Timeline {
		fmt.Fprintf(out, "%4d  %-22s %-12s attempt=%d  %s\n",
			ev.Seq, ev.Kind, ev.TransitionID, ev.AttemptIdx,
			ev.Timestamp.Format(time.RFC3339))
		if len(ev.Payload) > 0 {
			payload, err := json.Marshal(ev.Payload)
			if err == nil {
				fmt.Fprintf(out, "      %s\n", payload)
			}
		}
	}
	return nil
}
