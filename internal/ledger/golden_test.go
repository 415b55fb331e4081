package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// TestGolden_RetryTrace locks down the serialized shape of a complete
// retry-then-succeed trace. Regenerate with:
//
//	go test ./internal/ledger -update
func TestGolden_RetryTrace(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewMemory(WithMemoryClock(func() time.Time { return fixed }))
	ctx := context.Background()

	trace := []Event{
		{
			PlanID: "plan-demo", Kind: KindExecutionStarted, TransitionID: "t-1", AttemptIdx: 0,
			Payload: map[string]any{"processor_ref": "tool.render@1", "execution_id": "exec-1"},
		},
		{
			PlanID: "plan-demo", Kind: KindExecutionFailed, TransitionID: "t-1", AttemptIdx: 0,
			Payload: map[string]any{"code": "TRANSPORT_TIMEOUT", "retrying": true},
		},
		{
			PlanID: "plan-demo", Kind: KindExecutionStarted, TransitionID: "t-1", AttemptIdx: 1,
			Payload: map[string]any{"processor_ref": "tool.render@1", "execution_id": "exec-2"},
		},
		{
			PlanID: "plan-demo", Kind: KindExecutionSucceeded, TransitionID: "t-1", AttemptIdx: 1,
			Payload: map[string]any{"outputs": 1, "settled_usd_micro": 1200},
		},
	}
	for _, ev := range trace {
		_, err := w.Append(ctx, ev)
		require.NoError(t, err)
	}

	events, err := w.Events(ctx, "plan-demo")
	require.NoError(t, err)

	data, err := json.MarshalIndent(events, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "retry_trace", data)
}
