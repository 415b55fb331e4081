package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanharte/planwright/internal/plan"
)

// TestHermetic_ScriptedSequence verifies steps are consumed in order.
func TestHermetic_ScriptedSequence(t *testing.T) {
	h := NewHermetic()
	h.Script("tool.render@1",
		FailTransport(TransportTimeout),
		Succeed(plan.Output{Path: "/world/artifacts/out", SizeBytes: 3}),
	)
	ctx := context.Background()

	_, err := h.Invoke(ctx, "tool.render@1", InvokeContext{ExecutionID: "e1"})
	require.Error(t, err)
	te, ok := AsTransport(err)
	require.True(t, ok)
	assert.Equal(t, TransportTimeout, te.Kind)

	env, err := h.Invoke(ctx, "tool.render@1", InvokeContext{ExecutionID: "e2"})
	require.NoError(t, err)
	assert.True(t, env.Succeeded())
	assert.Equal(t, "e2", env.ExecutionID)
	require.Len(t, env.Outputs, 1)
	assert.Equal(t, "hermetic", env.Meta["mode"])
}

// TestHermetic_DefaultsToEmptySuccess covers missing and exhausted scripts.
func TestHermetic_DefaultsToEmptySuccess(t *testing.T) {
	h := NewHermetic()

	env, err := h.Invoke(context.Background(), "tool.unknown@1", InvokeContext{})
	require.NoError(t, err)
	assert.True(t, env.Succeeded())
	assert.Empty(t, env.Outputs)
	assert.NotEmpty(t, env.ExecutionID, "generated when the context carries none")
}

// TestHermetic_ProcessorError verifies error envelopes carry transient and
// output information for the runner's classification.
func TestHermetic_ProcessorError(t *testing.T) {
	h := NewHermetic()
	h.Script("tool.commit@2",
		FailProcessor("constraint violated", true),
		FailProcessor("partial write", false, plan.Output{Path: "/world/artifacts/x"}),
	)
	ctx := context.Background()

	env, err := h.Invoke(ctx, "tool.commit@2", InvokeContext{})
	require.NoError(t, err)
	assert.False(t, env.Succeeded())
	assert.Equal(t, "true", env.Meta["transient"])
	assert.Empty(t, env.Outputs)

	env, err = h.Invoke(ctx, "tool.commit@2", InvokeContext{})
	require.NoError(t, err)
	assert.False(t, env.Succeeded())
	assert.NotContains(t, env.Meta, "transient")
	assert.Len(t, env.Outputs, 1)
}

// TestHermetic_HangHonorsCancellation verifies a blocked invoke returns the
// context error when cancelled.
func TestHermetic_HangHonorsCancellation(t *testing.T) {
	h := NewHermetic()
	h.Script("tool.slow@1", Hang())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.Invoke(ctx, "tool.slow@1", InvokeContext{})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("hung invoke did not observe cancellation")
	}
}

// TestHermetic_Streaming verifies progress events arrive before the
// final envelope.
func TestHermetic_Streaming(t *testing.T) {
	h := NewHermetic()
	h.Script("tool.render@1",
		Succeed().WithProgress(
			ProgressEvent{Kind: "log", Message: "loading"},
			ProgressEvent{Kind: "frame", Message: "1/2"},
		),
	)

	var seen []ProgressEvent
	env, err := h.InvokeStream(context.Background(), "tool.render@1", InvokeContext{}, func(ev ProgressEvent) {
		seen = append(seen, ev)
	})
	require.NoError(t, err)
	assert.True(t, env.Succeeded())
	require.Len(t, seen, 2)
	assert.Equal(t, "loading", seen[0].Message)
}
