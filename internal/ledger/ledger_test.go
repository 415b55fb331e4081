package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writers returns one of each Writer implementation for shared contract tests.
func writers(t *testing.T) map[string]Writer {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Writer{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

// TestAppend_SeqMonotonicNoGaps verifies per-plan seq discipline on both
// backends.
func TestAppend_SeqMonotonicNoGaps(t *testing.T) {
	for name, w := range writers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				ev, err := w.Append(ctx, Event{
					PlanID:       "p1",
					Kind:         KindExecutionStarted,
					TransitionID: "t1",
					AttemptIdx:   i,
				})
				require.NoError(t, err)
				assert.Equal(t, int64(i+1), ev.Seq)
			}

			// An interleaved plan gets its own sequence.
			ev, err := w.Append(ctx, Event{PlanID: "p2", Kind: KindExecutionRejected, TransitionID: "t9"})
			require.NoError(t, err)
			assert.Equal(t, int64(1), ev.Seq)

			events, err := w.Events(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, events, 5)
			for i, got := range events {
				assert.Equal(t, int64(i+1), got.Seq, "gapless, strictly increasing")
			}
		})
	}
}

// TestAppend_ConcurrentOnePlan races appends for one plan and verifies the
// committed log is still gapless.
func TestAppend_ConcurrentOnePlan(t *testing.T) {
	for name, w := range writers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 20

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := w.Append(ctx, Event{
						PlanID:       "race",
						Kind:         KindExecutionStarted,
						TransitionID: "t",
						AttemptIdx:   i,
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			events, err := w.Events(ctx, "race")
			require.NoError(t, err)
			require.Len(t, events, n)
			for i, got := range events {
				assert.Equal(t, int64(i+1), got.Seq)
			}
		})
	}
}

// TestEvents_RoundTrip verifies payload and timestamp survive the SQLite
// encode/decode.
func TestEvents_RoundTrip(t *testing.T) {
	w, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer w.Close()

	ctx := context.Background()
	stamp := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)

	_, err = w.Append(ctx, Event{
		PlanID:       "p1",
		Kind:         KindExecutionSucceeded,
		TransitionID: "t1",
		AttemptIdx:   2,
		Timestamp:    stamp,
		Payload:      map[string]any{"settled_usd_micro": float64(1200), "outputs": float64(1)},
	})
	require.NoError(t, err)

	events, err := w.Events(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, KindExecutionSucceeded, got.Kind)
	assert.Equal(t, 2, got.AttemptIdx)
	assert.True(t, stamp.Equal(got.Timestamp))
	assert.Equal(t, float64(1200), got.Payload["settled_usd_micro"])
}

// TestSQLite_PersistsAcrossReopen verifies the log survives close/reopen.
func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	w, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = w.Append(ctx, Event{PlanID: "p1", Kind: KindExecutionStarted, TransitionID: "t1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.Events(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Seq continues from the persisted log; values are never reused.
	ev, err := reopened.Append(ctx, Event{PlanID: "p1", Kind: KindExecutionSucceeded, TransitionID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.Seq)
}

// TestEvents_ReturnsCopy verifies committed memory events cannot be mutated
// through the read path.
func TestEvents_ReturnsCopy(t *testing.T) {
	w := NewMemory()
	ctx := context.Background()

	payload := map[string]any{"code": "PROCESSOR_ERROR"}
	_, err := w.Append(ctx, Event{PlanID: "p1", Kind: KindExecutionStarted, TransitionID: "t1", Payload: payload})
	require.NoError(t, err)

	// Mutating the map handed to Append must not reach the log either.
	payload["code"] = "mutated-after-append"

	events, err := w.Events(ctx, "p1")
	require.NoError(t, err)
	events[0].Kind = KindExecutionFailed
	events[0].Payload["code"] = "mutated-through-reader"

	again, err := w.Events(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, KindExecutionStarted, again[0].Kind)
	assert.Equal(t, "PROCESSOR_ERROR", again[0].Payload["code"])
}
