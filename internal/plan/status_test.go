package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStatus_Terminal checks the terminal set.
func TestStatus_Terminal(t *testing.T) {
	terminals := []Status{StatusSettled, StatusRejected, StatusFailed}
	for _, s := range terminals {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	live := []Status{StatusPending, StatusAdmitted, StatusLeased, StatusReserved, StatusDispatched, StatusSucceeded, StatusRetrying}
	for _, s := range live {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

// TestStatus_HappyPath walks the full success path through Advance.
func TestStatus_HappyPath(t *testing.T) {
	tr := &Transition{ID: "t1", Status: StatusPending}

	path := []Status{StatusAdmitted, StatusLeased, StatusReserved, StatusDispatched, StatusSucceeded, StatusSettled}
	for _, next := range path {
		require.NoError(t, tr.Advance(next))
	}
	assert.Equal(t, StatusSettled, tr.Status)
}

// TestStatus_RetryLoop verifies Dispatched -> Retrying -> Reserved is allowed.
func TestStatus_RetryLoop(t *testing.T) {
	tr := &Transition{ID: "t1", Status: StatusDispatched}
	require.NoError(t, tr.Advance(StatusRetrying))
	require.NoError(t, tr.Advance(StatusReserved))
	require.NoError(t, tr.Advance(StatusDispatched))
}

// TestStatus_InvalidMoves verifies backward and skipped moves are refused.
func TestStatus_InvalidMoves(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusPending, StatusDispatched},
		{StatusSettled, StatusPending},
		{StatusRejected, StatusAdmitted},
		{StatusFailed, StatusRetrying},
		{StatusDispatched, StatusSettled}, // must pass through Succeeded
	}

	for _, tc := range cases {
		tr := &Transition{ID: "t1", Status: tc.from}
		err := tr.Advance(tc.to)
		assert.Error(t, err, "%s -> %s should be invalid", tc.from, tc.to)
		assert.Equal(t, tc.from, tr.Status, "status must not change on invalid move")
	}
}
