package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReserve_WithinCap tests basic reserve accounting.
func TestReserve_WithinCap(t *testing.T) {
	l := NewLedger(10_000)

	r, err := l.Reserve("p1", "t1", 0, 4_000)
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), r.ReservedUSDMicro)
	assert.Equal(t, int64(4_000), l.Committed("p1"))
	assert.Equal(t, int64(6_000), l.Available("p1"))
}

// TestReserve_ExceedsCap verifies a refused reservation mutates nothing.
func TestReserve_ExceedsCap(t *testing.T) {
	l := NewLedger(10_000)

	_, err := l.Reserve("p1", "t1", 0, 8_000)
	require.NoError(t, err)

	_, err = l.Reserve("p1", "t2", 0, 3_000)
	require.Error(t, err)
	assert.True(t, IsExceeded(err))

	// The failed reserve must not have changed totals.
	assert.Equal(t, int64(8_000), l.Committed("p1"))

	// A smaller reservation still fits.
	_, err = l.Reserve("p1", "t2", 0, 2_000)
	assert.NoError(t, err)
}

// TestSettle_Refund verifies the unused portion returns to the plan.
func TestSettle_Refund(t *testing.T) {
	l := NewLedger(10_000)

	r, err := l.Reserve("p1", "t1", 0, 5_000)
	require.NoError(t, err)

	settled, err := l.Settle(r, 1_200)
	require.NoError(t, err)
	assert.Equal(t, int64(1_200), settled.SettledUSDMicro)
	assert.True(t, settled.Settled())

	// 5_000 reserved released, 1_200 settled.
	assert.Equal(t, int64(1_200), l.Committed("p1"))
	assert.Equal(t, int64(8_800), l.Available("p1"))
}

// TestSettle_AboveReservation allows actuals over the estimate up to the cap.
func TestSettle_AboveReservation(t *testing.T) {
	l := NewLedger(10_000)

	r, err := l.Reserve("p1", "t1", 0, 2_000)
	require.NoError(t, err)

	_, err = l.Settle(r, 9_000)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000), l.Committed("p1"))
}

// TestSettle_AboveCap refuses a settlement that would break the invariant
// and leaves the reservation outstanding.
func TestSettle_AboveCap(t *testing.T) {
	l := NewLedger(10_000)

	r, err := l.Reserve("p1", "t1", 0, 2_000)
	require.NoError(t, err)

	_, err = l.Settle(r, 11_000)
	require.Error(t, err)
	assert.True(t, IsExceeded(err))
	assert.False(t, r.Settled())
	assert.Equal(t, int64(2_000), l.Committed("p1"))
}

// TestSettle_WithoutReserve covers double-settle and nil receipts.
func TestSettle_WithoutReserve(t *testing.T) {
	l := NewLedger(10_000)

	r, err := l.Reserve("p1", "t1", 0, 1_000)
	require.NoError(t, err)

	_, err = l.Settle(r, 500)
	require.NoError(t, err)

	_, err = l.Settle(r, 500)
	require.Error(t, err)
	assert.True(t, IsSettleWithoutReserve(err))

	_, err = l.Settle(nil, 0)
	require.Error(t, err)
	assert.True(t, IsSettleWithoutReserve(err))
}

// TestLedger_PlansAreIndependent verifies per-plan isolation under one cap.
func TestLedger_PlansAreIndependent(t *testing.T) {
	l := NewLedger(1_000)

	_, err := l.Reserve("p1", "t1", 0, 1_000)
	require.NoError(t, err)

	_, err = l.Reserve("p2", "t1", 0, 1_000)
	assert.NoError(t, err, "p2 has its own account")
}

// TestLedger_ConcurrentReserves hammers one plan from many goroutines and
// checks the cap invariant holds: committed never exceeds max.
func TestLedger_ConcurrentReserves(t *testing.T) {
	const maxCap = 100_000
	l := NewLedger(maxCap)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var receipts []*Receipt

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.Reserve("p1", "t", 0, 3_000)
			if err != nil {
				return
			}
			mu.Lock()
			receipts = append(receipts, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	committed := l.Committed("p1")
	assert.LessOrEqual(t, committed, int64(maxCap))
	assert.Equal(t, int64(len(receipts))*3_000, committed)

	// Settle everything at half spend; invariant still holds.
	for _, r := range receipts {
		_, err := l.Settle(r, 1_500)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(len(receipts))*1_500, l.Committed("p1"))
}
