package pending

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chunbee/walb-driver/internal/pack"
)

func testIndex() *Index {
	return NewIndex(Config{LBS: 512, MaxPendingSectors: 1000, MinPendingSectors: 100, QueueStopTimeout: time.Second})
}

func TestInsertAndCheckAndCopy(t *testing.T) {
	idx := testIndex()
	data := make([]byte, 4*512)
	for i := range data {
		data[i] = 0xAB
	}
	w := pack.NewBioWrapper(100, 4, true, data)
	idx.Insert(w)

	buf := make([]byte, 4*512)
	idx.CheckAndCopy(100, 4, buf)
	require.Equal(t, data, buf)
}

func TestCheckAndCopyPartialOverlap(t *testing.T) {
	idx := testIndex()
	data := make([]byte, 4*512)
	for i := range data {
		data[i] = 0xCD
	}
	w := pack.NewBioWrapper(100, 4, true, data) // [100,104)
	idx.Insert(w)

	buf := make([]byte, 4*512)
	idx.CheckAndCopy(102, 4, buf) // [102,106) overlaps [102,104)
	// First 2 blocks (pos 102,103) should be patched; last 2 blocks untouched.
	require.Equal(t, byte(0xCD), buf[0])
	require.Equal(t, byte(0xCD), buf[512+10])
	require.Equal(t, byte(0), buf[2*512])
}

func TestInsertMarksFullyCoveredPredecessorOverwritten(t *testing.T) {
	idx := testIndex()
	w1 := pack.NewBioWrapper(100, 4, true, make([]byte, 4*512)) // [100,104)
	idx.Insert(w1)
	w2 := pack.NewBioWrapper(100, 8, true, make([]byte, 8*512)) // [100,108) covers w1
	idx.Insert(w2)

	require.True(t, w1.State.Overwritten.Load())
	require.Equal(t, uint64(8), idx.PendingSectors())
}

func TestDeleteSkipsOverwritten(t *testing.T) {
	idx := testIndex()
	w1 := pack.NewBioWrapper(100, 4, true, make([]byte, 4*512))
	idx.Insert(w1)
	w2 := pack.NewBioWrapper(100, 8, true, make([]byte, 8*512))
	idx.Insert(w2)

	idx.Delete(w1) // no-op, already overwritten and removed
	require.Equal(t, uint64(8), idx.PendingSectors())

	idx.Delete(w2)
	require.Zero(t, idx.PendingSectors())
}

func TestDiscardCountsAsOneSector(t *testing.T) {
	idx := testIndex()
	w := pack.NewBioWrapper(0, 50, true, nil)
	w.IsDiscard = true
	idx.Insert(w)
	require.Equal(t, uint64(1), idx.PendingSectors())
}

func TestReserveReturnsImmediatelyWhenUnderLimit(t *testing.T) {
	idx := testIndex()
	err := idx.Reserve(context.Background(), 10)
	require.NoError(t, err)
}

func TestReserveUnblocksWhenBelowMin(t *testing.T) {
	idx := NewIndex(Config{LBS: 512, MaxPendingSectors: 10, MinPendingSectors: 5, QueueStopTimeout: time.Second})
	w := pack.NewBioWrapper(0, 9, true, make([]byte, 9*512))
	idx.Insert(w)

	done := make(chan error, 1)
	go func() { done <- idx.Reserve(context.Background(), 5) }()

	select {
	case <-done:
		t.Fatal("Reserve should block while pending sectors exceed max")
	case <-time.After(20 * time.Millisecond):
	}

	idx.Delete(w) // drains pending sectors to 0, below min
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Reserve should unblock once pending sectors drop below min")
	}
}

func TestReserveUnblocksOnTimeout(t *testing.T) {
	idx := NewIndex(Config{LBS: 512, MaxPendingSectors: 10, MinPendingSectors: 5, QueueStopTimeout: 20 * time.Millisecond})
	w := pack.NewBioWrapper(0, 9, true, make([]byte, 9*512))
	idx.Insert(w)

	start := time.Now()
	err := idx.Reserve(context.Background(), 5)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
