package pack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBioWrapperDefaults(t *testing.T) {
	w := NewBioWrapper(10, 8, true, []byte("payload"))
	require.Equal(t, uint64(10), w.PosLB)
	require.Equal(t, uint64(18), w.End())
	require.True(t, w.IsWrite)
	require.False(t, w.State.Completed.Load())
}

func TestFinishClosesDoneExactlyOnce(t *testing.T) {
	w := NewBioWrapper(0, 1, true, nil)
	w.Finish(nil)
	require.True(t, w.State.Completed.Load())
	select {
	case <-w.Done:
	default:
		t.Fatal("Done channel should be closed after Finish")
	}
}

func TestOverlaps(t *testing.T) {
	w := NewBioWrapper(10, 10, true, nil) // [10, 20)
	require.True(t, w.Overlaps(15, 5))    // [15, 20)
	require.True(t, w.Overlaps(5, 10))    // [5, 15)
	require.False(t, w.Overlaps(20, 5))   // [20, 25) touches but does not overlap
	require.False(t, w.Overlaps(0, 10))   // [0, 10) touches but does not overlap
}
