package blockio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingPosition(t *testing.T) {
	require.Equal(t, uint64(100), RingPosition(0, 1024, 100))
	require.Equal(t, uint64(104), RingPosition(4, 1024, 100))
	// Wraps back to the start of the ring on overflow of ring_buffer_pb.
	require.Equal(t, uint64(100), RingPosition(1024, 1024, 100))
	require.Equal(t, uint64(105), RingPosition(1029, 1024, 100))
}

func TestSplitAtWrapNoWrap(t *testing.T) {
	l := Layout{PBS: 4096, RingBufferPB: 16}
	spans := SplitAtWrap(2, 4, l)
	require.Len(t, spans, 1)
	ringOff := l.RingBufferOffsetPB()
	require.Equal(t, int64(ringOff+2)*4096, spans[0].ByteOffset)
	require.Equal(t, 4*4096, spans[0].Length)
}

func TestSplitAtWrapStraddles(t *testing.T) {
	l := Layout{PBS: 4096, RingBufferPB: 16}
	// Logpack starts at lsid 14 (2 blocks remain before the ring wraps back
	// to offset 0) and spans 5 blocks, so it must straddle the wrap.
	spans := SplitAtWrap(14, 5, l)
	require.Len(t, spans, 2)
	ringOff := l.RingBufferOffsetPB()

	require.Equal(t, int64(ringOff+14)*4096, spans[0].ByteOffset)
	require.Equal(t, 2*4096, spans[0].Length)

	require.Equal(t, int64(ringOff)*4096, spans[1].ByteOffset)
	require.Equal(t, 3*4096, spans[1].Length)
}

func TestSplitAtWrapExactFit(t *testing.T) {
	l := Layout{PBS: 4096, RingBufferPB: 16}
	spans := SplitAtWrap(12, 4, l)
	require.Len(t, spans, 1)
}
