package blockio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayoutOffsets(t *testing.T) {
	l := Layout{PBS: 4096, SnapshotMetadataPB: 2, RingBufferPB: 1024}

	require.Equal(t, int64(4096), l.Superblock0Offset())
	require.Equal(t, int64(4096+4096), l.deprecatedAreaOffset())
	require.Equal(t, int64(4096+4096+2*4096), l.Superblock1Offset())
	require.Equal(t, int64(4096+4096+2*4096+4096), l.RingBufferOffset())
	require.Equal(t, l.RingBufferOffset()+1024*4096, l.TotalBytes())
}

func TestLayoutZeroSnapshotArea(t *testing.T) {
	l := Layout{PBS: 512, SnapshotMetadataPB: 0, RingBufferPB: 16}
	// reserved(4096) + superblock0(512) + superblock1(512)
	require.Equal(t, int64(4096+512+512), l.RingBufferOffset())
}

func TestRingBufferOffsetPB(t *testing.T) {
	l := Layout{PBS: 4096, SnapshotMetadataPB: 0, RingBufferPB: 16}
	off := l.RingBufferOffset()
	require.Equal(t, uint64(off)/4096, l.RingBufferOffsetPB())
}
