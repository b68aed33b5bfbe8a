package blockio

// LDEV layout:
//
//	offset 0              : 4 KiB reserved (unused)
//	offset 4 KiB          : PBS   superblock0
//	offset 4 KiB + PBS    : snapshot_metadata_size * PBS, deprecated, reserved
//	offset ... + PBS      : PBS   superblock1 (unused)
//	remainder             : ring_buffer_pb * PBS ring buffer of logpacks
const (
	ReservedBytes = 4096
)

// Layout describes the fixed regions of an LDEV for a given physical block
// size and ring buffer size. SnapshotMetadataPB is carried only so that the
// deprecated area's span can be computed and skipped; it is never read or
// written by this module.
type Layout struct {
	PBS                uint32
	SnapshotMetadataPB uint64
	RingBufferPB        uint64
}

// Superblock0Offset returns the byte offset of the primary superblock.
func (l Layout) Superblock0Offset() int64 {
	return ReservedBytes
}

// deprecatedAreaOffset returns the byte offset of the deprecated snapshot
// metadata area, which immediately follows superblock0.
func (l Layout) deprecatedAreaOffset() int64 {
	return l.Superblock0Offset() + int64(l.PBS)
}

// Superblock1Offset returns the byte offset of the unused secondary
// superblock, which follows the deprecated area.
func (l Layout) Superblock1Offset() int64 {
	return l.deprecatedAreaOffset() + int64(l.SnapshotMetadataPB)*int64(l.PBS)
}

// RingBufferOffset returns the byte offset at which the ring buffer begins.
func (l Layout) RingBufferOffset() int64 {
	return l.Superblock1Offset() + int64(l.PBS)
}

// RingBufferOffsetPB returns RingBufferOffset expressed in physical blocks.
func (l Layout) RingBufferOffsetPB() uint64 {
	return uint64(l.RingBufferOffset()) / uint64(l.PBS)
}

// TotalBytes returns the minimum LDEV size this layout requires.
func (l Layout) TotalBytes() int64 {
	return l.RingBufferOffset() + int64(l.RingBufferPB)*int64(l.PBS)
}
