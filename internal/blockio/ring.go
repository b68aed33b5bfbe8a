package blockio

// RingPosition returns the physical block within the ring buffer that
// logpackLsid maps to: logpack_lsid mod ring_buffer_pb + ring_buffer_off, as
// specified for the log submitter.
func RingPosition(logpackLsid, ringBufferPB, ringBufferOffsetPB uint64) uint64 {
	return logpackLsid%ringBufferPB + ringBufferOffsetPB
}

// Span is one contiguous run of physical blocks to write or read, expressed
// as a byte range within the LDEV file.
type Span struct {
	ByteOffset int64
	Length     int
}

// SplitAtWrap splits a write of lengthPB physical blocks starting at
// logpackLsid into one or two Spans, splitting at the point where the ring
// buffer wraps back to its offset. This is required so that a logpack
// straddling the wrap is written (and later read back) as two contiguous
// I/Os instead of overrunning the ring buffer's end.
func SplitAtWrap(logpackLsid, lengthPB uint64, l Layout) []Span {
	pbs := int64(l.PBS)
	ringOffPB := l.RingBufferOffsetPB()
	startInRing := logpackLsid % l.RingBufferPB

	remainingInRing := l.RingBufferPB - startInRing
	if lengthPB <= remainingInRing {
		return []Span{{
			ByteOffset: int64(ringOffPB+startInRing) * pbs,
			Length:     int(lengthPB) * int(l.PBS),
		}}
	}

	first := Span{
		ByteOffset: int64(ringOffPB+startInRing) * pbs,
		Length:     int(remainingInRing) * int(l.PBS),
	}
	second := Span{
		ByteOffset: int64(ringOffPB) * pbs,
		Length:     int(lengthPB-remainingInRing) * int(l.PBS),
	}
	return []Span{first, second}
}
