package pack

import (
	"sync/atomic"

	"github.com/chunbee/walb-driver/internal/lsid"
)

// WrapperState holds the per-wrapper state bits: started, prepared,
// submitted, completed, delayed, discard, overwritten. Each is an
// independent atomic.Bool since they are set from different pipeline
// stages without a shared lock.
type WrapperState struct {
	Started     atomic.Bool
	Prepared    atomic.Bool
	Submitted   atomic.Bool
	Completed   atomic.Bool
	Delayed     atomic.Bool
	Discard     atomic.Bool
	Overwritten atomic.Bool
}

// BioWrapper is the per-request state threaded through the pipeline: pack
// builder -> log submitter -> permanence gate -> pending index -> overlap
// serializer -> data submitter -> completion/GC.
//
// A wrapper's membership in the submit queue, the data-stage queue, the
// sorted-for-submission list, and the overlap-delayed list are four
// distinct collections owned by the relevant pipeline stage, not four link
// fields on this struct (per DESIGN NOTES: model four queue identities as
// four separate collections).
type BioWrapper struct {
	PosLB uint64
	LenLB uint64
	IsWrite bool
	IsFlush bool
	IsFUA   bool
	IsDiscard bool

	// Data is the original bio's payload buffer for writes; nil for reads
	// until DDEV read completion fills it in.
	Data []byte

	Checksum uint32   // writes only, computed at enqueue time
	Lsid     lsid.Lsid // writes only, assigned by the pack builder

	State WrapperState

	// NOverlapped counts in-flight predecessor writes whose ranges
	// intersect this wrapper's range; decremented as predecessors
	// complete, and the wrapper is submitted to DDEV once it reaches zero.
	NOverlapped atomic.Int32

	// Done is closed (after Err is set) when the wrapper's DDEV (or, for a
	// read, the combined DDEV+pending-patch) work is complete.
	Done chan struct{}
	Err  error
}

// NewBioWrapper returns a BioWrapper ready to enter the submit queue.
func NewBioWrapper(posLB, lenLB uint64, isWrite bool, data []byte) *BioWrapper {
	return &BioWrapper{
		PosLB:   posLB,
		LenLB:   lenLB,
		IsWrite: isWrite,
		Data:    data,
		Done:    make(chan struct{}),
	}
}

// Finish marks the wrapper complete with err, waking any waiter blocked on
// Done. It must be called exactly once per wrapper.
func (w *BioWrapper) Finish(err error) {
	w.Err = err
	w.State.Completed.Store(true)
	close(w.Done)
}

// End returns the exclusive end of the wrapper's logical-block range.
func (w *BioWrapper) End() uint64 { return w.PosLB + w.LenLB }

// Overlaps reports whether w's range intersects [pos, pos+ln).
func (w *BioWrapper) Overlaps(pos, ln uint64) bool {
	return w.PosLB < pos+ln && pos < w.End()
}
