// Package lsid tracks the seven monotonic watermarks that define the state
// of the log stream: latest, flush, completed, permanent, written,
// prev_written and oldest. All watermark reads and updates are serialized
// under a single lock, matching the kernel source's single spinlock over
// the equivalent fields in struct iocore_data.
package lsid

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Lsid is a monotonically assigned identifier for a position in the log
// stream, expressed in physical blocks.
type Lsid uint64

// Watermarks is the invariant set oldest <= written <= permanent <= completed
// <= latest, plus flush (flush <= latest) and prev_written (a checkpoint
// snapshot of written).
type Watermarks struct {
	Latest      Lsid
	Flush       Lsid
	Completed   Lsid
	Permanent   Lsid
	Written     Lsid
	PrevWritten Lsid
	Oldest      Lsid
}

// ErrNotMonotonic is returned when a caller attempts to move a watermark
// backwards.
var ErrNotMonotonic = errors.New("lsid: watermark update would not be monotonic")

// Set holds the watermarks under a single mutex, mirroring the kernel
// source's single spinlock over the equivalent iocore_data fields.
type Set struct {
	mu sync.Mutex
	wm Watermarks
}

// NewSet returns a Set with all watermarks at zero.
func NewSet() *Set {
	return &Set{}
}

// Snapshot returns a copy of the current watermarks.
func (s *Set) Snapshot() Watermarks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wm
}

// AdvanceLatest bumps Latest to at least next, called by the pack builder
// on pack finalization. It is an error to move Latest backwards.
func (s *Set) AdvanceLatest(next Lsid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next < s.wm.Latest {
		return errors.Wrapf(ErrNotMonotonic, "latest %d -> %d", s.wm.Latest, next)
	}
	s.wm.Latest = next
	return nil
}

// AdvanceFlush bumps Flush, which must never exceed Latest.
func (s *Set) AdvanceFlush(next Lsid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next < s.wm.Flush {
		return errors.Wrapf(ErrNotMonotonic, "flush %d -> %d", s.wm.Flush, next)
	}
	if next > s.wm.Latest {
		return errors.Wrapf(ErrNotMonotonic, "flush %d exceeds latest %d", next, s.wm.Latest)
	}
	s.wm.Flush = next
	return nil
}

// AdvanceCompleted bumps Completed, which must never exceed Latest.
func (s *Set) AdvanceCompleted(next Lsid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next < s.wm.Completed {
		return errors.Wrapf(ErrNotMonotonic, "completed %d -> %d", s.wm.Completed, next)
	}
	if next > s.wm.Latest {
		return errors.Wrapf(ErrNotMonotonic, "completed %d exceeds latest %d", next, s.wm.Latest)
	}
	s.wm.Completed = next
	return nil
}

// AdvancePermanent bumps Permanent, which must never exceed Completed.
func (s *Set) AdvancePermanent(next Lsid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next < s.wm.Permanent {
		return errors.Wrapf(ErrNotMonotonic, "permanent %d -> %d", s.wm.Permanent, next)
	}
	if next > s.wm.Completed {
		return errors.Wrapf(ErrNotMonotonic, "permanent %d exceeds completed %d", next, s.wm.Completed)
	}
	s.wm.Permanent = next
	return nil
}

// AdvanceWritten bumps Written, which must never exceed Permanent.
func (s *Set) AdvanceWritten(next Lsid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next < s.wm.Written {
		return errors.Wrapf(ErrNotMonotonic, "written %d -> %d", s.wm.Written, next)
	}
	if next > s.wm.Permanent {
		return errors.Wrapf(ErrNotMonotonic, "written %d exceeds permanent %d", next, s.wm.Permanent)
	}
	s.wm.Written = next
	return nil
}

// Checkpoint snapshots Written into PrevWritten, called periodically by the
// checkpoint task (see pkg/walb.Device.CheckpointInterval).
func (s *Set) Checkpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wm.PrevWritten = s.wm.Written
}

// AdvanceOldest bumps Oldest, which must never exceed Written. This is also
// the entry point for the control surface's SetOldestLsid operation.
func (s *Set) AdvanceOldest(next Lsid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next < s.wm.Oldest {
		return errors.Wrapf(ErrNotMonotonic, "oldest %d -> %d", s.wm.Oldest, next)
	}
	if next > s.wm.Written {
		return errors.Wrapf(ErrNotMonotonic, "oldest %d exceeds written %d", next, s.wm.Written)
	}
	s.wm.Oldest = next
	return nil
}

// IsOverflow reports whether latest - oldest exceeds the ring buffer's
// capacity in physical blocks.
func (s *Set) IsOverflow(ringBufferPB uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(s.wm.Latest-s.wm.Oldest) > ringBufferPB
}

// LogUsage returns latest - oldest.
func (s *Set) LogUsage() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(s.wm.Latest - s.wm.Oldest)
}

// Reset zeroes every watermark, used by the control surface's ResetWAL
// operation after a fresh format. Callers are responsible for ensuring no
// other goroutine is concurrently writing through the pipeline.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wm = Watermarks{}
}
