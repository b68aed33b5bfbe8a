// Package pending implements the pending-data index: an
// associative structure keyed by pos_lb that lets readers patch the bytes
// of in-flight, not-yet-persisted writes into a read buffer, and that backs
// the builder's memory backpressure.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/chunbee/walb-driver/internal/pack"
	"github.com/chunbee/walb-driver/internal/rangeindex"
)

// pollInterval is the sleep increment used while waiting for pending
// backpressure to drain, mirroring the permanence gate's polling style.
const pollInterval = time.Millisecond

// Config governs the index's backpressure thresholds (logical blocks).
type Config struct {
	LBS               uint32
	MaxPendingSectors uint64
	MinPendingSectors uint64
	QueueStopTimeout  time.Duration
}

// Index is the pending-data index.
type Index struct {
	mu             sync.Mutex
	tree           *rangeindex.Tree
	entries        map[*pack.BioWrapper]*rangeindex.Entry
	maxSeenLen     uint64
	pendingSectors uint64
	cfg            Config
}

// NewIndex returns an empty pending index.
func NewIndex(cfg Config) *Index {
	return &Index{
		tree:    rangeindex.New(),
		entries: make(map[*pack.BioWrapper]*rangeindex.Entry),
		cfg:     cfg,
	}
}

// sectorsOf returns the number of pending_sectors w contributes; discards
// count as 1 since they are metadata-only.
func sectorsOf(w *pack.BioWrapper) uint64 {
	if w.IsDiscard {
		return 1
	}
	return w.LenLB
}

// Insert places w at key w.PosLB. Any existing pending entry whose range is
// fully covered by w is marked overwritten and removed, since w's bytes
// supersede it entirely.
func (idx *Index) Insert(w *pack.BioWrapper) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var toRemove []*rangeindex.Entry
	idx.tree.AscendRange(w.PosLB, w.End(), func(e *rangeindex.Entry) bool {
		if e.Pos >= w.PosLB && e.End() <= w.End() {
			toRemove = append(toRemove, e)
		}
		return true
	})
	for _, e := range toRemove {
		ew := e.Payload.(*pack.BioWrapper)
		ew.State.Overwritten.Store(true)
		idx.tree.Delete(e)
		delete(idx.entries, ew)
		idx.pendingSectors -= sectorsOf(ew)
	}

	e := &rangeindex.Entry{Pos: w.PosLB, Len: w.LenLB, Payload: w}
	idx.tree.Insert(e)
	idx.entries[w] = e

	length := sectorsOf(w)
	idx.pendingSectors += length
	if length > idx.maxSeenLen {
		idx.maxSeenLen = length
	}
}

// Delete removes w unless it was already marked overwritten (in which case
// Insert already removed its index entry).
func (idx *Index) Delete(w *pack.BioWrapper) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if w.State.Overwritten.Load() {
		return
	}
	e, ok := idx.entries[w]
	if !ok {
		return
	}
	delete(idx.entries, w)
	idx.tree.Delete(e)
	idx.pendingSectors -= sectorsOf(w)
}

// CheckAndCopy scans entries with keys in
// [posLB - maxSeenLen, posLB + lenLB) and, for each that overlaps the read
// range, copies the pending write's bytes over the corresponding region of
// buf. buf must be sized lenLB * LBS bytes. The index lock is held across
// the copy to exclude completion-path deletes.
func (idx *Index) CheckAndCopy(posLB, lenLB uint64, buf []byte) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var start uint64
	if posLB > idx.maxSeenLen {
		start = posLB - idx.maxSeenLen
	}

	idx.tree.AscendRange(start, posLB+lenLB, func(e *rangeindex.Entry) bool {
		w := e.Payload.(*pack.BioWrapper)
		if !w.Overlaps(posLB, lenLB) || w.IsDiscard || w.Data == nil {
			return true
		}

		lo := max64(w.PosLB, posLB)
		hi := min64(w.End(), posLB+lenLB)
		if lo >= hi {
			return true
		}

		lbs := uint64(idx.cfg.LBS)
		srcOff := (lo - w.PosLB) * lbs
		dstOff := (lo - posLB) * lbs
		n := (hi - lo) * lbs
		copy(buf[dstOff:dstOff+n], w.Data[srcOff:srcOff+n])
		return true
	})
}

// Reserve returns at once if admitting a write of newLen sectors would not
// push pending_sectors over MaxPendingSectors. Otherwise it blocks until
// pending_sectors drops below MinPendingSectors or QueueStopTimeout
// elapses, whichever comes first; MaxPendingSectors is not re-checked.
func (idx *Index) Reserve(ctx context.Context, newLen uint64) error {
	idx.mu.Lock()
	over := idx.pendingSectors+newLen > idx.cfg.MaxPendingSectors
	idx.mu.Unlock()
	if !over {
		return nil
	}

	deadline := time.Now().Add(idx.cfg.QueueStopTimeout)
	for {
		idx.mu.Lock()
		below := idx.pendingSectors < idx.cfg.MinPendingSectors
		idx.mu.Unlock()
		if below || time.Now().After(deadline) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// PendingSectors returns the current sum of pending write lengths.
func (idx *Index) PendingSectors() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.pendingSectors
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
