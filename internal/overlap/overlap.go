// Package overlap implements the overlap serializer: writes
// whose logical-block ranges intersect an in-flight predecessor are delayed
// until that predecessor completes, guaranteeing submission-order DDEV
// ordering for overlapping ranges.
package overlap

import (
	"sync"

	"github.com/chunbee/walb-driver/internal/pack"
	"github.com/chunbee/walb-driver/internal/rangeindex"
)

// Table tracks in-flight data writes keyed by pos_lb.
type Table struct {
	mu         sync.Mutex
	tree       *rangeindex.Tree
	entries    map[*pack.BioWrapper]*rangeindex.Entry
	maxSeenLen uint64
}

// NewTable returns an empty overlap table.
func NewTable() *Table {
	return &Table{tree: rangeindex.New(), entries: make(map[*pack.BioWrapper]*rangeindex.Entry)}
}

func (t *Table) scanStart(w *pack.BioWrapper) uint64 {
	if w.PosLB > t.maxSeenLen {
		return w.PosLB - t.maxSeenLen
	}
	return 0
}

// Insert adds w to the table and sets w.NOverlapped to the number of
// still-in-flight predecessors whose ranges intersect w's. It returns true
// if w may be submitted to DDEV immediately (n_overlapped == 0); otherwise
// w.State.Delayed is set and the caller must wait for completions to
// release it.
func (t *Table) Insert(w *pack.BioWrapper) (ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int32
	t.tree.AscendRange(t.scanStart(w), w.End(), func(e *rangeindex.Entry) bool {
		pred := e.Payload.(*pack.BioWrapper)
		if pred != w && pred.Overlaps(w.PosLB, w.LenLB) {
			n++
		}
		return true
	})
	w.NOverlapped.Store(n)

	e := &rangeindex.Entry{Pos: w.PosLB, Len: w.LenLB, Payload: w}
	t.tree.Insert(e)
	t.entries[w] = e
	if w.LenLB > t.maxSeenLen {
		t.maxSeenLen = w.LenLB
	}

	if n == 0 {
		return true
	}
	w.State.Delayed.Store(true)
	return false
}

// Complete removes w from the table and returns the successors whose
// n_overlapped has just dropped to zero as a result, ready to submit.
func (t *Table) Complete(w *pack.BioWrapper) []*pack.BioWrapper {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[w]
	if !ok {
		return nil
	}
	delete(t.entries, w)
	t.tree.Delete(e)

	var ready []*pack.BioWrapper
	t.tree.AscendRange(t.scanStart(w), w.End(), func(oe *rangeindex.Entry) bool {
		succ := oe.Payload.(*pack.BioWrapper)
		if succ == w || !succ.Overlaps(w.PosLB, w.LenLB) {
			return true
		}
		if succ.NOverlapped.Add(-1) == 0 {
			ready = append(ready, succ)
		}
		return true
	})
	return ready
}
