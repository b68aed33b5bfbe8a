// Package rangeindex is the shared ordered-map primitive used by the
// pending index and the overlap table. Both need range-query-by-key (find
// entries whose logical-block position falls in [start, end)) and stable
// iteration during deletion; a google/btree-backed ordered map meets both,
// replacing the kernel source's hand-rolled red-black tree (hashtbl.c).
package rangeindex

import (
	"sync/atomic"

	"github.com/google/btree"
)

// degree controls the branching factor of the underlying btree.BTree. 32 is
// a reasonable default for in-memory indexes of this size, matching the
// degree cockroachdb-cockroach's txn_interceptor_pipeliner.go uses for its
// in-flight write btree.
const degree = 32

// Entry is one occupant of the index: a logical-block range [Pos, Pos+Len)
// carrying an opaque payload (typically a *pack.BioWrapper). Multiple
// entries may share the same Pos while they are both in flight; Seq breaks
// ties and is assigned by the Tree on Insert.
type Entry struct {
	Pos     uint64
	Len     uint64
	Seq     uint64
	Payload any
}

// End returns the exclusive end of the entry's logical-block range.
func (e *Entry) End() uint64 { return e.Pos + e.Len }

// Overlaps reports whether e's range intersects [pos, pos+ln).
func (e *Entry) Overlaps(pos, ln uint64) bool {
	return e.Pos < pos+ln && pos < e.End()
}

type item struct {
	pos uint64
	seq uint64
	e   *Entry
}

func (a *item) Less(than btree.Item) bool {
	b := than.(*item)
	if a.pos != b.pos {
		return a.pos < b.pos
	}
	return a.seq < b.seq
}

// Tree is an ordered map of Entry keyed by (Pos, insertion order).
type Tree struct {
	t       *btree.BTree
	nextSeq atomic.Uint64
	n       int
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{t: btree.New(degree)}
}

// Insert assigns e a fresh sequence number and adds it to the tree.
func (idx *Tree) Insert(e *Entry) {
	e.Seq = idx.nextSeq.Add(1)
	idx.t.ReplaceOrInsert(&item{pos: e.Pos, seq: e.Seq, e: e})
	idx.n++
}

// Delete removes e from the tree. It is a no-op if e is not present (already
// removed, or never inserted through this Tree).
func (idx *Tree) Delete(e *Entry) {
	removed := idx.t.Delete(&item{pos: e.Pos, seq: e.Seq})
	if removed != nil {
		idx.n--
	}
}

// AscendRange calls fn for every entry with Pos in [start, end), in
// ascending (Pos, Seq) order, stopping early if fn returns false. The
// window itself is a cheap key comparison; callers must still check
// Entry.Overlaps against the actual query range, since an entry may start
// before `start` yet still overlap it.
func (idx *Tree) AscendRange(start, end uint64, fn func(*Entry) bool) {
	if idx.n == 0 {
		return
	}
	lo := &item{pos: start, seq: 0}
	hi := &item{pos: end, seq: 0}
	idx.t.AscendRange(lo, hi, func(i btree.Item) bool {
		return fn(i.(*item).e)
	})
}

// Ascend calls fn for every entry in ascending order.
func (idx *Tree) Ascend(fn func(*Entry) bool) {
	if idx.n == 0 {
		return
	}
	idx.t.Ascend(func(i btree.Item) bool {
		return fn(i.(*item).e)
	})
}

// Len returns the number of entries currently in the tree.
func (idx *Tree) Len() int { return idx.n }
