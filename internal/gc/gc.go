// Package gc implements the completion/GC stage: it
// collects wrapper completions, releases the overlap and pending indexes,
// advances the written watermark once a whole pack's wrappers are done, and
// paces itself against a bounded pack queue.
package gc

import (
	"context"

	"github.com/chunbee/walb-driver/internal/devstate"
	"github.com/chunbee/walb-driver/internal/lsid"
	"github.com/chunbee/walb-driver/internal/overlap"
	"github.com/chunbee/walb-driver/internal/pack"
	"github.com/chunbee/walb-driver/internal/pending"
)

// Collector processes wrapper and pack completions.
type Collector struct {
	wm      *lsid.Set
	overlap *overlap.Table
	pending *pending.Index
	flags   *devstate.Flags
}

// NewCollector returns a Collector wired to the given shared state.
func NewCollector(wm *lsid.Set, overlapTbl *overlap.Table, pendingIdx *pending.Index, flags *devstate.Flags) *Collector {
	return &Collector{wm: wm, overlap: overlapTbl, pending: pendingIdx, flags: flags}
}

// CompleteWrapper marks w done with err, removes it from the pending index
// (unless it was overwritten, in which case Insert already removed it), and
// releases it from the overlap table, returning the successors whose
// n_overlapped just reached zero and that are now ready for submission. A
// non-nil err transitions the device to read-only.
func (c *Collector) CompleteWrapper(w *pack.BioWrapper, err error) []*pack.BioWrapper {
	w.Finish(err)
	if err != nil {
		c.flags.SetFailure()
		c.flags.SetReadOnly()
	}
	c.pending.Delete(w)
	return c.overlap.Complete(w)
}

// CompletePack walks p's wrapper list with a Cursor, removing each
// completed wrapper in place, and reports whether every wrapper has now
// completed. If so, it advances the written watermark to cover the whole
// pack. It returns false with no error if the pack still has outstanding
// wrappers; p.Wrappers is left holding just those.
func (c *Collector) CompletePack(p *pack.Pack) (done bool, err error) {
	cur := pack.NewCursor(p)
	for !cur.Done() {
		if cur.Peek().State.Completed.Load() {
			cur.RemoveCurrent()
			continue
		}
		cur.Advance()
	}
	p.Wrappers = cur.Remaining()
	if len(p.Wrappers) > 0 {
		return false, nil
	}

	next := p.LogpackLsid + lsid.Lsid(p.PackPBSize())
	if err := c.wm.AdvanceWritten(next); err != nil {
		return false, err
	}
	return true, nil
}

// Queue is a bounded queue of sealed packs awaiting GC, pacing the GC
// worker against n_pack_bulk.
type Queue struct {
	ch chan *pack.Pack
}

// NewQueue returns a Queue bounded to capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *pack.Pack, capacity)}
}

// Enqueue blocks until there is room in the queue or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, p *pack.Pack) error {
	select {
	case q.ch <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue enqueues p without blocking, reporting false if the queue is
// currently full.
func (q *Queue) TryEnqueue(p *pack.Pack) bool {
	select {
	case q.ch <- p:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a pack is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*pack.Pack, error) {
	select {
	case p := <-q.ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close signals that no more packs will be enqueued.
func (q *Queue) Close() { close(q.ch) }
