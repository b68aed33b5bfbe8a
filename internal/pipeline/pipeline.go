// Package pipeline wires the pack builder, log submitter, permanence gate,
// pending index, overlap serializer, data submitter, and completion/GC
// stages into the end-to-end write and read paths.
package pipeline

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/chunbee/walb-driver/internal/datasubmit"
	"github.com/chunbee/walb-driver/internal/devstate"
	"github.com/chunbee/walb-driver/internal/gc"
	"github.com/chunbee/walb-driver/internal/logsubmit"
	"github.com/chunbee/walb-driver/internal/overlap"
	"github.com/chunbee/walb-driver/internal/pack"
	"github.com/chunbee/walb-driver/internal/pending"
	"github.com/chunbee/walb-driver/internal/permanence"
)

// ErrReadOnly is returned by Write once the device has transitioned to
// read-only mode.
var ErrReadOnly = errors.New("pipeline: device is read-only")

// DataReader is the subset of blockio.Device the read path needs.
type DataReader interface {
	ReadAt(buf []byte, off int64) (int, error)
}

// Pipeline is the assembled I/O pipeline for one device.
type Pipeline struct {
	builder *pack.Builder
	logsub  *logsubmit.Submitter
	perm    *permanence.Gate
	pending *pending.Index
	overlap *overlap.Table
	datasub *datasubmit.Submitter
	gc      *gc.Collector
	flags   *devstate.Flags
	freeze  *devstate.FreezeGate
	ddev    DataReader
	lbs     uint32
	ioBulk  int

	mu     sync.Mutex
	packOf map[*pack.BioWrapper]*pack.Pack

	gate    devstate.TaskGate
	queueMu sync.Mutex
	queue   []*pack.BioWrapper

	gcQueue   *gc.Queue
	stopGC    chan struct{}
	closeOnce sync.Once
}

// New assembles a Pipeline from its already-constructed stages and starts a
// background worker that re-drives pack completion from gcQueueCap's
// bounded queue, backstopping the synchronous completion already done
// inline by submitAndCascade.
func New(
	builder *pack.Builder,
	logsub *logsubmit.Submitter,
	perm *permanence.Gate,
	pendingIdx *pending.Index,
	overlapTbl *overlap.Table,
	datasub *datasubmit.Submitter,
	collector *gc.Collector,
	flags *devstate.Flags,
	freeze *devstate.FreezeGate,
	ddev DataReader,
	lbs uint32,
	gcQueueCap int,
	ioBulk int,
) *Pipeline {
	if gcQueueCap <= 0 {
		gcQueueCap = 1
	}
	if ioBulk <= 0 {
		ioBulk = 1
	}
	p := &Pipeline{
		builder: builder,
		logsub:  logsub,
		perm:    perm,
		pending: pendingIdx,
		overlap: overlapTbl,
		datasub: datasub,
		gc:      collector,
		flags:   flags,
		freeze:  freeze,
		ddev:    ddev,
		lbs:     lbs,
		ioBulk:  ioBulk,
		packOf:  make(map[*pack.BioWrapper]*pack.Pack),
		gcQueue: gc.NewQueue(gcQueueCap),
		stopGC:  make(chan struct{}),
	}
	go p.runGC()
	return p
}

// runGC drains gcQueue, re-calling CompletePack for each pack until Close
// stops it. CompletePack is idempotent, so this only ever redoes work the
// inline path already did or finishes a pack inline completion missed
// because its last wrapper's cascade raced this worker.
func (p *Pipeline) runGC() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stopGC
		cancel()
	}()
	for {
		pk, err := p.gcQueue.Dequeue(ctx)
		if err != nil {
			return
		}
		// CompletePack directly, not tryCompletePack: re-enqueuing an
		// already-complete pack here would spin the worker forever.
		_, _ = p.gc.CompletePack(pk)
	}
}

// Close stops the background GC worker. It does not close the underlying
// devices; callers close those separately. Close is safe to call more than
// once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() { close(p.stopGC) })
}

// Write enqueues w for the next logpack and blocks until its DDEV write (or
// log-only completion, for a zero-length flush) has completed. Concurrent
// callers coalesce onto a single builder/log-submitter run rather than
// racing each other directly: both components are documented as
// single-goroutine-at-a-time, so whichever caller's TryEnter wins the
// devstate.TaskGate becomes the pack-assembly worker for every wrapper
// queued by the time it looks, itself included, mirroring the original's
// single logpack-submit task per device.
func (p *Pipeline) Write(ctx context.Context, w *pack.BioWrapper) error {
	if p.flags.IsReadOnly() {
		return ErrReadOnly
	}

	release, err := p.freeze.AcquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	p.queueMu.Lock()
	p.queue = append(p.queue, w)
	p.queueMu.Unlock()

	if p.gate.TryEnter() {
		if err := p.drain(ctx); err != nil {
			p.gate.Leave()
			return err
		}
	}

	<-w.Done
	return w.Err
}

// drain repeatedly builds and admits every wrapper queued so far, looping
// as long as TaskGate reports another caller queued more work while this
// run was in flight, and otherwise releasing the gate. A batch may contain
// wrappers belonging to other goroutines' Write calls, so a failure here is
// delivered to every wrapper in the batch via Finish rather than just
// returned to this caller: admitPack itself leaves each wrapper it
// actually reached already finished, and finishBatch catches the rest.
func (p *Pipeline) drain(ctx context.Context) error {
	for {
		p.queueMu.Lock()
		batch := p.queue
		p.queue = nil
		p.queueMu.Unlock()

		if len(batch) > 0 {
			packs, err := p.builder.BuildBatch(batch)
			if err != nil {
				finishBatch(batch, err)
				return err
			}
			for _, pk := range packs {
				if err := p.admitPack(ctx, pk); err != nil {
					finishBatch(batch, err)
					return err
				}
			}
		}

		if !p.gate.Leave() {
			return nil
		}
	}
}

// finishBatch marks every not-yet-finished wrapper in batch done with err,
// so a Write call blocked on w.Done unblocks even when the failure occurred
// while another goroutine was acting as the drain worker.
func finishBatch(batch []*pack.BioWrapper, err error) {
	for _, w := range batch {
		select {
		case <-w.Done:
		default:
			w.Finish(err)
		}
	}
}

// admitPack reserves pending-index backpressure, writes the pack to LDEV,
// waits for its wrappers to become durable, and hands each wrapper to the
// overlap serializer.
func (p *Pipeline) admitPack(ctx context.Context, pk *pack.Pack) error {
	// Reserve counts logical blocks (discards as 1), not the pack's
	// physical-block payload size.
	var newLen uint64
	for _, w := range pk.Wrappers {
		if w.IsDiscard {
			newLen++
		} else {
			newLen += w.LenLB
		}
	}
	if err := p.pending.Reserve(ctx, newLen); err != nil {
		return err
	}

	if err := p.logsub.Submit(pk); err != nil {
		p.flags.SetReadOnly()
		return err
	}

	var ready []*pack.BioWrapper
	for _, w := range pk.Wrappers {
		p.mu.Lock()
		p.packOf[w] = pk
		p.mu.Unlock()

		if w.LenLB == 0 {
			// Zero-length flush: durability is the whole operation: there
			// is no data-device leg, and its own lsid already coincides
			// with the pack's logpack_lsid.
			p.gc.CompleteWrapper(w, nil)
			p.tryCompletePack(pk)
			continue
		}

		if err := p.perm.Await(ctx, w.Lsid); err != nil {
			return err
		}
		p.pending.Insert(w)

		if p.overlap.Insert(w) {
			ready = append(ready, w)
		}
	}
	if len(ready) > 0 {
		p.submitAndCascade(ready)
	}
	return nil
}

// submitAndCascade submits batch to DDEV in chunks of at most ioBulk
// wrappers, completes each wrapper, and recursively submits whatever
// overlap successors those completions released.
func (p *Pipeline) submitAndCascade(batch []*pack.BioWrapper) {
	var g errgroup.Group
	for len(batch) > 0 {
		n := p.ioBulk
		if n > len(batch) {
			n = len(batch)
		}
		chunk := batch[:n]
		batch = batch[n:]

		err := p.datasub.SubmitBatch(chunk)

		var ready []*pack.BioWrapper
		for _, w := range chunk {
			ready = append(ready, p.gc.CompleteWrapper(w, err)...)

			p.mu.Lock()
			pk := p.packOf[w]
			delete(p.packOf, w)
			p.mu.Unlock()
			if pk != nil {
				p.tryCompletePack(pk)
			}
		}

		// ready holds wrappers the overlap table just released; by
		// contract they no longer overlap each other or this chunk, so
		// their cascades can run concurrently with the next chunk.
		if len(ready) > 0 {
			g.Go(func() error {
				p.submitAndCascade(ready)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (p *Pipeline) tryCompletePack(pk *pack.Pack) {
	// CompletePack is idempotent to call repeatedly; errors here surface
	// through AdvanceWritten's own monotonicity check, which is benign if
	// another wrapper's completion already advanced it.
	done, _ := p.gc.CompletePack(pk)
	if !done {
		// Not every wrapper has landed yet; queue a paced re-check instead
		// of relying solely on whichever wrapper's cascade happens to be
		// the last to call in. Dropping pk when the queue is momentarily
		// full is safe: the next wrapper completion calls tryCompletePack
		// again regardless.
		p.gcQueue.TryEnqueue(pk)
	}
}

// Read reads lenLB logical blocks at posLB from DDEV into a fresh buffer,
// then patches any still-pending overwriting bytes over it, so in-flight
// writes win over what DDEV holds.
func (p *Pipeline) Read(ctx context.Context, posLB, lenLB uint64, lbs uint32) ([]byte, error) {
	buf := make([]byte, lenLB*uint64(lbs))
	if _, err := p.ddev.ReadAt(buf, int64(posLB)*int64(lbs)); err != nil {
		return nil, errors.Wrap(err, "pipeline: DDEV read failed")
	}
	p.pending.CheckAndCopy(posLB, lenLB, buf)
	return buf, nil
}
