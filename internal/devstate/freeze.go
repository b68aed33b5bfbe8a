package devstate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// drainWeight is an arbitrarily large weight used so that FreezeGate.Freeze
// can acquire the entire semaphore (draining all in-flight writers) by
// requesting drainWeight while each writer only ever holds 1.
const drainWeight = 1 << 30

// FreezeGate implements freeze/melt: writers acquire a
// single unit for the duration of their write; Freeze acquires the whole
// semaphore, blocking until every in-flight writer has released, and then
// holds it until Melt releases it back. n_stoppers counts nested Freeze
// callers so melt only re-admits writers once every stopper has called
// Melt.
type FreezeGate struct {
	sem *semaphore.Weighted

	mu        sync.Mutex
	nStoppers int
	held      bool
}

// NewFreezeGate returns a gate with no writers frozen.
func NewFreezeGate() *FreezeGate {
	return &FreezeGate{sem: semaphore.NewWeighted(drainWeight)}
}

// AcquireWriter blocks until a write may proceed (the device is not
// frozen), returning a release func that must be called when the write
// completes.
func (g *FreezeGate) AcquireWriter(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// Freeze blocks until all in-flight writers have drained and then stops
// admitting new ones. Nested Freeze calls increment n_stoppers; the gate
// stays frozen until a matching number of Melt calls.
func (g *FreezeGate) Freeze(ctx context.Context) error {
	g.mu.Lock()
	if g.nStoppers == 0 {
		g.mu.Unlock()
		if err := g.sem.Acquire(ctx, drainWeight); err != nil {
			return err
		}
		g.mu.Lock()
		g.held = true
	}
	g.nStoppers++
	g.mu.Unlock()
	return nil
}

// Melt decrements n_stoppers, releasing the drain lock and re-admitting
// writers once the last stopper calls Melt.
func (g *FreezeGate) Melt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nStoppers == 0 {
		return
	}
	g.nStoppers--
	if g.nStoppers == 0 && g.held {
		g.sem.Release(drainWeight)
		g.held = false
	}
}

// IsFrozen reports whether writers are currently blocked.
func (g *FreezeGate) IsFrozen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nStoppers > 0
}
