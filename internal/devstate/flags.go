// Package devstate tracks the per-device state bits: the
// read-only/failure/log-overflow flags, the four task-working gates, and
// freeze/melt coordination.
package devstate

import (
	"context"
	"os/exec"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Flags is an atomic bitset mirroring the kernel source's device status
// bits. Read-only and failure are only ever set; log-overflow stays set
// until a caller clears it with SetLogOverflow(false).
type Flags struct {
	readOnly    atomic.Bool
	failure     atomic.Bool
	logOverflow atomic.Bool
}

func (f *Flags) SetReadOnly()    { f.readOnly.Store(true) }
func (f *Flags) IsReadOnly() bool { return f.readOnly.Load() }

func (f *Flags) SetFailure()    { f.failure.Store(true) }
func (f *Flags) IsFailure() bool { return f.failure.Load() }

func (f *Flags) SetLogOverflow(v bool) { f.logOverflow.Store(v) }
func (f *Flags) IsLogOverflow() bool   { return f.logOverflow.Load() }

// TaskGate enforces the kernel source's "task working" bit: at most one
// goroutine runs a pipeline stage's body at a time, and a concurrent
// trigger while the stage is running is coalesced into one more run rather
// than queued, self-cleaning enqueue semantics.
type TaskGate struct {
	working atomic.Bool
	pending atomic.Bool
}

// TryEnter reports whether the caller may run the stage body now. If the
// gate is already held, it records that another run was requested (Pending)
// and returns false; the current holder is responsible for checking
// Pending after it finishes and looping if set.
func (g *TaskGate) TryEnter() bool {
	if g.working.CompareAndSwap(false, true) {
		return true
	}
	g.pending.Store(true)
	return false
}

// Leave releases the gate, returning true if another run was requested
// while this one was in progress (the caller should loop instead of
// returning).
func (g *TaskGate) Leave() bool {
	again := g.pending.Swap(false)
	if again {
		return true
	}
	g.working.Store(false)
	// A request may have arrived in the gap between the Swap above and this
	// Store; re-check once more before truly releasing.
	if g.pending.Swap(false) {
		g.working.Store(true)
		return true
	}
	return false
}

// OverflowWarner rate-limits the "ring buffer overflow" warning to at most
// one every period, per device, instead of flooding logs on every write
// while the device is overflowing.
type OverflowWarner struct {
	limiter  *rate.Limiter
	execPath string
}

// NewOverflowWarner returns a warner allowing one warning per period.
// execPath, if non-empty, is invoked as a userland error hook on every
// permitted warning.
func NewOverflowWarner(period time.Duration, execPath string) *OverflowWarner {
	return &OverflowWarner{
		limiter:  rate.NewLimiter(rate.Every(period), 1),
		execPath: execPath,
	}
}

// Warn reports whether a warning should be emitted now, and if so runs the
// configured error hook with the "overflow" event for deviceName.
func (w *OverflowWarner) Warn(ctx context.Context, deviceName string) bool {
	if !w.limiter.Allow() {
		return false
	}
	if w.execPath != "" {
		cmd := exec.CommandContext(ctx, w.execPath, deviceName, "overflow")
		_ = cmd.Run()
	}
	return true
}
