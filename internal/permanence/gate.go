// Package permanence implements the permanence gate:
// before a wrapper's data is submitted to DDEV, its lsid must not exceed
// the permanent watermark.
package permanence

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/chunbee/walb-driver/internal/devstate"
	"github.com/chunbee/walb-driver/internal/lsid"
)

// pollInterval is the sleep increment used while waiting for the permanent
// watermark to catch up.
const pollInterval = time.Millisecond

// LDEVFlusher issues an unconditional flush of the log device.
type LDEVFlusher interface {
	Flush() error
}

// Config governs when the gate may delay versus force a flush. An interval
// of zero disables the gate entirely (benchmarking mode, durability not
// guaranteed), matching log_flush_interval_jiffies == 0.
type Config struct {
	// Period bounds how long the gate will sleep before forcing a flush
	// regardless of watermark progress, log_flush_interval_jiffies's Go
	// equivalent.
	Period time.Duration
}

// Gate enforces flush-before-data-submit.
type Gate struct {
	wm    *lsid.Set
	ldev  LDEVFlusher
	flags *devstate.Flags
	cfg   Config

	lastForce time.Time
}

// NewGate returns a gate that flushes ldev and advances wm's flush/permanent
// watermarks when forced.
func NewGate(wm *lsid.Set, ldev LDEVFlusher, flags *devstate.Flags, cfg Config) *Gate {
	return &Gate{wm: wm, ldev: ldev, flags: flags, cfg: cfg}
}

// Await blocks until target <= permanent. While waiting, it forces an
// unconditional LDEV flush whenever Completed is ahead of Permanent and at
// least the configured period has passed since the gate's previous forced
// flush; the gate's first forced flush happens without waiting. It is a
// no-op when the gate is disabled (cfg.Period == 0).
func (g *Gate) Await(ctx context.Context, target lsid.Lsid) error {
	if g.cfg.Period == 0 {
		return nil
	}

	for {
		wm := g.wm.Snapshot()
		if target <= wm.Permanent {
			return nil
		}

		// Only log data actually written and waited-on (Completed) can be
		// promoted to permanent; a target beyond Completed means the log
		// submitter hasn't caught up yet and forcing a flush now wouldn't
		// make it durable any sooner.
		if wm.Completed > wm.Permanent &&
			(g.lastForce.IsZero() || time.Since(g.lastForce) >= g.cfg.Period) {
			if err := g.force(wm.Completed); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// force promotes flush and permanent to upTo (never beyond Completed) and
// issues an unconditional LDEV flush. A flush failure transitions the
// device to read-only.
func (g *Gate) force(upTo lsid.Lsid) error {
	g.lastForce = time.Now()

	if err := g.wm.AdvanceFlush(upTo); err != nil {
		return err
	}
	if err := g.ldev.Flush(); err != nil {
		g.flags.SetReadOnly()
		return errors.Wrap(err, "permanence: LDEV flush failed")
	}
	return g.wm.AdvancePermanent(upTo)
}
