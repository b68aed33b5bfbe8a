package walb

import "time"

// Option configures a Device at FormatLDEV or CreateDevice, using the
// standard functional option pattern.
type Option interface {
	apply(*Options)
}

// OptionFunc adapts a plain function to Option.
type OptionFunc func(*Options)

func (f OptionFunc) apply(o *Options) { f(o) }

// Options holds a device's creation-time tunables.
type Options struct {
	Name string

	MaxLogpackKB     uint64 // 0 = unlimited
	MaxPendingMB     uint64
	MinPendingMB     uint64
	QueueStopTimeout time.Duration
	FlushIntervalMB  uint64
	FlushIntervalMS  uint64
	NPackBulk        int
	NIOBulk          int

	PBS uint32
	LBS uint32

	IsSortDataIO          bool
	IsErrorBeforeOverflow bool
	IsSyncSuperblock      bool
	ExecPathOnError       string
	DiscardMode           DiscardMode

	RingBufferPB uint64
}

// DiscardMode resolves the open question of how a DISCARD record behaves
// when the underlying DDEV does not support discard.
type DiscardMode int

const (
	// DiscardElide drops the DDEV-side discard silently, matching current
	// (source) behavior: the logical effect is recorded in the log but the
	// data device is left untouched. This is the default.
	DiscardElide DiscardMode = iota
	// DiscardLogOnly is the same as DiscardElide but also marks the pack
	// header record so a future extractor can tell a discard was elided.
	DiscardLogOnly
)

func defaultOptions() Options {
	return Options{
		Name:             "walb0",
		MaxPendingMB:     32,
		MinPendingMB:     16,
		QueueStopTimeout: 100 * time.Millisecond,
		FlushIntervalMS:  100,
		NPackBulk:        128,
		NIOBulk:          1024,
		PBS:              4096,
		LBS:              512,
		DiscardMode:      DiscardElide,
	}
}

// WithName sets the device's name attribute.
func WithName(name string) Option {
	return OptionFunc(func(o *Options) { o.Name = name })
}

// WithMaxLogpackKB bounds a single logpack's payload size; 0 is unlimited.
func WithMaxLogpackKB(kb uint64) Option {
	return OptionFunc(func(o *Options) { o.MaxLogpackKB = kb })
}

// WithPendingLimits sets the pending-index backpressure thresholds.
func WithPendingLimits(maxMB, minMB uint64, queueStopTimeout time.Duration) Option {
	return OptionFunc(func(o *Options) {
		o.MaxPendingMB = maxMB
		o.MinPendingMB = minMB
		o.QueueStopTimeout = queueStopTimeout
	})
}

// WithFlushInterval sets the size (MB) and period (ms) flush-header
// triggers. FlushIntervalMB must be <= half of MaxPendingMB; validated by
// CreateDevice.
func WithFlushInterval(mb, ms uint64) Option {
	return OptionFunc(func(o *Options) {
		o.FlushIntervalMB = mb
		o.FlushIntervalMS = ms
	})
}

// WithBulkSizes sets the pack-GC queue depth and the I/O batch size.
func WithBulkSizes(nPackBulk, nIOBulk int) Option {
	return OptionFunc(func(o *Options) {
		o.NPackBulk = nPackBulk
		o.NIOBulk = nIOBulk
	})
}

// WithBlockSizes sets the physical and logical block sizes.
func WithBlockSizes(pbs, lbs uint32) Option {
	return OptionFunc(func(o *Options) {
		o.PBS = pbs
		o.LBS = lbs
	})
}

// WithRingBufferPB sets the LDEV ring buffer's capacity at format time.
func WithRingBufferPB(pb uint64) Option {
	return OptionFunc(func(o *Options) { o.RingBufferPB = pb })
}

// WithSortDataIO enables insertion-sorting DDEV writes by pos_lb.
func WithSortDataIO(v bool) Option {
	return OptionFunc(func(o *Options) { o.IsSortDataIO = v })
}

// WithErrorBeforeOverflow fails a batch that would overflow the ring
// instead of silently overwriting the oldest logpacks.
func WithErrorBeforeOverflow(v bool) Option {
	return OptionFunc(func(o *Options) { o.IsErrorBeforeOverflow = v })
}

// WithSyncSuperblock controls whether the superblock is fsynced during
// checkpointing; not relied upon for correctness.
func WithSyncSuperblock(v bool) Option {
	return OptionFunc(func(o *Options) { o.IsSyncSuperblock = v })
}

// WithExecPathOnError sets the userland helper invoked on ring overflow.
func WithExecPathOnError(path string) Option {
	return OptionFunc(func(o *Options) { o.ExecPathOnError = path })
}

// WithDiscardMode selects the discard-on-unsupported-DDEV behavior.
func WithDiscardMode(m DiscardMode) Option {
	return OptionFunc(func(o *Options) { o.DiscardMode = m })
}
