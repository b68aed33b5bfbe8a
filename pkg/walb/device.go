// Package walb is the public API of the WalB block-level write-ahead-log
// layer: a Device sits between an upper block client and a log device
// (LDEV) plus a data device (DDEV), giving every write crash-consistent
// durability before it lands on DDEV.
package walb

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chunbee/walb-driver/internal/blockio"
	"github.com/chunbee/walb-driver/internal/datasubmit"
	"github.com/chunbee/walb-driver/internal/devstate"
	"github.com/chunbee/walb-driver/internal/gc"
	"github.com/chunbee/walb-driver/internal/logsubmit"
	"github.com/chunbee/walb-driver/internal/lsid"
	"github.com/chunbee/walb-driver/internal/overlap"
	"github.com/chunbee/walb-driver/internal/pack"
	"github.com/chunbee/walb-driver/internal/pending"
	"github.com/chunbee/walb-driver/internal/permanence"
	"github.com/chunbee/walb-driver/internal/pipeline"
	"github.com/chunbee/walb-driver/internal/telemetry"
)

// Version identifies the on-disk format this build produces and accepts.
const Version = "1"

// GlobalConfig holds process-wide tunables that apply to every Device
// opened by this process. The kernel source's major device
// number has no userspace analogue (devices here are identified by name,
// not major/minor) and is intentionally dropped; see DESIGN.md.
type GlobalConfig struct {
	IsSyncSuperblock      bool
	IsSortDataIO          bool
	ExecPathOnError       string
	IsErrorBeforeOverflow bool
}

// DefaultGlobalConfig returns the zero-tuned global configuration.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{}
}

// Status is the read-only attribute snapshot returned by Device.Status.
type Status struct {
	Name        string
	UUID        uuid.UUID
	DDEV        string
	LDEV        string
	LogCapacity uint64
	LogUsage    uint64
	Lsids       lsid.Watermarks
	ReadOnly    bool
	LogOverflow bool
}

// Device is an open WalB device: an LDEV ring buffer of logpacks guarding a
// DDEV against the effects of a crash between a write's log-durability
// point and its data-device landing.
type Device struct {
	opts Options
	sb   superblock

	ldevPath string
	ddevPath string
	ldev     *blockio.Device
	ddev     *blockio.Device
	layout   blockio.Layout

	wm     *lsid.Set
	flags  *devstate.Flags
	freeze *devstate.FreezeGate
	pipe   *pipeline.Pipeline

	overflowWarner *devstate.OverflowWarner
	gauges         *telemetry.Gauges
	logger         *slog.Logger

	mu                 sync.Mutex
	checkpointInterval time.Duration
	closeCheckpoint    chan struct{}
}

// FormatLDEV initializes ldevPath as a fresh, empty WalB log device:
// writes a superblock recording the block sizes, ring buffer capacity, and
// a freshly generated UUID. RingBufferPB must be non-zero. It fails with
// ErrAlreadyFormatted if a valid superblock is already present; there is
// no option to overwrite an existing format.
func FormatLDEV(ldevPath string, opts ...Option) (uuid.UUID, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.RingBufferPB == 0 {
		return uuid.UUID{}, errors.New("walb: RingBufferPB must be set to format")
	}
	if o.PBS == 0 || o.LBS == 0 || o.PBS%o.LBS != 0 {
		return uuid.UUID{}, errors.Wrapf(ErrInvalidOption, "LBS %d must evenly divide PBS %d", o.LBS, o.PBS)
	}

	layout := blockio.Layout{PBS: o.PBS, RingBufferPB: o.RingBufferPB}

	f, err := os.OpenFile(ldevPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return uuid.UUID{}, errors.Wrapf(err, "walb: open %s", ldevPath)
	}
	defer f.Close()

	if existing := readSuperblockFile(f, o.PBS); existing != nil {
		return uuid.UUID{}, ErrAlreadyFormatted
	}

	if err := f.Truncate(layout.TotalBytes()); err != nil {
		return uuid.UUID{}, errors.Wrapf(err, "walb: truncate %s", ldevPath)
	}

	id := uuid.New()
	sb := superblock{
		PBS:          o.PBS,
		LBS:          o.LBS,
		RingBufferPB: o.RingBufferPB,
		UUID:         id,
	}
	buf := encodeSuperblock(sb, o.PBS)
	if _, err := f.WriteAt(buf, layout.Superblock0Offset()); err != nil {
		return uuid.UUID{}, errors.Wrap(err, "walb: write superblock")
	}
	if o.IsSyncSuperblock {
		if err := f.Sync(); err != nil {
			return uuid.UUID{}, errors.Wrap(err, "walb: sync superblock")
		}
	}
	return id, nil
}

func readSuperblockFile(f *os.File, pbs uint32) *superblock {
	layout := blockio.Layout{PBS: pbs}
	buf := make([]byte, pbs)
	if _, err := f.ReadAt(buf, layout.Superblock0Offset()); err != nil {
		return nil
	}
	sb, err := decodeSuperblock(buf)
	if err != nil {
		return nil
	}
	return &sb
}

// CreateDevice opens an already-formatted ldevPath and a DDEV backing file
// at ddevPath, assembling the full write/read pipeline. FlushIntervalMB (if
// set) must not exceed half of MaxPendingMB.
func CreateDevice(ldevPath, ddevPath string, global GlobalConfig, opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	o.IsSortDataIO = o.IsSortDataIO || global.IsSortDataIO
	if global.IsErrorBeforeOverflow {
		o.IsErrorBeforeOverflow = true
	}
	if global.ExecPathOnError != "" {
		o.ExecPathOnError = global.ExecPathOnError
	}
	if global.IsSyncSuperblock {
		o.IsSyncSuperblock = true
	}
	if o.FlushIntervalMB > o.MaxPendingMB/2 {
		return nil, errors.Wrapf(ErrInvalidOption, "FlushIntervalMB %d exceeds half of MaxPendingMB %d", o.FlushIntervalMB, o.MaxPendingMB)
	}

	ldev, err := blockio.Open(ldevPath, os.O_RDWR, int(o.PBS))
	if err != nil {
		return nil, err
	}

	sbBuf := make([]byte, o.PBS)
	layout := blockio.Layout{PBS: o.PBS}
	if _, err := ldev.ReadAt(sbBuf, layout.Superblock0Offset()); err != nil {
		ldev.Close()
		return nil, errors.Wrap(err, "walb: read superblock")
	}
	sb, err := decodeSuperblock(sbBuf)
	if err != nil {
		ldev.Close()
		if errors.Is(err, errBadMagic) {
			return nil, ErrNotFormatted
		}
		return nil, err
	}

	o.PBS = sb.PBS
	o.LBS = sb.LBS
	o.RingBufferPB = sb.RingBufferPB
	fullLayout := blockio.Layout{PBS: sb.PBS, RingBufferPB: sb.RingBufferPB}

	// DDEV is addressed by the data path in logical blocks (PosLB, LenLB),
	// not physical blocks, so it is opened at LBS granularity; LDEV holds
	// logpack sectors and stays at PBS granularity.
	ddev, err := blockio.Open(ddevPath, os.O_RDWR, int(o.LBS))
	if err != nil {
		ldev.Close()
		return nil, err
	}

	d := assemble(o, sb, ldev, ddev, fullLayout)
	d.ldevPath = ldevPath
	d.ddevPath = ddevPath
	return d, nil
}

func assemble(o Options, sb superblock, ldev, ddev *blockio.Device, layout blockio.Layout) *Device {
	wm := lsid.NewSet()
	flags := &devstate.Flags{}
	freeze := devstate.NewFreezeGate()

	mb := func(v uint64) uint64 { return (v * 1 << 20) / uint64(o.PBS) }
	kb := func(v uint64) uint64 { return (v << 10) / uint64(o.PBS) }
	builder := pack.NewBuilder(pack.Config{
		PBS:                   o.PBS,
		LBS:                   o.LBS,
		MaxLogpackPB:          kb(o.MaxLogpackKB),
		LogFlushIntervalPB:    mb(o.FlushIntervalMB),
		LogFlushPeriod:        time.Duration(o.FlushIntervalMS) * time.Millisecond,
		RingBufferPB:          o.RingBufferPB,
		IsErrorBeforeOverflow: o.IsErrorBeforeOverflow,
		Salt:                  blockio.Uint32(sb.UUID[0:4]),
		MarkDiscardElided:     o.DiscardMode == DiscardLogOnly,
	}, wm)

	logsub := logsubmit.NewSubmitter(ldev, layout, wm, logsubmit.Config{PBS: o.PBS, LBS: o.LBS})
	permGate := permanence.NewGate(wm, ldev, flags, permanence.Config{Period: time.Duration(o.FlushIntervalMS) * time.Millisecond})
	pendingIdx := pending.NewIndex(pending.Config{
		LBS:               o.LBS,
		MaxPendingSectors: mb(o.MaxPendingMB) * uint64(o.PBS) / uint64(o.LBS),
		MinPendingSectors: mb(o.MinPendingMB) * uint64(o.PBS) / uint64(o.LBS),
		QueueStopTimeout:  o.QueueStopTimeout,
	})
	overlapTbl := overlap.NewTable()
	datasub := datasubmit.NewSubmitter(ddev, datasubmit.Config{LBS: o.LBS, SortDataIO: o.IsSortDataIO})
	collector := gc.NewCollector(wm, overlapTbl, pendingIdx, flags)

	pipe := pipeline.New(builder, logsub, permGate, pendingIdx, overlapTbl, datasub, collector, flags, freeze, ddev, o.LBS, o.NPackBulk, o.NIOBulk)

	var gauges *telemetry.Gauges
	if g, err := telemetry.NewGauges(prometheus.DefaultRegisterer, o.Name); err == nil {
		gauges = g
	}

	logger := telemetry.DeviceLogger(telemetry.NewLogger(), o.Name)

	d := &Device{
		opts:           o,
		sb:             sb,
		ldev:           ldev,
		ddev:           ddev,
		layout:         layout,
		wm:             wm,
		flags:          flags,
		freeze:         freeze,
		pipe:           pipe,
		overflowWarner: devstate.NewOverflowWarner(5*time.Second, o.ExecPathOnError),
		gauges:         gauges,
		logger:         logger,
	}
	if sb.CheckpointIntervalMS > 0 {
		d.SetCheckpointInterval(time.Duration(sb.CheckpointIntervalMS) * time.Millisecond)
	}
	return d
}

// DeleteDevice invalidates ldevPath's superblock so it is no longer
// recognized as a formatted WalB device. It does not remove either backing
// file.
func DeleteDevice(ldevPath string) error {
	f, err := os.OpenFile(ldevPath, os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrapf(err, "walb: open %s", ldevPath)
	}
	defer f.Close()

	layout := blockio.Layout{PBS: 4096}
	zero := make([]byte, 4)
	if _, err := f.WriteAt(zero, layout.Superblock0Offset()); err != nil {
		return errors.Wrap(err, "walb: invalidate superblock")
	}
	return nil
}

// Write submits a write or flush request through the pipeline, blocking
// until it is committed to DDEV (or, for a pure flush, durable in the log).
func (d *Device) Write(ctx context.Context, posLB, lenLB uint64, data []byte, isFlush, isFUA bool) error {
	w := pack.NewBioWrapper(posLB, lenLB, true, data)
	w.IsFlush = isFlush
	w.IsFUA = isFUA
	return d.submit(ctx, w)
}

// Discard submits a DISCARD request for [posLB, posLB+lenLB) through the
// pipeline, blocking until the logpack record recording it is committed.
// The data device's backing bytes are left untouched in every DiscardMode;
// DiscardMode only decides whether the record is marked as elided.
func (d *Device) Discard(ctx context.Context, posLB, lenLB uint64) error {
	w := pack.NewBioWrapper(posLB, lenLB, true, nil)
	w.IsDiscard = true
	return d.submit(ctx, w)
}

func (d *Device) submit(ctx context.Context, w *pack.BioWrapper) error {
	err := d.pipe.Write(ctx, w)
	if errors.Is(err, pack.ErrRingOverflow) || d.wm.IsOverflow(d.opts.RingBufferPB) {
		d.flags.SetLogOverflow(true)
		if d.overflowWarner.Warn(ctx, d.opts.Name) {
			d.logger.Warn("log device ring buffer overflow", "pos_lb", w.PosLB, "len_lb", w.LenLB)
		}
	}
	return err
}

// Read returns lenLB logical blocks starting at posLB, patched with any
// write still pending durable placement on DDEV.
func (d *Device) Read(ctx context.Context, posLB, lenLB uint64) ([]byte, error) {
	return d.pipe.Read(ctx, posLB, lenLB, d.opts.LBS)
}

// Freeze blocks new writers and waits for in-flight writes to drain.
func (d *Device) Freeze(ctx context.Context) error { return d.freeze.Freeze(ctx) }

// Melt re-admits writers once every Freeze caller has called Melt.
func (d *Device) Melt() { d.freeze.Melt() }

// IsFrozen reports whether writers are currently blocked.
func (d *Device) IsFrozen() bool { return d.freeze.IsFrozen() }

// GetLsids returns a snapshot of all seven watermarks.
func (d *Device) GetLsids() lsid.Watermarks { return d.wm.Snapshot() }

// OldestLsid returns the oldest lsid still required for crash recovery.
func (d *Device) OldestLsid() lsid.Lsid { return d.wm.Snapshot().Oldest }

// WrittenLsid returns the watermark up to which DDEV reflects the log.
func (d *Device) WrittenLsid() lsid.Lsid { return d.wm.Snapshot().Written }

// PermanentLsid returns the watermark up to which the log is durable.
func (d *Device) PermanentLsid() lsid.Lsid { return d.wm.Snapshot().Permanent }

// CompletedLsid returns the watermark up to which LDEV I/O has landed.
func (d *Device) CompletedLsid() lsid.Lsid { return d.wm.Snapshot().Completed }

// SetOldestLsid advances the oldest watermark, typically called once a
// higher layer has confirmed it no longer needs logpacks below next.
func (d *Device) SetOldestLsid(next lsid.Lsid) error {
	return d.wm.AdvanceOldest(next)
}

// LogCapacity returns the ring buffer's capacity in physical blocks.
func (d *Device) LogCapacity() uint64 { return d.opts.RingBufferPB }

// LogUsage returns the number of physical blocks of the ring currently in
// use (latest - oldest).
func (d *Device) LogUsage() uint64 { return d.wm.LogUsage() }

// CheckpointInterval returns the current checkpoint period; zero disables
// checkpointing.
func (d *Device) CheckpointInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkpointInterval
}

// SetCheckpointInterval changes the checkpoint period, restarting the
// background checkpoint loop, and persists the new period to the
// superblock so it survives a later CreateDevice of the same ldev.
func (d *Device) SetCheckpointInterval(period time.Duration) error {
	d.mu.Lock()
	if d.closeCheckpoint != nil {
		close(d.closeCheckpoint)
		d.closeCheckpoint = nil
	}
	d.checkpointInterval = period
	d.sb.CheckpointIntervalMS = uint64(period / time.Millisecond)
	if period > 0 {
		stop := make(chan struct{})
		d.closeCheckpoint = stop
		go d.runCheckpoint(period, stop)
	}
	d.mu.Unlock()
	return d.writeSuperblock()
}

func (d *Device) runCheckpoint(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.wm.Checkpoint()
		}
	}
}

// Resize grows the ring buffer to newRingBufferPB physical blocks. Shrinking
// is not supported since it could discard logpacks still required for
// recovery.
func (d *Device) Resize(newRingBufferPB uint64) error {
	if newRingBufferPB < d.opts.RingBufferPB {
		return errors.New("walb: ring buffer cannot be shrunk")
	}
	newLayout := blockio.Layout{PBS: d.opts.PBS, RingBufferPB: newRingBufferPB}
	if err := d.ldev.Truncate(newLayout.TotalBytes()); err != nil {
		return err
	}
	d.layout = newLayout
	d.opts.RingBufferPB = newRingBufferPB
	d.sb.RingBufferPB = newRingBufferPB
	return d.writeSuperblock()
}

// ResetWAL zeroes every watermark and clears the read-only/failure/overflow
// flags. Callers must ensure no write is in flight, typically by freezing
// the device first.
func (d *Device) ResetWAL() {
	d.wm.Reset()
	*d.flags = devstate.Flags{}
}

// IsFlushCapable reports whether the LDEV backing store supports a durable
// flush operation. Direct I/O backing files always do.
func (d *Device) IsFlushCapable() bool { return true }

// IsLogOverflow reports whether the ring buffer has overflowed its
// configured capacity.
func (d *Device) IsLogOverflow() bool { return d.flags.IsLogOverflow() }

// Status returns a snapshot of the device's read-only attributes.
func (d *Device) Status() Status {
	lsids := d.GetLsids()
	if d.gauges != nil {
		d.gauges.Sample(lsids)
	}
	return Status{
		Name:        d.opts.Name,
		UUID:        d.sb.UUID,
		DDEV:        d.ddevPath,
		LDEV:        d.ldevPath,
		LogCapacity: d.LogCapacity(),
		LogUsage:    d.LogUsage(),
		Lsids:       lsids,
		ReadOnly:    d.flags.IsReadOnly(),
		LogOverflow: d.flags.IsLogOverflow(),
	}
}

// WatchLsids returns a channel that fires on the edge transition of
// (permanent - oldest) from zero to positive, closed when ctx is done.
func (d *Device) WatchLsids(ctx context.Context) <-chan struct{} {
	return telemetry.WatchLsids(ctx, d.wm)
}

func (d *Device) writeSuperblock() error {
	buf := encodeSuperblock(d.sb, d.opts.PBS)
	layout := blockio.Layout{PBS: d.opts.PBS}
	_, err := d.ldev.WriteAt(buf, layout.Superblock0Offset())
	if err != nil {
		return errors.Wrap(err, "walb: write superblock")
	}
	if d.opts.IsSyncSuperblock {
		return d.ldev.Flush()
	}
	return nil
}

// Close stops the checkpoint loop and closes both backing devices.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closeCheckpoint != nil {
		close(d.closeCheckpoint)
		d.closeCheckpoint = nil
	}
	d.mu.Unlock()

	d.pipe.Close()

	err1 := d.ldev.Close()
	err2 := d.ddev.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
