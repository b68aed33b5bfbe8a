package pack

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/chunbee/walb-driver/internal/lsid"
)

// ErrRingOverflow is returned by BuildBatch when latest - oldest would
// exceed the ring buffer's capacity and the device is configured to fail
// fast instead of overwriting the oldest logpacks (IsErrorBeforeOverflow).
var ErrRingOverflow = errors.New("pack: ring buffer overflow")

// Config configures the pack builder.
type Config struct {
	PBS uint32
	// LBS is the logical block size writes are expressed in. LBS must
	// divide PBS.
	LBS uint32
	// MaxLogpackPB bounds a pack's total payload size in physical blocks;
	// 0 means unlimited (max_logpack_kb == 0).
	MaxLogpackPB uint64
	// LogFlushIntervalPB is the size trigger for forcing a flush-header:
	// latest - flush > LogFlushIntervalPB. 0 disables the size trigger.
	LogFlushIntervalPB uint64
	// LogFlushPeriod is the period trigger for forcing a flush-header. 0
	// disables the period trigger.
	LogFlushPeriod time.Duration
	// RingBufferPB is the ring buffer's capacity in physical blocks.
	RingBufferPB uint64
	// IsErrorBeforeOverflow, if set, fails a batch that would overflow the
	// ring instead of silently allowing the oldest logpacks to be
	// overwritten.
	IsErrorBeforeOverflow bool
	// Salt is the device-wide checksum salt.
	Salt uint32
	// MarkDiscardElided sets FlagDiscardElided on every discard record,
	// recording that the DDEV-side effect was dropped rather than applied.
	MarkDiscardElided bool
}

func (c Config) lbsPerPB() uint64 {
	if c.LBS == 0 {
		return 1
	}
	return uint64(c.PBS) / uint64(c.LBS)
}

// Builder groups incoming writes into logpacks. It is a strictly serial
// component: BuildBatch must not be called concurrently from more than one
// goroutine.
type Builder struct {
	cfg Config
	wm  *lsid.Set

	current       *Pack
	lastFlushTime time.Time
}

// NewBuilder returns a Builder that assigns lsids from wm.
func NewBuilder(cfg Config, wm *lsid.Set) *Builder {
	return &Builder{cfg: cfg, wm: wm, lastFlushTime: time.Time{}}
}

// BuildBatch consumes up to len(batch) writes (the caller is responsible
// for bounding batch size to n_io_bulk) and returns the packs sealed as a
// result, ready for the log-wait queue. Reads never reach the builder; the
// caller filters them out before calling BuildBatch.
func (b *Builder) BuildBatch(batch []*BioWrapper) ([]*Pack, error) {
	var sealed []*Pack

	if b.current == nil {
		b.current = b.openPack()
	}

	for _, w := range batch {
		if b.needsSeal(w) {
			p, err := b.sealCurrent()
			if err != nil {
				return sealed, err
			}
			sealed = append(sealed, p)
			b.current = b.openPack()
		}
		if err := b.appendToCurrent(w); err != nil {
			return sealed, err
		}
	}

	if b.current.NRecords() > 0 || b.current.IsZeroFlushOnly {
		p, err := b.sealCurrent()
		if err != nil {
			return sealed, err
		}
		sealed = append(sealed, p)
		b.current = nil
	}

	if b.cfg.RingBufferPB > 0 && b.wm.IsOverflow(b.cfg.RingBufferPB) && b.cfg.IsErrorBeforeOverflow {
		return sealed, ErrRingOverflow
	}

	return sealed, nil
}

func (b *Builder) openPack() *Pack {
	latest := b.wm.Snapshot().Latest
	return NewPack(latest, b.cfg.PBS)
}

// needsSeal implements the four logpack sealing rules.
func (b *Builder) needsSeal(w *BioWrapper) bool {
	cur := b.current

	// Rule 1: a zero-flush-only pack cannot accept anything further.
	if cur.IsZeroFlushOnly {
		return true
	}

	// Rule 2: a flush must begin a new pack once the current one already
	// holds records.
	if cur.NRecords() > 0 && w.IsFlush {
		return true
	}

	// A zero-length flush write is only permitted as the first entry of a
	// pack; if the current pack already has anything, it must seal first.
	if w.LenLB == 0 && w.IsFlush && (cur.NRecords() > 0 || cur.payloadLB > 0) {
		return true
	}

	// Rule 3: size bound. An empty pack always accepts the write, however
	// large, so a single oversized write is never sealed off alone.
	if b.cfg.MaxLogpackPB > 0 && !w.IsDiscard && cur.NRecords() > 0 {
		projected := b.projectedPayloadLB(w)
		if (projected+b.cfg.lbsPerPB()-1)/b.cfg.lbsPerPB() > b.cfg.MaxLogpackPB {
			return true
		}
	}

	// Rule 4: header record capacity.
	needed := 1
	if b.needsPadding(w) {
		needed = 2
	}
	if cur.NRecords()+needed > MaxRecords(b.cfg.PBS) {
		return true
	}

	return false
}

// projectedPayloadLB returns what cur.payloadLB would become after
// appending w's padding (if any) and its own record.
func (b *Builder) projectedPayloadLB(w *BioWrapper) uint64 {
	payload := b.current.payloadLB
	if b.needsPadding(w) {
		payload += b.padGapLB(payload)
	}
	return payload + uint64(w.LenLB)
}

func (b *Builder) needsPadding(w *BioWrapper) bool {
	if w.IsDiscard || (w.LenLB == 0 && w.IsFlush) {
		return false
	}
	return b.padGapLB(b.current.payloadLB) > 0
}

func (b *Builder) padGapLB(payloadLB uint64) uint64 {
	lbsPerPB := b.cfg.lbsPerPB()
	rem := payloadLB % lbsPerPB
	if rem == 0 {
		return 0
	}
	return lbsPerPB - rem
}

// appendToCurrent appends w to the currently-open pack, inserting a padding
// record first if needed to align w's real record to a physical block.
func (b *Builder) appendToCurrent(w *BioWrapper) error {
	cur := b.current

	if w.LenLB == 0 && w.IsFlush {
		if cur.NRecords() != 0 || cur.payloadLB != 0 {
			return errors.New("pack: zero-length flush must be the first entry of a pack")
		}
		cur.IsZeroFlushOnly = true
		cur.IsFlushContained = true
		cur.Wrappers = append(cur.Wrappers, w)
		w.Lsid = cur.LogpackLsid
		return nil
	}

	if w.IsDiscard {
		local := cur.payloadLB / b.cfg.lbsPerPB()
		flags := FlagExist | FlagDiscard
		if b.cfg.MarkDiscardElided {
			flags |= FlagDiscardElided
		}
		rec := Record{
			Flags:     flags,
			OffsetLB:  w.PosLB,
			IOSizeLB:  uint32(w.LenLB),
			LsidLocal: uint32(local),
		}
		w.Lsid = cur.LogpackLsid + lsid.Lsid(local)
		cur.Header.Records = append(cur.Header.Records, rec)
		cur.Wrappers = append(cur.Wrappers, w)
		if w.IsFlush {
			cur.IsFlushContained = true
		}
		return nil
	}

	if gap := b.padGapLB(cur.payloadLB); gap > 0 {
		local := cur.payloadLB / b.cfg.lbsPerPB()
		cur.Header.Records = append(cur.Header.Records, Record{
			Flags:     FlagPadding,
			IOSizeLB:  uint32(gap),
			LsidLocal: uint32(local),
		})
		cur.Header.NPadding++
		cur.payloadLB += gap
	}

	local := cur.payloadLB / b.cfg.lbsPerPB()
	checksum := ChecksumPayload(w.Data, b.cfg.Salt)
	w.Checksum = checksum
	w.Lsid = cur.LogpackLsid + lsid.Lsid(local)

	cur.Header.Records = append(cur.Header.Records, Record{
		Flags:     FlagExist,
		OffsetLB:  w.PosLB,
		IOSizeLB:  uint32(w.LenLB),
		LsidLocal: uint32(local),
		Checksum:  checksum,
	})
	cur.Wrappers = append(cur.Wrappers, w)
	cur.payloadLB += uint64(w.LenLB)
	if w.IsFlush {
		cur.IsFlushContained = true
	}
	return nil
}

// sealCurrent finalizes the current pack: decides the flush-header
// triggers, stamps the header sector, and advances the latest/flush
// watermarks.
func (b *Builder) sealCurrent() (*Pack, error) {
	cur := b.current
	cur.Header.TotalIOSize = uint32((cur.payloadLB + b.cfg.lbsPerPB() - 1) / b.cfg.lbsPerPB())
	if cur.NRecords() == 0 {
		// Only reachable for the zero-flush-only path, which never calls
		// through here with records but may still need its sentinel flag.
		cur.IsZeroFlushOnly = true
	}

	wm := b.wm.Snapshot()
	// cur.LogpackLsid is latest as it stood before this pack is sealed.
	sizeTrigger := b.cfg.LogFlushIntervalPB > 0 &&
		uint64(cur.LogpackLsid-wm.Flush) > b.cfg.LogFlushIntervalPB
	periodTrigger := b.cfg.LogFlushPeriod > 0 &&
		(b.lastFlushTime.IsZero() || time.Since(b.lastFlushTime) > b.cfg.LogFlushPeriod)

	if sizeTrigger || periodTrigger || cur.IsFlushContained {
		cur.IsFlushHeader = true
		b.lastFlushTime = time.Now()
	}

	if !isPreparedPackValid(cur) {
		return nil, errors.New("pack: invariant violated before pack left the builder")
	}

	next := cur.LogpackLsid + lsid.Lsid(cur.PackPBSize())
	if err := b.wm.AdvanceLatest(next); err != nil {
		return nil, err
	}
	if cur.IsFlushHeader {
		if err := b.wm.AdvanceFlush(next); err != nil {
			return nil, err
		}
	}

	if !cur.IsZeroFlushOnly {
		cur.HeaderSector = Encode(cur.Header, b.cfg.PBS, b.cfg.Salt)
	}

	return cur, nil
}

// isPreparedPackValid is a partial form of the kernel source's
// is_prepared_pack_valid: it checks only that records are monotonically
// ordered by lsid_local. It does not check record lsids against the pack's
// span.
func isPreparedPackValid(p *Pack) bool {
	var prevLocal uint32
	for i, r := range p.Header.Records {
		if i > 0 && r.LsidLocal < prevLocal {
			return false
		}
		prevLocal = r.LsidLocal
	}
	return true
}
