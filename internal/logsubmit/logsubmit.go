// Package logsubmit writes a sealed logpack's header and payload to the
// LDEV ring buffer, splitting the I/O at the ring wrap point
// and propagating flush semantics.
package logsubmit

import (
	"github.com/cockroachdb/errors"

	"github.com/chunbee/walb-driver/internal/blockio"
	"github.com/chunbee/walb-driver/internal/lsid"
	"github.com/chunbee/walb-driver/internal/pack"
)

// LDEV is the subset of blockio.Device the submitter needs.
type LDEV interface {
	WriteAt(buf []byte, off int64) (int, error)
	Flush() error
	AlignedBuffer(n int) []byte
}

// Config carries the block-size parameters needed to translate a pack's
// logical-block records into byte offsets within the payload region.
type Config struct {
	PBS uint32
	LBS uint32
}

func (c Config) lbsPerPB() uint64 {
	if c.LBS == 0 {
		return 1
	}
	return uint64(c.PBS) / uint64(c.LBS)
}

// Submitter writes sealed packs to the log device. Submit must be called
// serially, matching the pack builder's own single-goroutine contract.
type Submitter struct {
	ldev   LDEV
	layout blockio.Layout
	wm     *lsid.Set
	cfg    Config
}

// NewSubmitter returns a Submitter writing into layout's ring buffer on
// ldev, advancing wm's Completed watermark as packs land.
func NewSubmitter(ldev LDEV, layout blockio.Layout, wm *lsid.Set, cfg Config) *Submitter {
	return &Submitter{ldev: ldev, layout: layout, wm: wm, cfg: cfg}
}

// Submit writes p's header sector (unless it is zero-flush-only) and
// payload to the ring, honors the pack's flush-header flag or any
// FUA-carrying wrapper by issuing an unconditional LDEV flush, advances the
// Completed watermark to the pack's end lsid, and, if a flush was actually
// issued, advances Permanent to that same lsid: the flush just made
// everything up to it durable, regardless of whether the permanence gate's
// own period timer has fired.
func (s *Submitter) Submit(p *pack.Pack) error {
	if p.IsZeroFlushOnly {
		if err := s.ldev.Flush(); err != nil {
			return errors.Wrap(err, "logsubmit: flush failed for zero-flush-only pack")
		}
		if err := s.advanceCompleted(p); err != nil {
			return err
		}
		return s.advancePermanent(p)
	}

	if err := s.writeSpans(uint64(p.LogpackLsid), 1, p.HeaderSector); err != nil {
		return errors.Wrap(err, "logsubmit: header write failed")
	}

	payload := s.buildPayload(p)
	if len(payload) > 0 {
		if err := s.writeSpans(uint64(p.LogpackLsid)+1, uint64(p.TotalIOSize()), payload); err != nil {
			return errors.Wrap(err, "logsubmit: payload write failed")
		}
	}

	flushed := s.needsFlush(p)
	if flushed {
		if err := s.ldev.Flush(); err != nil {
			return errors.Wrap(err, "logsubmit: flush failed")
		}
	}

	if err := s.advanceCompleted(p); err != nil {
		return err
	}
	if flushed {
		return s.advancePermanent(p)
	}
	return nil
}

func (s *Submitter) needsFlush(p *pack.Pack) bool {
	if p.IsFlushHeader {
		return true
	}
	for _, w := range p.Wrappers {
		if w.IsFUA {
			return true
		}
	}
	return false
}

func (s *Submitter) advanceCompleted(p *pack.Pack) error {
	return s.wm.AdvanceCompleted(p.LogpackLsid + lsid.Lsid(p.PackPBSize()))
}

// advancePermanent promotes Permanent to p's end lsid, called once a flush
// that actually covers p has succeeded (either a flush-header/FUA pack's
// own flush, or a zero-flush-only pack's unconditional flush).
func (s *Submitter) advancePermanent(p *pack.Pack) error {
	return s.wm.AdvancePermanent(p.LogpackLsid + lsid.Lsid(p.PackPBSize()))
}

// writeSpans writes data (already the exact byte length of lengthPB
// physical blocks) into the ring starting at startLsid, splitting at the
// wrap boundary as needed.
func (s *Submitter) writeSpans(startLsid, lengthPB uint64, data []byte) error {
	spans := blockio.SplitAtWrap(startLsid, lengthPB, s.layout)
	off := 0
	for _, sp := range spans {
		if _, err := s.ldev.WriteAt(data[off:off+sp.Length], sp.ByteOffset); err != nil {
			return err
		}
		off += sp.Length
	}
	return nil
}

// buildPayload concatenates each record's bytes in order: a padding record
// contributes zero bytes, a discard record contributes nothing (discards
// skip LDEV payload entirely), and a real record contributes
// its wrapper's data. The result is zero-padded at the end out to
// Header.TotalIOSize physical blocks, covering any trailing fractional
// block left by the last record.
//
// The backing bytes come from ldev's page-aligned direct-I/O allocator,
// the same one the device uses for every other read or write.
func (s *Submitter) buildPayload(p *pack.Pack) []byte {
	lbs := uint64(s.cfg.LBS)
	if lbs == 0 {
		lbs = 1
	}
	total := int(p.TotalIOSize()) * int(s.cfg.PBS)
	if total == 0 {
		return nil
	}

	buf := s.ldev.AlignedBuffer(total)
	for i := range buf {
		buf[i] = 0
	}

	off := 0
	wrapperIdx := 0
	for _, r := range p.Header.Records {
		switch {
		case r.Flags&pack.FlagPadding != 0:
			off += int(uint64(r.IOSizeLB) * lbs)
		case r.Flags&pack.FlagDiscard != 0:
			wrapperIdx++
		default:
			w := p.Wrappers[wrapperIdx]
			wrapperIdx++
			off += copy(buf[off:], w.Data)
		}
	}
	return buf
}
