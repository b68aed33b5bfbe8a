package pack

import "github.com/chunbee/walb-driver/internal/lsid"

// Pack is a bounded assemblage of bio wrappers that will share one logpack
// header. It is sealed by the Builder when the next incoming
// write cannot be added.
type Pack struct {
	LogpackLsid  lsid.Lsid
	Header       *Header
	HeaderSector []byte
	Wrappers     []*BioWrapper

	IsZeroFlushOnly  bool
	IsFlushContained bool
	IsFlushHeader    bool
	IsLogpackFailed  bool

	// payloadLB is the running payload size in logical blocks, tracked by
	// the builder as it appends records (including padding). It is kept
	// here rather than on Builder because a batch may seal more than one
	// pack and each needs its own running total.
	payloadLB uint64

	pbs uint32
}

// NewPack starts a new, empty pack at logpackLsid.
func NewPack(logpackLsid lsid.Lsid, pbs uint32) *Pack {
	return &Pack{
		LogpackLsid: logpackLsid,
		Header:      &Header{LogpackLsid: logpackLsid},
		pbs:         pbs,
	}
}

// TotalIOSize returns the pack's payload size in physical blocks, i.e.
// Header.TotalIOSize. Record.IOSizeLB is expressed in logical blocks (true
// bio granularity); the builder rounds the running logical-block total up
// to physical blocks when it stamps the header.
func (p *Pack) TotalIOSize() uint32 {
	return p.Header.TotalIOSize
}

// NRecords returns the number of records currently in the pack's header.
func (p *Pack) NRecords() int { return len(p.Header.Records) }

// PackPBSize returns the pack's total on-disk footprint in physical blocks:
// one header block plus its payload.
func (p *Pack) PackPBSize() uint64 {
	return 1 + uint64(p.TotalIOSize())
}

// ContainsFlush reports whether any wrapper in the pack carries flush
// semantics, mirroring the kernel source's pack_contains_flush.
func (p *Pack) ContainsFlush() bool {
	for _, w := range p.Wrappers {
		if w.IsFlush {
			return true
		}
	}
	return false
}
