package pack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chunbee/walb-driver/internal/lsid"
)

func newTestBuilder(t *testing.T, cfg Config) *Builder {
	t.Helper()
	if cfg.PBS == 0 {
		cfg.PBS = 4096
	}
	if cfg.LBS == 0 {
		cfg.LBS = 4096
	}
	return NewBuilder(cfg, lsid.NewSet())
}

func TestBuildBatchSingleWrite(t *testing.T) {
	b := newTestBuilder(t, Config{})
	w := NewBioWrapper(0, 8, true, make([]byte, 4096))

	packs, err := b.BuildBatch([]*BioWrapper{w})
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.Equal(t, 1, packs[0].NRecords())
	require.Equal(t, lsid.Lsid(0), w.Lsid)
	require.NotZero(t, w.Checksum)
	require.NotNil(t, packs[0].HeaderSector)
}

func TestBuildBatchFlushStartsNewPack(t *testing.T) {
	b := newTestBuilder(t, Config{})
	w1 := NewBioWrapper(0, 8, true, make([]byte, 4096))
	w2 := NewBioWrapper(8, 8, true, make([]byte, 4096))
	w2.IsFlush = true
	w3 := NewBioWrapper(16, 8, true, make([]byte, 4096))

	packs, err := b.BuildBatch([]*BioWrapper{w1, w2, w3})
	require.NoError(t, err)
	// w1 alone in pack 1 (sealed once w2's flush forces a seal), w2+w3 in pack 2.
	require.Len(t, packs, 2)
	require.Equal(t, 1, packs[0].NRecords())
	require.Equal(t, 2, packs[1].NRecords())
	require.True(t, packs[1].IsFlushHeader)
}

func TestBuildBatchZeroLengthFlushAlone(t *testing.T) {
	b := newTestBuilder(t, Config{})
	flush := NewBioWrapper(0, 0, true, nil)
	flush.IsFlush = true
	w := NewBioWrapper(0, 8, true, make([]byte, 4096))

	packs, err := b.BuildBatch([]*BioWrapper{flush, w})
	require.NoError(t, err)
	require.Len(t, packs, 2)
	require.True(t, packs[0].IsZeroFlushOnly)
	require.Equal(t, 0, packs[0].NRecords())
	require.Equal(t, 1, packs[1].NRecords())
}

func TestBuildBatchMaxLogpackPBSeals(t *testing.T) {
	b := newTestBuilder(t, Config{MaxLogpackPB: 1, LBS: 512})
	w1 := NewBioWrapper(0, 8, true, make([]byte, 4096))
	w2 := NewBioWrapper(8, 8, true, make([]byte, 4096))

	packs, err := b.BuildBatch([]*BioWrapper{w1, w2})
	require.NoError(t, err)
	require.Len(t, packs, 2)
	require.Equal(t, uint32(1), packs[0].TotalIOSize())
	require.Equal(t, uint32(1), packs[1].TotalIOSize())
}

func TestBuildBatchRecordCapacitySeals(t *testing.T) {
	cfg := Config{PBS: 96, LBS: 96} // headerFixedSize=32, recordSize=32 -> MaxRecords == 2
	b := newTestBuilder(t, cfg)
	require.Equal(t, 2, MaxRecords(96))

	var batch []*BioWrapper
	for i := 0; i < 3; i++ {
		batch = append(batch, NewBioWrapper(uint64(i), 1, true, make([]byte, 96)))
	}
	packs, err := b.BuildBatch(batch)
	require.NoError(t, err)
	require.Len(t, packs, 2)
	require.Equal(t, 2, packs[0].NRecords())
	require.Equal(t, 1, packs[1].NRecords())
}

func TestBuildBatchPaddingAlignsSubBlockWrites(t *testing.T) {
	cfg := Config{PBS: 4096, LBS: 512}
	b := newTestBuilder(t, cfg)
	// 3 LB (1536 bytes) write, less than one PB (8 LB); the next real write
	// must be padded up to the next PB boundary.
	w1 := NewBioWrapper(0, 3, true, make([]byte, 1536))
	w2 := NewBioWrapper(3, 8, true, make([]byte, 4096))

	packs, err := b.BuildBatch([]*BioWrapper{w1, w2})
	require.NoError(t, err)
	require.Len(t, packs, 1)
	p := packs[0]
	require.Equal(t, 3, p.NRecords()) // real, padding, real
	require.Equal(t, uint16(1), p.Header.NPadding)

	padRec := p.Header.Records[1]
	require.Equal(t, FlagPadding, padRec.Flags)
	require.Equal(t, uint32(5), padRec.IOSizeLB) // gap to next 8-LB boundary

	secondReal := p.Header.Records[2]
	require.Equal(t, uint32(1), secondReal.LsidLocal) // starts at the next physical block
}

func TestBuildBatchDiscardSkipsPayload(t *testing.T) {
	b := newTestBuilder(t, Config{})
	w := NewBioWrapper(0, 8, true, nil)
	w.IsDiscard = true

	packs, err := b.BuildBatch([]*BioWrapper{w})
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.True(t, packs[0].Header.Records[0].Flags&FlagDiscard != 0)
}

func TestBuildBatchRingOverflowFailsWhenConfigured(t *testing.T) {
	wm := lsid.NewSet()
	require.NoError(t, wm.AdvanceLatest(lsid.Lsid(1000)))
	b := &Builder{cfg: Config{PBS: 4096, LBS: 4096, RingBufferPB: 10, IsErrorBeforeOverflow: true}, wm: wm}

	w := NewBioWrapper(0, 8, true, make([]byte, 4096))
	_, err := b.BuildBatch([]*BioWrapper{w})
	require.ErrorIs(t, err, ErrRingOverflow)
}

func TestBuildBatchSizeTriggerForcesFlushHeader(t *testing.T) {
	b := newTestBuilder(t, Config{LogFlushIntervalPB: 1})
	w1 := NewBioWrapper(0, 8, true, make([]byte, 4096))
	w2 := NewBioWrapper(8, 8, true, make([]byte, 4096))

	packs, err := b.BuildBatch([]*BioWrapper{w1})
	require.NoError(t, err)
	require.False(t, packs[0].IsFlushHeader)

	packs2, err := b.BuildBatch([]*BioWrapper{w2})
	require.NoError(t, err)
	require.True(t, packs2[0].IsFlushHeader)
}

func TestBuildBatchPeriodTriggerForcesFlushHeader(t *testing.T) {
	b := newTestBuilder(t, Config{LogFlushPeriod: time.Nanosecond})
	w := NewBioWrapper(0, 8, true, make([]byte, 4096))
	packs, err := b.BuildBatch([]*BioWrapper{w})
	require.NoError(t, err)
	// lastFlushTime starts zero, so the first pack always trips the period trigger.
	require.True(t, packs[0].IsFlushHeader)
}
