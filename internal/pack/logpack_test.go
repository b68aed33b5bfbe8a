package pack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chunbee/walb-driver/internal/lsid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := &Header{
		LogpackLsid: lsid.Lsid(1000),
		TotalIOSize: 3,
		NPadding:    1,
		Records: []Record{
			{Flags: FlagExist | FlagPadding, IOSizeLB: 2, LsidLocal: 0},
			{Flags: FlagExist, OffsetLB: 40, IOSizeLB: 8, LsidLocal: 1, Checksum: 0xdeadbeef},
		},
	}

	buf := Encode(h, 4096, 0xabc)
	require.Len(t, buf, 4096)

	got, err := Decode(buf, 0xabc)
	require.NoError(t, err)
	require.Equal(t, h.LogpackLsid, got.LogpackLsid)
	require.Equal(t, h.TotalIOSize, got.TotalIOSize)
	require.Equal(t, h.NPadding, got.NPadding)
	require.Len(t, got.Records, 2)
	require.Equal(t, h.Records[1].OffsetLB, got.Records[1].OffsetLB)
	require.Equal(t, h.Records[1].Checksum, got.Records[1].Checksum)
}

func TestDecodeRejectsWrongSalt(t *testing.T) {
	h := &Header{LogpackLsid: lsid.Lsid(1)}
	buf := Encode(h, 4096, 0x111)
	_, err := Decode(buf, 0x222)
	require.Error(t, err)
}

func TestDecodeRejectsBadSectorType(t *testing.T) {
	buf := make([]byte, 4096)
	_, err := Decode(buf, 0)
	require.Error(t, err)
}

func TestMaxRecords(t *testing.T) {
	n := MaxRecords(4096)
	require.Greater(t, n, 100)
	require.Equal(t, (4096-headerFixedSize)/recordSize, n)
}

func TestRecordLsid(t *testing.T) {
	r := Record{LsidLocal: 5}
	require.Equal(t, lsid.Lsid(105), r.Lsid(lsid.Lsid(100)))
}

func TestChecksumPayloadDiffersBySalt(t *testing.T) {
	data := []byte("hello world")
	a := ChecksumPayload(data, 1)
	b := ChecksumPayload(data, 2)
	require.NotEqual(t, a, b)
}
