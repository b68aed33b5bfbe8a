package pack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chunbee/walb-driver/internal/lsid"
)

func TestNewPackEmpty(t *testing.T) {
	p := NewPack(lsid.Lsid(100), 4096)
	require.Equal(t, 0, p.NRecords())
	require.Equal(t, uint64(1), p.PackPBSize())
	require.False(t, p.ContainsFlush())
}

func TestPackPBSizeIncludesHeader(t *testing.T) {
	p := NewPack(lsid.Lsid(0), 4096)
	p.Header.TotalIOSize = 7
	require.Equal(t, uint64(8), p.PackPBSize())
}

func TestContainsFlush(t *testing.T) {
	p := NewPack(lsid.Lsid(0), 4096)
	w := NewBioWrapper(0, 8, true, nil)
	w.IsFlush = true
	p.Wrappers = append(p.Wrappers, w)
	require.True(t, p.ContainsFlush())
}
