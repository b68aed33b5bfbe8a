package walb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestDevicePaths creates zero-length LDEV/DDEV backing files under a
// fresh temp directory and returns their paths.
func newTestDevicePaths(t *testing.T) (ldevPath, ddevPath string) {
	t.Helper()
	dir := t.TempDir()
	ldevPath = filepath.Join(dir, "ldev.img")
	ddevPath = filepath.Join(dir, "ddev.img")
	require.NoError(t, os.WriteFile(ldevPath, nil, 0644))

	f, err := os.OpenFile(ddevPath, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(1<<20))
	require.NoError(t, f.Close())
	return ldevPath, ddevPath
}

// openTestDevice formats and opens a small WalB device, skipping the test
// when the host filesystem does not support O_DIRECT, matching
// internal/blockio's test convention.
func openTestDevice(t *testing.T) *Device {
	t.Helper()
	ldevPath, ddevPath := newTestDevicePaths(t)

	_, err := FormatLDEV(ldevPath, WithBlockSizes(4096, 4096), WithRingBufferPB(64))
	require.NoError(t, err)

	d, err := CreateDevice(ldevPath, ddevPath, DefaultGlobalConfig(), WithBlockSizes(4096, 4096))
	if err != nil {
		t.Skipf("direct I/O unavailable on this filesystem: %v", err)
	}
	return d
}

func TestFormatLDEVRejectsDoubleFormat(t *testing.T) {
	ldevPath, _ := newTestDevicePaths(t)
	_, err := FormatLDEV(ldevPath, WithBlockSizes(4096, 4096), WithRingBufferPB(64))
	require.NoError(t, err)

	_, err = FormatLDEV(ldevPath, WithBlockSizes(4096, 4096), WithRingBufferPB(64))
	require.ErrorIs(t, err, ErrAlreadyFormatted)
}

func TestCreateDeviceRejectsUnformatted(t *testing.T) {
	ldevPath, ddevPath := newTestDevicePaths(t)
	_, err := CreateDevice(ldevPath, ddevPath, DefaultGlobalConfig())
	require.Error(t, err)
}

func TestCreateDeviceRejectsFlushIntervalExceedingHalfMaxPending(t *testing.T) {
	ldevPath, ddevPath := newTestDevicePaths(t)
	_, err := FormatLDEV(ldevPath, WithBlockSizes(4096, 4096), WithRingBufferPB(64))
	require.NoError(t, err)

	_, err = CreateDevice(ldevPath, ddevPath, DefaultGlobalConfig(),
		WithPendingLimits(10, 5, 0), WithFlushInterval(6, 100))
	require.ErrorIs(t, err, ErrInvalidOption)
}

func TestFormatLDEVRejectsLBSNotDividingPBS(t *testing.T) {
	ldevPath, _ := newTestDevicePaths(t)
	_, err := FormatLDEV(ldevPath, WithBlockSizes(4096, 1000), WithRingBufferPB(64))
	require.ErrorIs(t, err, ErrInvalidOption)
}

func TestDeviceDefaultBlockSizesServeSubPBSWrites(t *testing.T) {
	ldevPath, ddevPath := newTestDevicePaths(t)
	_, err := FormatLDEV(ldevPath, WithRingBufferPB(64))
	require.NoError(t, err)

	d, err := CreateDevice(ldevPath, ddevPath, DefaultGlobalConfig())
	if err != nil {
		t.Skipf("direct I/O unavailable on this filesystem: %v", err)
	}
	defer d.Close()

	data := make([]byte, 512)
	for i := range data {
		data[i] = 0x99
	}
	require.NoError(t, d.Write(context.Background(), 0, 1, data, true, false))

	got, err := d.Read(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDeviceWriteThenRead(t *testing.T) {
	d := openTestDevice(t)
	defer d.Close()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = 0x42
	}
	require.NoError(t, d.Write(context.Background(), 0, 1, data, true, false))

	got, err := d.Read(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDeviceDiscardSucceedsWithoutPayload(t *testing.T) {
	d := openTestDevice(t)
	defer d.Close()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = 0x7A
	}
	require.NoError(t, d.Write(context.Background(), 0, 1, data, true, false))

	require.NoError(t, d.Discard(context.Background(), 0, 1))

	got, err := d.Read(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, data, got) // DiscardElide leaves DDEV bytes untouched
}

func TestDeviceStatusReportsUUIDAndName(t *testing.T) {
	d := openTestDevice(t)
	defer d.Close()

	st := d.Status()
	require.NotEqual(t, [16]byte{}, [16]byte(st.UUID))
	require.Equal(t, d.opts.Name, st.Name)
}

func TestDeviceFreezeBlocksWrite(t *testing.T) {
	d := openTestDevice(t)
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.Freeze(ctx))
	require.True(t, d.IsFrozen())

	done := make(chan error, 1)
	go func() {
		done <- d.Write(ctx, 0, 1, make([]byte, 4096), true, false)
	}()

	select {
	case <-done:
		t.Fatal("write completed while device was frozen")
	default:
	}

	d.Melt()
	require.False(t, d.IsFrozen())
	require.NoError(t, <-done)
}

func TestDeviceResizeGrowsOnly(t *testing.T) {
	d := openTestDevice(t)
	defer d.Close()

	require.NoError(t, d.Resize(128))
	require.Equal(t, uint64(128), d.LogCapacity())

	require.Error(t, d.Resize(1))
}

func TestDeviceResetWALZeroesWatermarks(t *testing.T) {
	d := openTestDevice(t)
	defer d.Close()

	require.NoError(t, d.Write(context.Background(), 0, 1, make([]byte, 4096), true, false))
	require.NotZero(t, d.GetLsids().Latest)

	d.ResetWAL()
	require.Zero(t, d.GetLsids().Latest)
	require.False(t, d.flags.IsReadOnly())
}
