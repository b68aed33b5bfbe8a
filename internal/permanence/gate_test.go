package permanence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chunbee/walb-driver/internal/devstate"
	"github.com/chunbee/walb-driver/internal/lsid"
)

type fakeFlusher struct {
	calls int
	err   error
}

func (f *fakeFlusher) Flush() error {
	f.calls++
	return f.err
}

func TestAwaitNoOpWhenDisabled(t *testing.T) {
	wm := lsid.NewSet()
	f := &fakeFlusher{}
	var flags devstate.Flags
	g := NewGate(wm, f, &flags, Config{})

	err := g.Await(context.Background(), lsid.Lsid(1000))
	require.NoError(t, err)
	require.Zero(t, f.calls)
}

func TestAwaitReturnsImmediatelyIfAlreadyPermanent(t *testing.T) {
	wm := lsid.NewSet()
	require.NoError(t, wm.AdvanceLatest(lsid.Lsid(10)))
	require.NoError(t, wm.AdvanceCompleted(lsid.Lsid(10)))
	require.NoError(t, wm.AdvanceFlush(lsid.Lsid(10)))
	require.NoError(t, wm.AdvancePermanent(lsid.Lsid(10)))

	f := &fakeFlusher{}
	var flags devstate.Flags
	g := NewGate(wm, f, &flags, Config{Period: time.Hour})

	err := g.Await(context.Background(), lsid.Lsid(5))
	require.NoError(t, err)
	require.Zero(t, f.calls)
}

func TestAwaitForcesFlushAfterPeriod(t *testing.T) {
	wm := lsid.NewSet()
	require.NoError(t, wm.AdvanceLatest(lsid.Lsid(10)))
	require.NoError(t, wm.AdvanceCompleted(lsid.Lsid(10)))

	f := &fakeFlusher{}
	var flags devstate.Flags
	g := NewGate(wm, f, &flags, Config{Period: time.Millisecond})

	err := g.Await(context.Background(), lsid.Lsid(10))
	require.NoError(t, err)
	require.Equal(t, 1, f.calls)
	require.Equal(t, lsid.Lsid(10), wm.Snapshot().Permanent)
}

func TestAwaitWaitsForCompletedBeforeForcing(t *testing.T) {
	wm := lsid.NewSet()
	require.NoError(t, wm.AdvanceLatest(lsid.Lsid(10)))
	// Completed lags behind latest; the gate must not force past it.

	f := &fakeFlusher{}
	var flags devstate.Flags
	g := NewGate(wm, f, &flags, Config{Period: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- g.Await(context.Background(), lsid.Lsid(10)) }()

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, f.calls)

	require.NoError(t, wm.AdvanceCompleted(lsid.Lsid(10)))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Await should unblock once Completed catches up")
	}
	require.Equal(t, lsid.Lsid(10), wm.Snapshot().Permanent)
}

func TestAwaitSetsReadOnlyOnFlushError(t *testing.T) {
	wm := lsid.NewSet()
	require.NoError(t, wm.AdvanceLatest(lsid.Lsid(10)))
	require.NoError(t, wm.AdvanceCompleted(lsid.Lsid(10)))

	f := &fakeFlusher{err: errTest}
	var flags devstate.Flags
	g := NewGate(wm, f, &flags, Config{Period: time.Millisecond})

	err := g.Await(context.Background(), lsid.Lsid(10))
	require.Error(t, err)
	require.True(t, flags.IsReadOnly())
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	wm := lsid.NewSet()
	require.NoError(t, wm.AdvanceLatest(lsid.Lsid(10)))

	f := &fakeFlusher{}
	var flags devstate.Flags
	g := NewGate(wm, f, &flags, Config{Period: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Await(ctx, lsid.Lsid(10))
	require.Error(t, err)
}

var errTest = fakeErr("flush failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
