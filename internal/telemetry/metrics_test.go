package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/chunbee/walb-driver/internal/lsid"
)

func TestNewGaugesRegistersAndSamples(t *testing.T) {
	reg := prometheus.NewRegistry()
	g, err := NewGauges(reg, "dev0")
	require.NoError(t, err)

	g.Sample(lsid.Watermarks{Latest: 10, Flush: 8, Completed: 8, Permanent: 6, Written: 4, Oldest: 1})

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}

func TestWatchLsidsFiresOnEdge(t *testing.T) {
	wm := lsid.NewSet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := WatchLsids(ctx, wm)

	require.NoError(t, wm.AdvanceLatest(lsid.Lsid(10)))
	require.NoError(t, wm.AdvanceCompleted(lsid.Lsid(10)))
	require.NoError(t, wm.AdvancePermanent(lsid.Lsid(10)))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected an edge event once permanent - oldest becomes positive")
	}
}
