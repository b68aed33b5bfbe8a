// Package telemetry exposes the device's lsid watermarks as prometheus
// gauges and as an edge-triggered watch channel, and configures the
// module's structured logging.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chunbee/walb-driver/internal/lsid"
)

// Gauges are the six lsid watermark gauges registered per device.
type Gauges struct {
	Latest    prometheus.Gauge
	Flush     prometheus.Gauge
	Completed prometheus.Gauge
	Permanent prometheus.Gauge
	Written   prometheus.Gauge
	Oldest    prometheus.Gauge
}

// NewGauges creates and registers the six watermark gauges for deviceName
// against reg.
func NewGauges(reg prometheus.Registerer, deviceName string) (*Gauges, error) {
	mk := func(name string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        name,
			Help:        "WalB lsid watermark, in physical blocks.",
			ConstLabels: prometheus.Labels{"device": deviceName},
		})
	}
	g := &Gauges{
		Latest:    mk("walb_lsid_latest"),
		Flush:     mk("walb_lsid_flush"),
		Completed: mk("walb_lsid_completed"),
		Permanent: mk("walb_lsid_permanent"),
		Written:   mk("walb_lsid_written"),
		Oldest:    mk("walb_lsid_oldest"),
	}
	for _, c := range []prometheus.Collector{g.Latest, g.Flush, g.Completed, g.Permanent, g.Written, g.Oldest} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Sample updates the gauges from a watermark snapshot.
func (g *Gauges) Sample(wm lsid.Watermarks) {
	g.Latest.Set(float64(wm.Latest))
	g.Flush.Set(float64(wm.Flush))
	g.Completed.Set(float64(wm.Completed))
	g.Permanent.Set(float64(wm.Permanent))
	g.Written.Set(float64(wm.Written))
	g.Oldest.Set(float64(wm.Oldest))
}

// samplePeriod governs how often Watcher polls the watermark set to detect
// the permanent-minus-oldest edge transition.
const samplePeriod = 10 * time.Millisecond

// WatchLsids returns a channel that fires once on every transition of
// (permanent - oldest) from 0 to a positive value, mirroring the sysfs
// poll contract: consumers must drain the channel before the next edge can
// be observed. The channel is closed when ctx is done.
func WatchLsids(ctx context.Context, wm *lsid.Set) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		wasZero := true
		ticker := time.NewTicker(samplePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			w := wm.Snapshot()
			diff := w.Permanent - w.Oldest
			nowZero := diff == 0
			if wasZero && !nowZero {
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
			wasZero = nowZero
		}
	}()
	return out
}

// NewLogger returns the module's structured logger: JSON output to stderr.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

// DeviceLogger returns logger with device_name bound as a structured
// field, for attaching to every log line a pipeline stage emits for that
// device.
func DeviceLogger(logger *slog.Logger, deviceName string) *slog.Logger {
	return logger.With(slog.String("device_name", deviceName))
}
