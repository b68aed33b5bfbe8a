package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chunbee/walb-driver/pkg/walb"
)

const shutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	var df deviceFlags
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "open the device and serve its prometheus lsid gauges over HTTP until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
				st := d.Status()
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte(statusLine(st)))
			})

			srv := &http.Server{Addr: addr, Handler: mux}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			}
		},
	}
	df.register(cmd.Flags())
	cmd.Flags().StringVar(&addr, "addr", ":9271", "address to serve /metrics and /status on")
	return cmd
}

func statusLine(st walb.Status) string {
	return st.Name + " read_only=" + boolLabel(st.ReadOnly) + " log_overflow=" + boolLabel(st.LogOverflow) + "\n"
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
