package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunbee/walb-driver/pkg/walb"
)

func printStatus(cmd *cobra.Command, st walb.Status) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "name: %s\n", st.Name)
	fmt.Fprintf(out, "uuid: %s\n", st.UUID)
	fmt.Fprintf(out, "ldev: %s\n", st.LDEV)
	fmt.Fprintf(out, "ddev: %s\n", st.DDEV)
	fmt.Fprintf(out, "log_capacity_pb: %d\n", st.LogCapacity)
	fmt.Fprintf(out, "log_usage_pb: %d\n", st.LogUsage)
	fmt.Fprintf(out, "read_only: %t\n", st.ReadOnly)
	fmt.Fprintf(out, "log_overflow: %t\n", st.LogOverflow)
	fmt.Fprintf(out, "lsid.latest: %d\n", st.Lsids.Latest)
	fmt.Fprintf(out, "lsid.flush: %d\n", st.Lsids.Flush)
	fmt.Fprintf(out, "lsid.completed: %d\n", st.Lsids.Completed)
	fmt.Fprintf(out, "lsid.permanent: %d\n", st.Lsids.Permanent)
	fmt.Fprintf(out, "lsid.written: %d\n", st.Lsids.Written)
	fmt.Fprintf(out, "lsid.oldest: %d\n", st.Lsids.Oldest)
	return nil
}

func newStatusCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the device's read-only attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			return printStatus(cmd, d.Status())
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newLsidsCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "get-lsids",
		Short: "print all seven lsid watermarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			wm := d.GetLsids()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "latest=%d flush=%d completed=%d permanent=%d written=%d prev_written=%d oldest=%d\n",
				wm.Latest, wm.Flush, wm.Completed, wm.Permanent, wm.Written, wm.PrevWritten, wm.Oldest)
			return nil
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newLogCapacityCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "log-capacity",
		Short: "print the ring buffer's capacity in physical blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			fmt.Fprintln(cmd.OutOrStdout(), d.LogCapacity())
			return nil
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newLogUsageCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "log-usage",
		Short: "print the ring buffer's current usage in physical blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			fmt.Fprintln(cmd.OutOrStdout(), d.LogUsage())
			return nil
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newIsFlushCapableCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "is-flush-capable",
		Short: "print 0/1: whether the LDEV supports a durable flush",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			fmt.Fprintln(cmd.OutOrStdout(), boolToBit(d.IsFlushCapable()))
			return nil
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newIsLogOverflowCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "is-log-overflow",
		Short: "print 0/1: whether the ring buffer has overflowed",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			fmt.Fprintln(cmd.OutOrStdout(), boolToBit(d.IsLogOverflow()))
			return nil
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the on-disk format version this build produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), walb.Version)
			return nil
		},
	}
}

func boolToBit(v bool) int {
	if v {
		return 1
	}
	return 0
}
