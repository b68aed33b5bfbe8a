package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/chunbee/walb-driver/internal/lsid"
)

func newSetOldestLsidCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "set-oldest-lsid <lsid>",
		Short: "advance the oldest lsid watermark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			return d.SetOldestLsid(lsid.Lsid(next))
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newCheckpointIntervalCmd() *cobra.Command {
	var df deviceFlags
	var setMS int64
	cmd := &cobra.Command{
		Use:   "checkpoint-interval",
		Short: "get or, with --set-ms, set the checkpoint period",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			if cmd.Flags().Changed("set-ms") {
				return d.SetCheckpointInterval(time.Duration(setMS) * time.Millisecond)
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.CheckpointInterval().Milliseconds())
			return nil
		},
	}
	df.register(cmd.Flags())
	cmd.Flags().Int64Var(&setMS, "set-ms", 0, "new checkpoint period in milliseconds")
	return cmd
}

func newResizeCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "resize <new-ring-buffer-pb>",
		Short: "grow the ring buffer to the given physical-block capacity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			return d.Resize(n)
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newResetWALCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "reset-wal",
		Short: "zero every watermark and clear the read-only/overflow flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			d.ResetWAL()
			return nil
		},
	}
	df.register(cmd.Flags())
	return cmd
}

// freeze/melt/is-frozen open a fresh Device per invocation, so they only
// observe freeze state held by the same process; a long-running caller
// embeds pkg/walb.Device directly rather than shelling out per call.
func newFreezeCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "freeze",
		Short: "block new writers and wait for in-flight writes to drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			return d.Freeze(context.Background())
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newMeltCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "melt",
		Short: "re-admit writers blocked by a prior freeze",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			d.Melt()
			return nil
		},
	}
	df.register(cmd.Flags())
	return cmd
}

func newIsFrozenCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "is-frozen",
		Short: "print 0/1: whether writers are currently blocked",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := df.open()
			if err != nil {
				return err
			}
			defer d.Close()
			fmt.Fprintln(cmd.OutOrStdout(), boolToBit(d.IsFrozen()))
			return nil
		},
	}
	df.register(cmd.Flags())
	return cmd
}
