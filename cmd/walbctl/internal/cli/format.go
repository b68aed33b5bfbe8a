package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunbee/walb-driver/pkg/walb"
)

func newFormatCmd() *cobra.Command {
	var (
		pbs, lbs     uint32
		ringBufferPB uint64
	)
	cmd := &cobra.Command{
		Use:   "format-ldev <ldev-path>",
		Short: "initialize a backing file as a fresh, empty log device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := walb.FormatLDEV(args[0],
				walb.WithBlockSizes(pbs, lbs),
				walb.WithRingBufferPB(ringBufferPB))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.String())
			return nil
		},
	}
	cmd.Flags().Uint32Var(&pbs, "pbs", 4096, "physical block size in bytes")
	cmd.Flags().Uint32Var(&lbs, "lbs", 512, "logical block size in bytes")
	cmd.Flags().Uint64Var(&ringBufferPB, "ring-buffer-pb", 0, "ring buffer capacity in physical blocks (required)")
	cmd.MarkFlagRequired("ring-buffer-pb")
	return cmd
}

func newCreateCmd() *cobra.Command {
	var df deviceFlags
	cmd := &cobra.Command{
		Use:   "create-device",
		Short: "open an ldev/ddev pair and report the resulting device status",
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
	cmd.MarkFlagRequired("ldev")
	cmd.MarkFlagRequired("ddev")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-device <ldev-path>",
		Short: "invalidate an ldev's superblock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return walb.DeleteDevice(args[0])
		},
	}
	return cmd
}
