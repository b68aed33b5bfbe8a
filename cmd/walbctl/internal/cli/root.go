package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/chunbee/walb-driver/pkg/walb"
)

// deviceFlags are the --ldev/--ddev pair shared by every subcommand that
// opens an existing device.
type deviceFlags struct {
	ldevPath string
	ddevPath string
}

func (f *deviceFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.ldevPath, "ldev", "", "path to the log device backing file")
	fs.StringVar(&f.ddevPath, "ddev", "", "path to the data device backing file")
}

func (f *deviceFlags) open(opts ...walb.Option) (*walb.Device, error) {
	return walb.CreateDevice(f.ldevPath, f.ddevPath, walb.DefaultGlobalConfig(), opts...)
}

// Root returns the walbctl root command with every control-surface
// subcommand registered.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:           "walbctl",
		Short:         "control surface for a WalB write-ahead-log device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newFormatCmd(),
		newCreateCmd(),
		newDeleteCmd(),
		newStatusCmd(),
		newLsidsCmd(),
		newSetOldestLsidCmd(),
		newLogCapacityCmd(),
		newLogUsageCmd(),
		newCheckpointIntervalCmd(),
		newResizeCmd(),
		newResetWALCmd(),
		newFreezeCmd(),
		newMeltCmd(),
		newIsFrozenCmd(),
		newIsFlushCapableCmd(),
		newIsLogOverflowCmd(),
		newVersionCmd(),
		newServeCmd(),
	)
	return root
}
