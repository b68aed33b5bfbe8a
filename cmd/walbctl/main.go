// Command walbctl is the control-surface CLI for a WalB device: one
// subcommand per pkg/walb.Device operation.
package main

import (
	"fmt"
	"os"

	"github.com/chunbee/walb-driver/cmd/walbctl/internal/cli"
)

func main() {
	if err := cli.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "walbctl:", err)
		os.Exit(1)
	}
}
