// Command flowctl replays snapshot files through the analytics engine offline
// and inspects a running FlowScope API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "FlowScope analytics tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file; engine tuning is read from it when set")
	root.AddCommand(newAnalyzeCmd(), newBacktestCmd(), newStatusCmd(), newWatchCmd())
	return root
}
