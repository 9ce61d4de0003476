// Sherpad is the Sherpa lab-orchestrator daemon.
//
// It owns the catalog database, the hypervisor/container/netlink
// connections, and the authenticated WebSocket RPC transport clients speak
// over. The sherpa client CLI that drives it is out of scope here (§1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bwks/sherpa-sub001/internal/config"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

var (
	serverRoot string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "sherpad",
	Short:             "Sherpa lab-orchestrator daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `sherpad runs the Sherpa network-lab orchestrator server.

  sherpad start                 # start the daemon (detached)
  sherpad start --foreground    # run in the current terminal
  sherpad stop                  # stop the daemon
  sherpad restart               # stop then start
  sherpad status                # report running/not-running
  sherpad logs --follow         # tail the daemon log
  sherpad bootstrap-admin       # seed/reset the admin user and exit`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("info")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverRoot, "server-root", "r", "/opt/sherpa", "server root directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newBootstrapAdminCmd(),
		newVersionCmd(),
	)
}

func layout() config.Layout {
	return config.NewLayout(serverRoot)
}
