package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := layout()
			pid, err := readPIDFile(l.PIDFile())
			if err != nil || !isRunning(pid) {
				fmt.Println("sherpad: not running")
				os.Exit(1)
			}
			fmt.Printf("sherpad: running (pid %d)\n", pid)
			return nil
		},
	}
}
