package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := layout()
			pid, err := readPIDFile(l.PIDFile())
			if err != nil {
				return fmt.Errorf("sherpad: not running (no pid file)")
			}
			if !isRunning(pid) {
				return fmt.Errorf("sherpad: not running (stale pid %d)", pid)
			}
			if err := stopProcess(pid, force); err != nil {
				return err
			}
			fmt.Printf("sherpad stopped (pid %d)\n", pid)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "SIGKILL if still alive after 10s")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop then start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := layout()
			if pid, err := readPIDFile(l.PIDFile()); err == nil && isRunning(pid) {
				if err := stopProcess(pid, force); err != nil {
					return err
				}
			}
			time.Sleep(2 * time.Second)
			return startDetached(l)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "SIGKILL if still alive after 10s")
	return cmd
}
