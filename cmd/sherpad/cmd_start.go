package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/bwks/sherpa-sub001/internal/config"
)

func newStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := layout()
			if pid, err := readPIDFile(l.PIDFile()); err == nil && isRunning(pid) {
				return fmt.Errorf("sherpad: already running (pid %d)", pid)
			}

			if foreground {
				return runForeground(cmd.Context())
			}
			return startDetached(l)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in the current terminal instead of detaching")
	return cmd
}

// runForeground builds and serves the daemon in-process; used directly by
// --foreground and by the detached re-exec child.
func runForeground(ctx context.Context) error {
	l := layout()
	if err := writePIDFile(l.PIDFile(), os.Getpid()); err != nil {
		return fmt.Errorf("sherpad: write pid file: %w", err)
	}
	defer os.Remove(l.PIDFile())

	a, err := buildApp(l)
	if err != nil {
		return err
	}
	defer a.close()

	return a.serve(ctx)
}

// startDetached re-execs the current binary with a hidden flag, redirecting
// its output to the daemon log file, and releases it to run independently.
// Grounded on pkg/newtlab/bridge.go's startBridgeProcess.
func startDetached(l config.Layout) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("sherpad: resolve executable: %w", err)
	}

	if err := os.MkdirAll(l.LogsDir(), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(l.DaemonLogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("sherpad: open log file: %w", err)
	}

	cmd := exec.Command(exe, "start", "--foreground", "--server-root", l.Root)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("sherpad: start detached process: %w", err)
	}

	go func() {
		cmd.Wait()
		logFile.Close()
	}()

	time.Sleep(500 * time.Millisecond)
	if !isRunning(cmd.Process.Pid) {
		return fmt.Errorf("sherpad: daemon exited immediately, check %s", l.DaemonLogFile())
	}
	fmt.Printf("sherpad started (pid %d)\n", cmd.Process.Pid)
	return nil
}
