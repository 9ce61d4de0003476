package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := layout().DaemonLogFile()
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("sherpad: open log: %w", err)
			}
			defer f.Close()

			if _, err := io.Copy(os.Stdout, f); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followFile(cmd.Context().Done(), f)
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing new lines as they are appended")
	return cmd
}

// followFile polls f for growth, mirroring a tail -f. No fsnotify is
// available in the pack so this uses a plain poll loop.
func followFile(done <-chan struct{}, f *os.File) error {
	reader := bufio.NewReader(f)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				fmt.Print(line)
			}
			if err != nil && err != io.EOF {
				return err
			}
		}
	}
}
