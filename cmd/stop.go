package cmd

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running daemon to shut down",
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	return stopRunning()
}

// stopRunning sends SIGTERM to the pid recorded at pidPath and waits for
// it to exit, matching spec.md §6's "non-zero with a diagnostic line on
// failure" contract if the process never stops or was never running.
func stopRunning() error {
	pid, err := readPidFile(pidPath)
	if err != nil {
		return err
	}
	if !processAlive(pid) {
		os.Remove(pidPath)
		return fmt.Errorf("pid %d is not running", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop: signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("stop: pid %d did not exit within 10s", pid)
}
