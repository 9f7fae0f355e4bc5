package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the running daemon and start a new one",
	RunE:  runRestart,
}

func init() {
	rootCmd.AddCommand(restartCmd)
}

func runRestart(cmd *cobra.Command, args []string) error {
	if _, err := readPidFile(pidPath); err == nil {
		if err := stopRunning(); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}

	argv := []string{executable, "start", "--config", configPath, "--pid-file", pidPath}
	attr := &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	}
	p, err := os.StartProcess(executable, argv, attr)
	if err != nil {
		return fmt.Errorf("restart: relaunch: %w", err)
	}
	fmt.Printf("restarted as pid %d\n", p.Pid)
	return nil
}
