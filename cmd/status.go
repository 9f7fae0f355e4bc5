package cmd

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/adhocrl/adhocrl/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running and summarize its state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pid, err := readPidFile(pidPath)
	if err != nil {
		return err
	}
	if !processAlive(pid) {
		return fmt.Errorf("pid %d recorded in %s is not running", pid, pidPath)
	}
	fmt.Printf("running, pid %d\n", pid)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("(could not load %s to query the IPC socket: %v)\n", configPath, err)
		return nil
	}

	for _, query := range []string{"neighbors", "dump"} {
		if err := queryIPC(cfg.LocalIPCPath, query); err != nil {
			fmt.Printf("%s: ERR %v\n", query, err)
		}
	}
	return nil
}

func queryIPC(socketPath, command string) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, command); err != nil {
		return err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s", command, reply)
	return nil
}
