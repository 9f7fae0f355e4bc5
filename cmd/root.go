package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	pidPath    string
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "adhocrld",
	Short: "RL-driven ad-hoc mesh routing daemon",
	Long: `adhocrld routes IP traffic over a wireless ad-hoc mesh, learning which
neighbor to forward each destination through from observed delivery outcomes
rather than from a fixed distance-vector or link-state protocol.`,
}

// Execute adds all child commands to the root command and runs it. Called
// once by main.main(); a non-zero process exit follows any command error,
// matching spec.md §6's CLI exit-code contract.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/adhocrld/config.yaml", "path to the daemon's YAML config file")
	rootCmd.PersistentFlags().StringVar(&pidPath, "pid-file", "/var/run/adhocrld.pid", "path to the pid file used by stop/status/restart")
}
