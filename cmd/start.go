package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/adhocrl/adhocrl/config"
	"github.com/adhocrl/adhocrl/daemon"
	"github.com/adhocrl/adhocrl/ipc"
	"github.com/adhocrl/adhocrl/logging"
	"github.com/adhocrl/adhocrl/transport"
	"github.com/adhocrl/adhocrl/tundev"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mesh routing daemon in the foreground",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, "adhocrld", cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if err := writePidFile(pidPath); err != nil {
		return fmt.Errorf("pid file: %w", err)
	}
	defer os.Remove(pidPath)

	tun, err := tundev.Open(cfg.TunIface)
	if err != nil {
		return fmt.Errorf("tun: %w", err)
	}
	for _, ip := range cfg.SelfIPs {
		if err := tundev.Configure(logger, cfg.TunIface, ip); err != nil {
			tun.Close()
			return fmt.Errorf("tun configure: %w", err)
		}
	}

	phys, err := transport.NewRawTransport(cfg.PhysicalIface)
	if err != nil {
		tun.Close()
		return fmt.Errorf("transport: %w", err)
	}

	d := daemon.New(cfg, logger, tun, phys, cfg.SelfIPs)

	ipcServer, err := ipc.Listen(cfg.LocalIPCPath, d, logger)
	if err != nil {
		tun.Close()
		phys.Close()
		return fmt.Errorf("ipc: %w", err)
	}
	go ipcServer.Serve()
	defer ipcServer.Close()

	return d.Run()
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
