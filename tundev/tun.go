// Package tundev opens and configures the point-to-point virtual IP
// interface the daemon reads/writes application datagrams through (spec.md
// §6, "Tunnel device"). Grounded on original_source/Transport.py's TUN
// ioctl constants and encodeous-nylon/core/sys_linux.go's
// InitInterface/ConfigureAlias, which shell out to `ip link`/`ip addr`
// rather than using netlink directly.
package tundev

import (
	"fmt"
	"net/netip"
	"os/exec"

	"log/slog"
)

// Device is the tunnel handle: plain byte Read/Write of IP datagrams, no
// framing beyond the IP header itself (spec.md §6).
type Device interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
	Name() string
}

// Configure brings ifaceName up and assigns addr to it, mirroring
// encodeous-nylon/core/sys_linux.go's InitInterface + ConfigureAlias
// (shell out to the `ip` tool rather than raw netlink, matching the
// teacher's idiom).
func Configure(logger *slog.Logger, ifaceName string, addr netip.Addr) error {
	if err := run(logger, "ip", "link", "set", ifaceName, "up"); err != nil {
		return err
	}
	if err := run(logger, "ip", "addr", "add", addr.String(), "dev", ifaceName); err != nil {
		return err
	}
	return nil
}

func run(logger *slog.Logger, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tundev: %s %v: %w (%s)", name, args, err, out)
	}
	if logger != nil {
		logger.Debug("ran network config command", "cmd", name, "args", args)
	}
	return nil
}
