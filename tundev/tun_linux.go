//go:build linux

package tundev

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxTUN opens /dev/net/tun and attaches it to a named TUN interface via
// TUNSETIFF, matching original_source/Transport.py's use of the same
// ioctl (TUNSETIFF=0x400454ca, IFF_TUN=0x0001).
type linuxTUN struct {
	f    *os.File
	name string
}

type ifReq struct {
	Name  [unix.IFNAMSIZ]byte
	Flags uint16
	_     [22]byte
}

// Open creates (or attaches to) the TUN interface named name.
func Open(name string) (Device, error) {
	f, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tundev: open /dev/net/tun: %w", err)
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = unix.IFF_TUN | unix.IFF_NO_PI

	if err := ioctl(f.Fd(), unix.TUNSETIFF, uintptr(unsafe.Pointer(&req))); err != nil {
		f.Close()
		return nil, fmt.Errorf("tundev: TUNSETIFF %s: %w", name, err)
	}

	return &linuxTUN{f: f, name: name}, nil
}

func ioctl(fd uintptr, req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func (t *linuxTUN) Read(buf []byte) (int, error)  { return t.f.Read(buf) }
func (t *linuxTUN) Write(buf []byte) (int, error) { return t.f.Write(buf) }
func (t *linuxTUN) Close() error                  { return t.f.Close() }
func (t *linuxTUN) Name() string                  { return t.name }
