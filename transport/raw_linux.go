//go:build linux

package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/adhocrl/adhocrl/wire"
)

// RawTransport binds an AF_PACKET/SOCK_DGRAM socket to a named physical
// interface and exchanges frames carrying EtherType; the kernel builds the
// Ethernet header on send and strips it on receive. Grounded on
// original_source/Transport.py's RawTransport.__init__, which binds
// (dev, 0x7777) the same way.
type RawTransport struct {
	fd       int
	ifIndex  int
	localMAC wire.MAC
	closed   chan struct{}
}

// NewRawTransport opens and binds the raw socket on ifaceName.
func NewRawTransport(ifaceName string) (*RawTransport, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("transport: lookup %s: %w", ifaceName, err)
	}
	var mac wire.MAC
	copy(mac[:], iface.HardwareAddr)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_DGRAM, int(htons(EtherType)))
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(EtherType),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %s: %w", ifaceName, err)
	}

	return &RawTransport{
		fd:       fd,
		ifIndex:  iface.Index,
		localMAC: mac,
		closed:   make(chan struct{}),
	}, nil
}

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

func (t *RawTransport) LocalMAC() wire.MAC { return t.localMAC }

func (t *RawTransport) Send(dst wire.MAC, payload []byte) error {
	addr := unix.SockaddrLinklayer{
		Protocol: htons(EtherType),
		Ifindex:  t.ifIndex,
		Halen:    6,
	}
	copy(addr.Addr[:6], dst[:])
	if err := unix.Sendto(t.fd, payload, 0, &addr); err != nil {
		return fmt.Errorf("transport: sendto: %w", err)
	}
	return nil
}

// Recv blocks on a raw read of the socket. The only cancellation path is
// closing the socket (spec.md §5: "blocking reads are interrupted by
// closing the underlying socket"); ctx is honored by a watcher goroutine
// that closes the socket if ctx is canceled first.
func (t *RawTransport) Recv(ctx context.Context) (Frame, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-done:
		case <-t.closed:
		}
	}()

	buf := make([]byte, 65536)
	for {
		n, from, err := unix.Recvfrom(t.fd, buf, 0)
		if err != nil {
			select {
			case <-t.closed:
				return Frame{}, ErrClosed
			default:
			}
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, fmt.Errorf("transport: recvfrom: %w", err)
		}
		ll, ok := from.(*unix.SockaddrLinklayer)
		if !ok {
			continue
		}
		var src wire.MAC
		copy(src[:], ll.Addr[:6])
		if src == t.localMAC {
			continue
		}
		return Frame{SrcMAC: src, Payload: append([]byte(nil), buf[:n]...)}, nil
	}
}

func (t *RawTransport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return unix.Close(t.fd)
}
