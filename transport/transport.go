// Package transport implements component B: frame send/receive over a
// physical interface (raw L2, Linux-only) or an in-process fan-out for
// multi-node tests, plus a local IPC duplex endpoint for operator
// inspection. Grounded on original_source/Transport.py's RawTransport and
// VirtualTransport, and on the custom EtherType (0x7777) it binds to.
package transport

import (
	"context"
	"errors"

	"github.com/adhocrl/adhocrl/wire"
)

// EtherType is this protocol family's custom frame type, matching
// original_source/Transport.py's self.proto = [0x77, 0x77].
const EtherType = 0x7777

// ErrClosed is returned by Recv, and by the virtual transport's Send, once
// the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Frame is one received link-layer frame, stripped of the Ethernet header.
type Frame struct {
	SrcMAC  wire.MAC
	Payload []byte
}

// Transport is implemented by both the raw physical transport and the
// in-process virtual transport, so module I and the control-plane
// components never know which one they're driving.
type Transport interface {
	// LocalMAC returns this endpoint's own link-layer address.
	LocalMAC() wire.MAC
	// Send transmits payload to dst (wire.BroadcastMAC for a broadcast).
	Send(dst wire.MAC, payload []byte) error
	// Recv blocks for the next frame carrying our EtherType, or returns
	// ctx's error / ErrClosed.
	Recv(ctx context.Context) (Frame, error)
	// Close unblocks any pending Recv and releases the underlying socket.
	Close() error
}
