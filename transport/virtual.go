package transport

import (
	"context"
	"sync"

	"github.com/adhocrl/adhocrl/wire"
)

// VirtualHub is the shared medium a set of VirtualTransports broadcast
// on, grounded on original_source/Transport.py's VirtualTransport (an
// AF_PACKET loopback in the original) and encodeous-nylon/mock's
// in-process endpoint pattern. It models a single physical segment: every
// member hears every broadcast frame sent by any other member, and a
// unicast frame reaches only the member it is addressed to.
type VirtualHub struct {
	mu      sync.Mutex
	members map[wire.MAC]*VirtualTransport
	// Drop, when set, reports whether a frame from src to dst should be
	// silently lost, letting tests simulate lossy links (S3/S4).
	Drop func(src, dst wire.MAC) bool
}

// NewVirtualHub builds an empty shared medium.
func NewVirtualHub() *VirtualHub {
	return &VirtualHub{members: make(map[wire.MAC]*VirtualTransport)}
}

// Join creates a new endpoint on the hub identified by mac.
func (h *VirtualHub) Join(mac wire.MAC) *VirtualTransport {
	t := &VirtualTransport{
		hub:    h,
		mac:    mac,
		inbox:  make(chan Frame, 256),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.members[mac] = t
	h.mu.Unlock()
	return t
}

func (h *VirtualHub) leave(mac wire.MAC) {
	h.mu.Lock()
	delete(h.members, mac)
	h.mu.Unlock()
}

func (h *VirtualHub) deliver(src, dst wire.MAC, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for mac, member := range h.members {
		if mac == src {
			continue
		}
		if dst != wire.BroadcastMAC && dst != mac {
			continue
		}
		if h.Drop != nil && h.Drop(src, mac) {
			continue
		}
		frame := Frame{SrcMAC: src, Payload: append([]byte(nil), payload...)}
		select {
		case member.inbox <- frame:
		default:
			// Bounded queue, drop-on-overflow like any IP router
			// (spec.md §5 backpressure clause).
		}
	}
}

// VirtualTransport is one node's handle on a VirtualHub.
type VirtualTransport struct {
	hub    *VirtualHub
	mac    wire.MAC
	inbox  chan Frame
	closed chan struct{}
	once   sync.Once
}

func (t *VirtualTransport) LocalMAC() wire.MAC { return t.mac }

func (t *VirtualTransport) Send(dst wire.MAC, payload []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.hub.deliver(t.mac, dst, payload)
	return nil
}

func (t *VirtualTransport) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-t.inbox:
		return f, nil
	case <-t.closed:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (t *VirtualTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.hub.leave(t.mac)
	})
	return nil
}
