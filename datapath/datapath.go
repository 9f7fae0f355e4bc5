// Package datapath implements component I: the pipeline that bridges the
// tunnel device to the physical transport, orchestrating D through H.
// Grounded on original_source/DataHandler.py's DataHandler/AppHandler/
// IncomingTrafficHandler split.
package datapath

import (
	"encoding/binary"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocrl/adhocrl/arq"
	"github.com/adhocrl/adhocrl/config"
	"github.com/adhocrl/adhocrl/neighbor"
	"github.com/adhocrl/adhocrl/pathdiscovery"
	"github.com/adhocrl/adhocrl/reward"
	"github.com/adhocrl/adhocrl/routetable"
	"github.com/adhocrl/adhocrl/transport"
	"github.com/adhocrl/adhocrl/tundev"
	"github.com/adhocrl/adhocrl/wire"
)

const defaultTTL = 32

// Handler is the pipeline glue described in spec.md §4.I. It holds no
// state of its own beyond bookkeeping (self IPs, the msg-id counter,
// node id); every durable state lives in the table/neighbor/pathdiscovery/
// arq/reward objects it was constructed with, per spec.md §9's
// hub-and-spokes design note.
type Handler struct {
	cfg config.Config

	tun  tundev.Device
	phys transport.Transport

	table     *routetable.Table
	neighbors *neighbor.Set
	discovery *pathdiscovery.Manager
	arqMgr    *arq.Manager
	waitRwd   *reward.WaitHandler
	sendRwd   *reward.SendHandler

	selfMAC wire.MAC
	nodeID  uint32

	selfIPsMu sync.RWMutex
	selfIPs   map[netip.Addr]struct{}

	msgCounter atomic.Uint32
	bcastCounter atomic.Uint32

	seenBcastMu sync.Mutex
	seenBcast   map[bcastKey]struct{}

	logger *slog.Logger
}

// New builds a Handler. selfIPs are the addresses bound to our own
// tunnel interface.
func New(cfg config.Config, tun tundev.Device, phys transport.Transport, table *routetable.Table,
	neighbors *neighbor.Set, discovery *pathdiscovery.Manager, arqMgr *arq.Manager,
	waitRwd *reward.WaitHandler, sendRwd *reward.SendHandler, selfIPs []netip.Addr, logger *slog.Logger) *Handler {

	ips := make(map[netip.Addr]struct{}, len(selfIPs))
	for _, ip := range selfIPs {
		ips[ip] = struct{}{}
	}

	mac := phys.LocalMAC()
	return &Handler{
		cfg:       cfg,
		tun:       tun,
		phys:      phys,
		table:     table,
		neighbors: neighbors,
		discovery: discovery,
		arqMgr:    arqMgr,
		waitRwd:   waitRwd,
		sendRwd:   sendRwd,
		selfMAC:   mac,
		nodeID:    macToUint32(mac),
		selfIPs:   ips,
		seenBcast: make(map[bcastKey]struct{}),
		logger:    logger,
	}
}

func macToUint32(mac wire.MAC) uint32 {
	return binary.BigEndian.Uint32(mac[2:6])
}

func addrToUint32(ip netip.Addr) uint32 {
	b := ip.As16()
	var h uint32
	for i := 0; i < 16; i += 4 {
		h ^= binary.BigEndian.Uint32(b[i : i+4])
	}
	return h
}

// IsLocal reports whether ip is bound to our own tunnel interface.
func (h *Handler) IsLocal(ip netip.Addr) bool {
	h.selfIPsMu.RLock()
	defer h.selfIPsMu.RUnlock()
	_, ok := h.selfIPs[ip]
	return ok
}

// AddLocalIP registers an additional address as locally bound, and
// bootstraps a self-route for it (spec.md §3.1 supplement).
func (h *Handler) AddLocalIP(ip netip.Addr) {
	h.selfIPsMu.Lock()
	h.selfIPs[ip] = struct{}{}
	h.selfIPsMu.Unlock()
	h.neighbors.BootstrapSelf(ip)
}

func (h *Handler) nextMsgID() uint32   { return h.msgCounter.Add(1) }
func (h *Handler) nextBcastID() uint32 { return h.bcastCounter.Add(1) }

// HandleOutbound is step 1-7 of spec.md §4.I: a datagram has appeared on
// our tunnel (or been drained from a resolved PendingRoute); deliver it.
func (h *Handler) HandleOutbound(datagram []byte, now time.Time) error {
	dst, ok := datagramDest(datagram)
	if !ok {
		return nil // not a recognizable IP datagram; drop silently like any router
	}

	if h.IsLocal(dst) {
		_, err := h.tun.Write(datagram)
		return err
	}

	mac, ok := h.table.BestAction(dst)
	if !ok {
		if h.discovery.IsPending(dst) {
			h.discovery.Buffer(dst, datagram)
			return nil
		}
		rreqID, isNew := h.discovery.Begin(dst, datagram, now)
		if isNew {
			h.floodRREQ(dst, rreqID, now)
		}
		return nil
	}

	return h.forwardTo(datagram, dst, mac, now)
}

// forwardTo encapsulates datagram toward mac (the chosen next hop for
// dst) and transmits it, opening a RewardPending entry for every
// forwarded frame (spec.md §4.I step 6).
func (h *Handler) forwardTo(datagram []byte, dst netip.Addr, mac wire.MAC, now time.Time) error {
	if h.useReliable(datagram) {
		msgID := h.nextMsgID()
		frame := (&wire.ReliableDataHeader{MsgID: msgID, DstMAC: mac, SrcMAC: h.selfMAC, Payload: datagram}).Encode()
		h.arqMgr.Register(msgID, dst, mac, frame, now)
		if err := h.phys.Send(mac, frame); err != nil {
			return err
		}
		h.waitRwd.Open(msgID, mac, dst, now)
		return nil
	}

	// Plain UNICAST carries no id on the wire, so both ends derive the
	// same RewardPending key from (dst, next hop) instead - see
	// correlationHash in inbound.go.
	frame := (&wire.UnicastHeader{TTL: defaultTTL, DstMAC: mac, SrcMAC: h.selfMAC, Payload: datagram}).Encode()
	if err := h.phys.Send(mac, frame); err != nil {
		return err
	}
	h.waitRwd.Open(correlationHash(dst, mac), mac, dst, now)
	return nil
}

func (h *Handler) useReliable(datagram []byte) bool {
	if !h.cfg.EnableARQ {
		return false
	}
	proto, port, ok := upperProtoAndPort(datagram)
	if !ok {
		return false
	}
	ports, ok := h.cfg.ArqPorts[proto]
	if !ok {
		return false
	}
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

func (h *Handler) floodRREQ(dst netip.Addr, rreqID uint32, now time.Time) {
	var frame wire.Header
	var srcIP netip.Addr
	if dst.Is4() {
		v4 := firstSelfV4(h)
		srcIP = netip.AddrFrom4(v4)
		frame = &wire.RREQ4Header{HopCount: 1, DstIP: dst.As4(), SrcIP: v4, RreqID: rreqID, BcastID: h.nextBcastID()}
	} else {
		v6 := firstSelfV6(h)
		srcIP = netip.AddrFrom16(v6)
		frame = &wire.RREQ6Header{HopCount: 1, DstIP: dst.As16(), SrcIP: v6, RreqID: rreqID, BcastID: h.nextBcastID()}
	}
	// mark with the same (originator, id) key handleRREQ4/6 use, so a
	// copy of our own request looping back to us is dropped, not reflooded.
	h.discovery.SeenRequest(addrToUint32(srcIP), rreqID)
	_ = h.phys.Send(wire.BroadcastMAC, frame.Encode())
}

func firstSelfV4(h *Handler) [4]byte {
	h.selfIPsMu.RLock()
	defer h.selfIPsMu.RUnlock()
	for ip := range h.selfIPs {
		if ip.Is4() {
			return ip.As4()
		}
	}
	return [4]byte{}
}

func firstSelfV6(h *Handler) [16]byte {
	h.selfIPsMu.RLock()
	defer h.selfIPsMu.RUnlock()
	for ip := range h.selfIPs {
		if ip.Is6() && !ip.Is4In6() {
			return ip.As16()
		}
	}
	return [16]byte{}
}
