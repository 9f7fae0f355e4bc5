package datapath

import (
	"net/netip"
	"time"

	"github.com/adhocrl/adhocrl/reward"
	"github.com/adhocrl/adhocrl/transport"
	"github.com/adhocrl/adhocrl/wire"
)

// bcastKey deduplicates BROADCAST frames by (originator, broadcast id).
type bcastKey struct {
	srcNodeID   uint32
	broadcastID uint32
}

// HandleFrame is the inbound half of spec.md §4.I: decode, then dispatch
// by kind to C/F/G/H or the forwarding path.
func (h *Handler) HandleFrame(frame transport.Frame, now time.Time) error {
	hdr, err := wire.Decode(frame.Payload)
	if err != nil {
		return err // caller logs MalformedHeader/UnknownKind and continues; no drop counter is kept
	}

	switch v := hdr.(type) {
	case *wire.HelloHeader:
		var ipv4, ipv6 []netip.Addr
		if v.IPv4 != nil {
			ipv4 = append(ipv4, netip.AddrFrom4(*v.IPv4))
		}
		if v.IPv6 != nil {
			ipv6 = append(ipv6, netip.AddrFrom16(*v.IPv6))
		}
		h.neighbors.Upsert(frame.SrcMAC, ipv4, ipv6, v.GWMode, now)
		return nil
	case *wire.BroadcastHeader:
		return h.handleBroadcast(v)
	case *wire.UnicastHeader:
		return h.handleUnicast(frame.SrcMAC, v, now)
	case *wire.ReliableDataHeader:
		return h.handleReliableData(frame.SrcMAC, v, now)
	case *wire.AckHeader:
		h.arqMgr.HandleAck(v.MsgID)
		return nil
	case *wire.RewardHeader:
		h.waitRwd.Settle(v.MsgHash, v.NeighborMAC, float64(v.RewardValue))
		return nil
	case *wire.RREQ4Header:
		return h.handleRREQ4(frame.SrcMAC, v)
	case *wire.RREQ6Header:
		return h.handleRREQ6(frame.SrcMAC, v)
	case *wire.RREP4Header:
		return h.handleRREP4(frame.SrcMAC, v, now)
	case *wire.RREP6Header:
		return h.handleRREP6(frame.SrcMAC, v, now)
	default:
		return nil
	}
}

// correlationHash derives a reward correlation id for plain UNICAST
// frames, which (unlike RELIABLE_DATA) carry no id on the wire. The
// forwarder computes it from (dst, next hop); the receiver must rederive
// the identical value from (dst, its own MAC), since the receiver's own
// MAC is the forwarder's next hop. This generalizes
// original_source/RewardHandler.py's hash(dst_ip+mac) keying to the
// per-packet-id model spec.md's REWARD header calls for (see DESIGN.md
// Open Question decisions).
func correlationHash(dst netip.Addr, mac wire.MAC) uint32 {
	h := addrToUint32(dst)
	for _, b := range mac {
		h = h*31 + uint32(b)
	}
	return h
}

func (h *Handler) handleBroadcast(v *wire.BroadcastHeader) error {
	key := bcastKey{v.SrcNodeID, v.BroadcastID}
	h.seenBcastMu.Lock()
	_, seen := h.seenBcast[key]
	if !seen {
		h.seenBcast[key] = struct{}{}
	}
	h.seenBcastMu.Unlock()
	if seen {
		return nil
	}

	_, _ = h.tun.Write(v.Payload)
	if v.TTL == 0 {
		return nil
	}
	out := &wire.BroadcastHeader{BroadcastID: v.BroadcastID, TTL: v.TTL - 1, SrcNodeID: v.SrcNodeID, Payload: v.Payload}
	return h.phys.Send(wire.BroadcastMAC, out.Encode())
}

func (h *Handler) handleUnicast(src wire.MAC, v *wire.UnicastHeader, now time.Time) error {
	if v.DstMAC != h.selfMAC {
		return nil
	}
	dst, ok := datagramDest(v.Payload)
	if !ok {
		return nil
	}

	// The forwarder keyed its RewardPending record on (dst, next hop),
	// where next hop is us - so the hash must be rederived from our own
	// MAC, not the frame's sender, or Settle can never find it.
	if hdr := h.sendRwd.SendBack(dst, src, correlationHash(dst, h.selfMAC), now); hdr != nil {
		_ = h.phys.Send(src, hdr.Encode())
	}

	if h.IsLocal(dst) {
		_, err := h.tun.Write(v.Payload)
		return err
	}
	if v.TTL == 0 {
		return nil
	}

	mac, ok := h.table.BestAction(dst)
	if !ok {
		if h.discovery.IsPending(dst) {
			h.discovery.Buffer(dst, v.Payload)
			return nil
		}
		rreqID, isNew := h.discovery.Begin(dst, v.Payload, now)
		if isNew {
			h.floodRREQ(dst, rreqID, now)
		}
		return nil
	}

	frame := (&wire.UnicastHeader{TTL: v.TTL - 1, DstMAC: mac, SrcMAC: h.selfMAC, Payload: v.Payload}).Encode()
	if err := h.phys.Send(mac, frame); err != nil {
		return err
	}
	h.waitRwd.Open(correlationHash(dst, mac), mac, dst, now)
	return nil
}

func (h *Handler) handleReliableData(src wire.MAC, v *wire.ReliableDataHeader, now time.Time) error {
	if v.DstMAC != h.selfMAC {
		return nil
	}

	ack := (&wire.AckHeader{MsgID: v.MsgID, TxMAC: h.selfMAC}).Encode()
	_ = h.phys.Send(src, ack)

	if h.arqMgr.SeenInbound(v.MsgID, src) {
		return nil // at-most-once delivery: ACK again, but never deliver twice
	}

	dst, ok := datagramDest(v.Payload)
	if !ok {
		return nil
	}

	if hdr := h.sendRwd.SendBack(dst, src, v.MsgID, now); hdr != nil {
		_ = h.phys.Send(src, hdr.Encode())
	}

	if h.IsLocal(dst) {
		_, err := h.tun.Write(v.Payload)
		return err
	}

	mac, ok := h.table.BestAction(dst)
	if !ok {
		if h.discovery.IsPending(dst) {
			h.discovery.Buffer(dst, v.Payload)
			return nil
		}
		rreqID, isNew := h.discovery.Begin(dst, v.Payload, now)
		if isNew {
			h.floodRREQ(dst, rreqID, now)
		}
		return nil
	}

	msgID := h.nextMsgID()
	frame := (&wire.ReliableDataHeader{MsgID: msgID, DstMAC: mac, SrcMAC: h.selfMAC, Payload: v.Payload}).Encode()
	h.arqMgr.Register(msgID, dst, mac, frame, now)
	if err := h.phys.Send(mac, frame); err != nil {
		return err
	}
	h.waitRwd.Open(msgID, mac, dst, now)
	return nil
}

func (h *Handler) handleRREQ4(src wire.MAC, v *wire.RREQ4Header) error {
	requester := netip.AddrFrom4(v.SrcIP)
	originator := addrToUint32(requester)
	if h.discovery.SeenRequest(originator, v.RreqID) {
		return nil
	}
	h.table.Update(requester, src, reward.ForwardReward(h.cfg.HelloRouteReward, int(v.HopCount)))

	target := netip.AddrFrom4(v.DstIP)
	if h.IsLocal(target) {
		rrep := &wire.RREP4Header{HopCount: 1, DstIP: v.SrcIP, SrcIP: v.DstIP, TxMAC: h.selfMAC}
		return h.phys.Send(src, rrep.Encode())
	}

	out := &wire.RREQ4Header{HopCount: v.HopCount + 1, DstIP: v.DstIP, SrcIP: v.SrcIP, RreqID: v.RreqID, BcastID: v.BcastID}
	return h.phys.Send(wire.BroadcastMAC, out.Encode())
}

func (h *Handler) handleRREQ6(src wire.MAC, v *wire.RREQ6Header) error {
	requester := netip.AddrFrom16(v.SrcIP)
	originator := addrToUint32(requester)
	if h.discovery.SeenRequest(originator, v.RreqID) {
		return nil
	}
	h.table.Update(requester, src, reward.ForwardReward(h.cfg.HelloRouteReward, int(v.HopCount)))

	target := netip.AddrFrom16(v.DstIP)
	if h.IsLocal(target) {
		rrep := &wire.RREP6Header{HopCount: 1, DstIP: v.SrcIP, SrcIP: v.DstIP, TxMAC: h.selfMAC}
		return h.phys.Send(src, rrep.Encode())
	}

	out := &wire.RREQ6Header{HopCount: v.HopCount + 1, DstIP: v.DstIP, SrcIP: v.SrcIP, RreqID: v.RreqID, BcastID: v.BcastID}
	return h.phys.Send(wire.BroadcastMAC, out.Encode())
}

func (h *Handler) handleRREP4(src wire.MAC, v *wire.RREP4Header, now time.Time) error {
	target := netip.AddrFrom4(v.SrcIP)
	requester := netip.AddrFrom4(v.DstIP)
	h.table.Update(target, src, reward.ForwardReward(h.cfg.HelloRouteReward, int(v.HopCount)))

	if h.IsLocal(requester) {
		for _, pkt := range h.discovery.Resolve(target) {
			_ = h.HandleOutbound(pkt, now)
		}
		return nil
	}

	mac, ok := h.table.BestAction(requester)
	if !ok {
		return nil
	}
	out := &wire.RREP4Header{HopCount: v.HopCount + 1, DstIP: v.DstIP, SrcIP: v.SrcIP, TxMAC: h.selfMAC}
	return h.phys.Send(mac, out.Encode())
}

func (h *Handler) handleRREP6(src wire.MAC, v *wire.RREP6Header, now time.Time) error {
	target := netip.AddrFrom16(v.SrcIP)
	requester := netip.AddrFrom16(v.DstIP)
	h.table.Update(target, src, reward.ForwardReward(h.cfg.HelloRouteReward, int(v.HopCount)))

	if h.IsLocal(requester) {
		for _, pkt := range h.discovery.Resolve(target) {
			_ = h.HandleOutbound(pkt, now)
		}
		return nil
	}

	mac, ok := h.table.BestAction(requester)
	if !ok {
		return nil
	}
	out := &wire.RREP6Header{HopCount: v.HopCount + 1, DstIP: v.DstIP, SrcIP: v.SrcIP, TxMAC: h.selfMAC}
	return h.phys.Send(mac, out.Encode())
}
