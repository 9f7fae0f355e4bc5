package datapath

import "net/netip"

// datagramDest extracts the destination IP address from a raw IPv4 or
// IPv6 datagram, as read off the tunnel or recovered from a decoded
// frame's payload. It never panics on short input.
func datagramDest(datagram []byte) (netip.Addr, bool) {
	if len(datagram) < 1 {
		return netip.Addr{}, false
	}
	version := datagram[0] >> 4
	switch version {
	case 4:
		if len(datagram) < 20 {
			return netip.Addr{}, false
		}
		var b [4]byte
		copy(b[:], datagram[16:20])
		return netip.AddrFrom4(b), true
	case 6:
		if len(datagram) < 40 {
			return netip.Addr{}, false
		}
		var b [16]byte
		copy(b[:], datagram[24:40])
		return netip.AddrFrom16(b), true
	default:
		return netip.Addr{}, false
	}
}

func datagramSrc(datagram []byte) (netip.Addr, bool) {
	if len(datagram) < 1 {
		return netip.Addr{}, false
	}
	version := datagram[0] >> 4
	switch version {
	case 4:
		if len(datagram) < 20 {
			return netip.Addr{}, false
		}
		var b [4]byte
		copy(b[:], datagram[12:16])
		return netip.AddrFrom4(b), true
	case 6:
		if len(datagram) < 40 {
			return netip.Addr{}, false
		}
		var b [16]byte
		copy(b[:], datagram[8:24])
		return netip.AddrFrom16(b), true
	default:
		return netip.Addr{}, false
	}
}

// upperProtoAndPort recovers the protocol name and destination port the
// ARQ_LIST config key matches against, grounded on
// original_source/Transport.py's get_upper_proto_info. Only the handful
// of protocols conf.py's ARQ_LIST names are recognized; anything else
// reports ok=false and plain UNICAST is used.
func upperProtoAndPort(datagram []byte) (proto string, port int, ok bool) {
	if len(datagram) < 1 {
		return "", 0, false
	}
	version := datagram[0] >> 4
	switch version {
	case 4:
		if len(datagram) < 20 {
			return "", 0, false
		}
		ihl := int(datagram[0]&0x0f) * 4
		if len(datagram) < ihl+4 {
			return protoNameWithPort(datagram[9], nil)
		}
		return protoNameWithPort(datagram[9], datagram[ihl:])
	case 6:
		if len(datagram) < 40 {
			return "", 0, false
		}
		return protoNameWithPort(datagram[6], datagram[40:])
	default:
		return "", 0, false
	}
}

func protoName(proto byte, v4 bool) string {
	switch proto {
	case 6:
		return "TCP"
	case 17:
		return "UDP"
	case 1:
		return "ICMP4"
	case 58:
		return "ICMP6"
	default:
		return ""
	}
}

func protoNameWithPort(proto byte, rest []byte) (string, int, bool) {
	name := protoName(proto, true)
	if name == "" {
		return "", 0, false
	}
	if name == "ICMP4" || name == "ICMP6" {
		return name, 0, true
	}
	if len(rest) < 4 {
		return name, 0, true
	}
	port := int(rest[2])<<8 | int(rest[3])
	return name, port, true
}
