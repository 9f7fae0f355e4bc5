package wire

const helloMinLen = 10 // type(1) + node_id(4) + tx_count(4) + flags(1)

const (
	helloFlagIPv4 = 1 << 0
	helloFlagIPv6 = 1 << 1
	helloFlagGW   = 1 << 2
)

// HelloHeader is the periodic neighbor-discovery beacon. IPv4/IPv6 are
// nil when the node has not advertised that family. GWMode mirrors the
// original implementation's gateway-advertisement flag: a node that sets
// it is offering itself as a default route for the wildcard destination.
type HelloHeader struct {
	NodeID   uint32
	TxCount  uint32
	IPv4     *[4]byte
	IPv6     *[16]byte
	GWMode   bool
}

func (h *HelloHeader) Kind() Kind { return KindHello }

func (h *HelloHeader) Encode() []byte {
	size := helloMinLen
	if h.IPv4 != nil {
		size += 4
	}
	if h.IPv6 != nil {
		size += 16
	}
	buf := make([]byte, size)
	buf[0] = byte(KindHello)
	putUint32(buf[1:5], h.NodeID)
	putUint32(buf[5:9], h.TxCount)
	var flags byte
	if h.IPv4 != nil {
		flags |= helloFlagIPv4
	}
	if h.IPv6 != nil {
		flags |= helloFlagIPv6
	}
	if h.GWMode {
		flags |= helloFlagGW
	}
	buf[9] = flags
	off := helloMinLen
	if h.IPv4 != nil {
		copy(buf[off:off+4], h.IPv4[:])
		off += 4
	}
	if h.IPv6 != nil {
		copy(buf[off:off+16], h.IPv6[:])
		off += 16
	}
	return buf
}

func decodeHello(buf []byte) (Header, error) {
	h := &HelloHeader{
		NodeID:  getUint32(buf[1:5]),
		TxCount: getUint32(buf[5:9]),
	}
	flags := buf[9]
	h.GWMode = flags&helloFlagGW != 0
	off := helloMinLen
	if flags&helloFlagIPv4 != 0 {
		if len(buf) < off+4 {
			return nil, MalformedHeader
		}
		var v4 [4]byte
		copy(v4[:], buf[off:off+4])
		h.IPv4 = &v4
		off += 4
	}
	if flags&helloFlagIPv6 != 0 {
		if len(buf) < off+16 {
			return nil, MalformedHeader
		}
		var v6 [16]byte
		copy(v6[:], buf[off:off+16])
		h.IPv6 = &v6
		off += 16
	}
	return h, nil
}
