package wire

const (
	rreq4MinLen = 18 // type(1) + hop_count(1) + dst_ip(4) + src_ip(4) + rreq_id(4) + bcast_id(4)
	rreq6MinLen = 42 // type(1) + hop_count(1) + dst_ip(16) + src_ip(16) + rreq_id(4) + bcast_id(4)
)

// RREQ4Header is a route request flooded to discover a path to DstIP,
// growing HopCount by one at every rebroadcast.
type RREQ4Header struct {
	HopCount byte
	DstIP    [4]byte
	SrcIP    [4]byte
	RreqID   uint32
	BcastID  uint32
}

func (h *RREQ4Header) Kind() Kind { return KindRREQ4 }

func (h *RREQ4Header) Encode() []byte {
	buf := make([]byte, rreq4MinLen)
	buf[0] = byte(KindRREQ4)
	buf[1] = h.HopCount
	copy(buf[2:6], h.DstIP[:])
	copy(buf[6:10], h.SrcIP[:])
	putUint32(buf[10:14], h.RreqID)
	putUint32(buf[14:18], h.BcastID)
	return buf
}

func decodeRREQ4(buf []byte) (Header, error) {
	h := &RREQ4Header{HopCount: buf[1]}
	copy(h.DstIP[:], buf[2:6])
	copy(h.SrcIP[:], buf[6:10])
	h.RreqID = getUint32(buf[10:14])
	h.BcastID = getUint32(buf[14:18])
	return h, nil
}

// RREQ6Header is the IPv6 variant of RREQ4Header.
type RREQ6Header struct {
	HopCount byte
	DstIP    [16]byte
	SrcIP    [16]byte
	RreqID   uint32
	BcastID  uint32
}

func (h *RREQ6Header) Kind() Kind { return KindRREQ6 }

func (h *RREQ6Header) Encode() []byte {
	buf := make([]byte, rreq6MinLen)
	buf[0] = byte(KindRREQ6)
	buf[1] = h.HopCount
	copy(buf[2:18], h.DstIP[:])
	copy(buf[18:34], h.SrcIP[:])
	putUint32(buf[34:38], h.RreqID)
	putUint32(buf[38:42], h.BcastID)
	return buf
}

func decodeRREQ6(buf []byte) (Header, error) {
	h := &RREQ6Header{HopCount: buf[1]}
	copy(h.DstIP[:], buf[2:18])
	copy(h.SrcIP[:], buf[18:34])
	h.RreqID = getUint32(buf[34:38])
	h.BcastID = getUint32(buf[38:42])
	return h, nil
}
