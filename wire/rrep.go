package wire

const (
	rrep4MinLen = 16 // type(1) + hop_count(1) + dst_ip(4) + src_ip(4) + tx_mac(6)
	rrep6MinLen = 40 // type(1) + hop_count(1) + dst_ip(16) + src_ip(16) + tx_mac(6)
)

// RREP4Header is a unicast reply to an RREQ4Header, walking back the
// reverse path toward the originator.
type RREP4Header struct {
	HopCount byte
	DstIP    [4]byte
	SrcIP    [4]byte
	TxMAC    MAC
}

func (h *RREP4Header) Kind() Kind { return KindRREP4 }

func (h *RREP4Header) Encode() []byte {
	buf := make([]byte, rrep4MinLen)
	buf[0] = byte(KindRREP4)
	buf[1] = h.HopCount
	copy(buf[2:6], h.DstIP[:])
	copy(buf[6:10], h.SrcIP[:])
	putMAC(buf[10:16], h.TxMAC)
	return buf
}

func decodeRREP4(buf []byte) (Header, error) {
	h := &RREP4Header{HopCount: buf[1]}
	copy(h.DstIP[:], buf[2:6])
	copy(h.SrcIP[:], buf[6:10])
	h.TxMAC = getMAC(buf[10:16])
	return h, nil
}

// RREP6Header is the IPv6 variant of RREP4Header.
type RREP6Header struct {
	HopCount byte
	DstIP    [16]byte
	SrcIP    [16]byte
	TxMAC    MAC
}

func (h *RREP6Header) Kind() Kind { return KindRREP6 }

func (h *RREP6Header) Encode() []byte {
	buf := make([]byte, rrep6MinLen)
	buf[0] = byte(KindRREP6)
	buf[1] = h.HopCount
	copy(buf[2:18], h.DstIP[:])
	copy(buf[18:34], h.SrcIP[:])
	putMAC(buf[34:40], h.TxMAC)
	return buf
}

func decodeRREP6(buf []byte) (Header, error) {
	h := &RREP6Header{HopCount: buf[1]}
	copy(h.DstIP[:], buf[2:18])
	copy(h.SrcIP[:], buf[18:34])
	h.TxMAC = getMAC(buf[34:40])
	return h, nil
}
