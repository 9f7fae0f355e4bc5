package wire

const broadcastMinLen = 10 // type(1) + broadcast_id(4) + ttl(1) + src_node_id(4)

// BroadcastHeader carries a variable-length IP payload to every neighbor.
type BroadcastHeader struct {
	BroadcastID uint32
	TTL         byte
	SrcNodeID   uint32
	Payload     []byte
}

func (h *BroadcastHeader) Kind() Kind { return KindBroadcast }

func (h *BroadcastHeader) Encode() []byte {
	buf := make([]byte, broadcastMinLen+len(h.Payload))
	buf[0] = byte(KindBroadcast)
	putUint32(buf[1:5], h.BroadcastID)
	buf[5] = h.TTL
	putUint32(buf[6:10], h.SrcNodeID)
	copy(buf[broadcastMinLen:], h.Payload)
	return buf
}

func decodeBroadcast(buf []byte) (Header, error) {
	h := &BroadcastHeader{
		BroadcastID: getUint32(buf[1:5]),
		TTL:         buf[5],
		SrcNodeID:   getUint32(buf[6:10]),
	}
	if len(buf) > broadcastMinLen {
		h.Payload = append([]byte(nil), buf[broadcastMinLen:]...)
	}
	return h, nil
}
