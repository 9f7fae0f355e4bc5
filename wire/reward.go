package wire

import "math"

const rewardMinLen = 15 // type(1) + reward_value(4) + msg_hash(4) + neighbor_mac(6)

// RewardHeader carries a scalar feedback value attributing a forwarding
// outcome to NeighborMAC, identified by MsgHash.
type RewardHeader struct {
	RewardValue float32
	MsgHash     uint32
	NeighborMAC MAC
}

func (h *RewardHeader) Kind() Kind { return KindReward }

func (h *RewardHeader) Encode() []byte {
	buf := make([]byte, rewardMinLen)
	buf[0] = byte(KindReward)
	putUint32(buf[1:5], math.Float32bits(h.RewardValue))
	putUint32(buf[5:9], h.MsgHash)
	putMAC(buf[9:15], h.NeighborMAC)
	return buf
}

func decodeReward(buf []byte) (Header, error) {
	return &RewardHeader{
		RewardValue: math.Float32frombits(getUint32(buf[1:5])),
		MsgHash:     getUint32(buf[5:9]),
		NeighborMAC: getMAC(buf[9:15]),
	}, nil
}
