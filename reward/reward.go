// Package reward implements component H: the send-side (emit a REWARD
// message backward for an observed forward) and wait-side (apply a
// learned reward when one arrives, or a timeout penalty when it doesn't)
// halves of the feedback loop. Grounded on
// original_source/RewardHandler.py and original_source/DataHandler.py's
// hop_count-scaled reward application.
package reward

import (
	"net/netip"
	"sync"
	"time"

	"github.com/adhocrl/adhocrl/wire"
)

// TableUpdater is the routing-table slice reward needs: apply a learned
// value update, and read the current average value for a destination
// (used to compute what to send back).
type TableUpdater interface {
	Update(dst netip.Addr, mac wire.MAC, reward float64)
	AvgValue(dst netip.Addr) float64
}

// FrameSender sends an already-encoded REWARD frame to a neighbor.
type FrameSender interface {
	Send(dst wire.MAC, frame []byte) error
}

// waitKey identifies one outstanding RewardPending record: the message
// whose forward we're waiting on downstream confirmation for, and the
// neighbor we attribute the outcome to.
type waitKey struct {
	msgHash uint32
	nextHop wire.MAC
}

type waitRecord struct {
	destIP   netip.Addr
	deadline time.Time
}

// WaitHandler is the wait-side half: spec.md §3's RewardPending records.
type WaitHandler struct {
	mu      sync.Mutex
	pending map[waitKey]waitRecord

	wait    time.Duration
	timeout float64
	table   TableUpdater
}

// NewWaitHandler builds a WaitHandler. wait is REWARD_WAIT, timeout is
// HOP_REWARD_TIMEOUT.
func NewWaitHandler(wait time.Duration, timeout float64, table TableUpdater) *WaitHandler {
	return &WaitHandler{pending: make(map[waitKey]waitRecord), wait: wait, timeout: timeout, table: table}
}

// Open registers that we are awaiting downstream confirmation for
// msgHash via nextHop, toward destIP.
func (w *WaitHandler) Open(msgHash uint32, nextHop wire.MAC, destIP netip.Addr, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[waitKey{msgHash, nextHop}] = waitRecord{destIP: destIP, deadline: now.Add(w.wait)}
}

// Settle applies rewardValue to (destIP, nextHop) if a matching
// RewardPending exists, and clears it. Returns false if no matching
// record was found (a stray or duplicate REWARD message).
func (w *WaitHandler) Settle(msgHash uint32, nextHop wire.MAC, rewardValue float64) bool {
	w.mu.Lock()
	rec, ok := w.pending[waitKey{msgHash, nextHop}]
	if ok {
		delete(w.pending, waitKey{msgHash, nextHop})
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	w.table.Update(rec.destIP, nextHop, rewardValue)
	return true
}

// Sweep applies HOP_REWARD_TIMEOUT to every record whose deadline has
// passed without a matching REWARD, and clears them.
func (w *WaitHandler) Sweep(now time.Time) {
	var expired []struct {
		key waitKey
		rec waitRecord
	}
	w.mu.Lock()
	for k, rec := range w.pending {
		if !now.Before(rec.deadline) {
			expired = append(expired, struct {
				key waitKey
				rec waitRecord
			}{k, rec})
			delete(w.pending, k)
		}
	}
	w.mu.Unlock()
	for _, e := range expired {
		w.table.Update(e.rec.destIP, e.key.nextHop, w.timeout)
	}
}

// sendKey throttles repeated reward sends for the same (dest, neighbor)
// pair, grounded on original_source/RewardHandler.py's
// RewardSendHandler hold_on_timeout.
type sendKey struct {
	destIP netip.Addr
	mac    wire.MAC
}

// SendHandler is the send-side half: after forwarding successfully, tell
// the previous hop how good this destination looks.
type SendHandler struct {
	mu      sync.Mutex
	lastSent map[sendKey]time.Time

	holdOn  time.Duration
	table   TableUpdater
	selfMAC wire.MAC
}

// NewSendHandler builds a SendHandler. holdOn throttles repeated sends to
// the same (dest, neighbor) pair. selfMAC is this node's own link address,
// reported on the wire as the REWARD's NeighborMAC so the original
// forwarder's RewardPending record (keyed on the next hop it sent to, i.e.
// us) actually matches, mirroring original_source/RewardHandler.py's
// send_back hashing self.node_mac rather than the frame's sender.
func NewSendHandler(holdOn time.Duration, table TableUpdater, selfMAC wire.MAC) *SendHandler {
	return &SendHandler{lastSent: make(map[sendKey]time.Time), holdOn: holdOn, table: table, selfMAC: selfMAC}
}

// ForwardReward is the amount attributed to a successful forward that is
// hopCount hops from the destination, per spec.md §4.H: "scaled by
// 1 / (hop_count + 1)".
func ForwardReward(base float64, hopCount int) float64 {
	return base / float64(hopCount+1)
}

// SendBack reports the average value of destIP back to prevHop (the
// neighbor that handed us this packet), unless we've done so within the
// hold-on window. It returns the REWARD header callers should encode and
// transmit to prevHop via B, or nil if throttled. The header's NeighborMAC names this node
// (not prevHop): prevHop's own WaitHandler.Open call keyed its
// RewardPending record on the next hop it sent to, which is us, so the
// REWARD must carry our MAC for Settle to find that record.
func (s *SendHandler) SendBack(destIP netip.Addr, prevHop wire.MAC, msgHash uint32, now time.Time) *wire.RewardHeader {
	key := sendKey{destIP, prevHop}
	s.mu.Lock()
	if last, ok := s.lastSent[key]; ok && now.Sub(last) < s.holdOn {
		s.mu.Unlock()
		return nil
	}
	s.lastSent[key] = now
	s.mu.Unlock()

	return &wire.RewardHeader{
		RewardValue: float32(s.table.AvgValue(destIP)),
		MsgHash:     msgHash,
		NeighborMAC: s.selfMAC,
	}
}
