// Package pathdiscovery implements component F: reactive RREQ flooding
// with request de-duplication, and buffering of outbound datagrams until
// a route appears or a deadline expires. Grounded on
// original_source/PathDiscovery.py.
package pathdiscovery

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// PendingRoute is the per-destination buffering record while an RREQ is
// outstanding (spec.md §3).
type PendingRoute struct {
	Dest     netip.Addr
	RreqID   uint32
	Buffered [][]byte
	Created  time.Time
	Deadline time.Time
}

type seenKey struct {
	originator uint32
	rreqID     uint32
}

// Manager tracks in-flight RREQs and their buffered datagrams. There is
// at most one PendingRoute per destination at a time (spec.md §3
// invariant).
type Manager struct {
	mu       sync.Mutex
	pending  map[netip.Addr]*PendingRoute
	seen     *ttlcache.Cache[seenKey, struct{}]
	queueMax int
	deadline time.Duration
	rreqID   atomic.Uint32
}

// New builds a Manager. deadline is RREQ_DEADLINE, queueMax is
// PENDING_QUEUE_MAX, seenTTL bounds how long a (originator, rreqID) pair
// is remembered for de-duplication.
func New(deadline time.Duration, queueMax int, seenTTL time.Duration) *Manager {
	return &Manager{
		pending:  make(map[netip.Addr]*PendingRoute),
		seen:     ttlcache.New[seenKey, struct{}](ttlcache.WithTTL[seenKey, struct{}](seenTTL)),
		queueMax: queueMax,
		deadline: deadline,
	}
}

// NextRREQID returns a fresh monotonic RREQ id.
func (m *Manager) NextRREQID() uint32 {
	return m.rreqID.Add(1)
}

// Begin starts route discovery for dst if none is already in flight,
// buffering payload and returning the rreqID to flood; isNew is false if an
// RREQ for dst is already pending (payload was still buffered) so the
// caller doesn't rebroadcast.
func (m *Manager) Begin(dst netip.Addr, payload []byte, now time.Time) (rreqID uint32, isNew bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pr, ok := m.pending[dst]; ok {
		if now.Before(pr.Deadline) {
			m.buffer(pr, payload)
			return pr.RreqID, false
		}
		// Stale entry past its deadline: drop it and restart discovery,
		// mirroring original_source/PathDiscovery.py's run_path_discovery
		// re-entry on a timed-out entry.
		delete(m.pending, dst)
	}

	id := m.NextRREQID()
	pr := &PendingRoute{
		Dest:     dst,
		RreqID:   id,
		Created:  now,
		Deadline: now.Add(m.deadline),
	}
	m.buffer(pr, payload)
	m.pending[dst] = pr
	return id, true
}

// Buffer appends payload to dst's in-flight PendingRoute, if any. Returns
// false if there is no pending discovery for dst (caller should drop the
// packet: the route resolved or was never requested).
func (m *Manager) Buffer(dst netip.Addr, payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.pending[dst]
	if !ok {
		return false
	}
	m.buffer(pr, payload)
	return true
}

func (m *Manager) buffer(pr *PendingRoute, payload []byte) {
	if len(pr.Buffered) >= m.queueMax {
		return // bounded queue: the incoming (newest) datagram is dropped silently
	}
	pr.Buffered = append(pr.Buffered, payload)
}

// Resolve is called on a matching RREP: it removes dst's PendingRoute and
// returns its buffered datagrams for the caller to drain back through
// the data handler.
func (m *Manager) Resolve(dst netip.Addr) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.pending[dst]
	if !ok {
		return nil
	}
	delete(m.pending, dst)
	return pr.Buffered
}

// Sweep discards every PendingRoute whose deadline has passed, dropping
// its buffered datagrams silently (spec.md §4.F: "Pending, deadline
// expires -> Absent: drop buffered datagrams"). It also prunes expired
// SeenRequestSet entries.
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	for dst, pr := range m.pending {
		if !now.Before(pr.Deadline) {
			delete(m.pending, dst)
		}
	}
	m.mu.Unlock()
	m.seen.DeleteExpired()
}

// IsPending reports whether dst currently has an outstanding RREQ.
func (m *Manager) IsPending(dst netip.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[dst]
	return ok
}

// SeenRequest records (originator, rreqID) and reports whether it had
// already been seen — the RREQ de-duplication check (spec.md §4.F,
// invariant 3: idempotence).
func (m *Manager) SeenRequest(originator, rreqID uint32) (alreadySeen bool) {
	key := seenKey{originator, rreqID}
	if m.seen.Has(key) {
		return true
	}
	m.seen.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return false
}
