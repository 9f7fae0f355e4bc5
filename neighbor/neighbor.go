// Package neighbor implements component C's time-bounded live-neighbor
// set, fed by received HELLOs, grounded on
// original_source/NeighborDiscovery.py. The periodic HELLO broadcast itself
// is daemon's helloLoop.
package neighbor

import (
	"net/netip"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/adhocrl/adhocrl/wire"
)

// Neighbor is one entry in the live set: a link-layer address plus the
// IP addresses it has advertised over HELLO and when it was last heard
// from.
type Neighbor struct {
	MAC        wire.MAC
	IPv4       []netip.Addr
	IPv6       []netip.Addr
	GWMode     bool
	LastSeen   time.Time
}

func (n Neighbor) clone() Neighbor {
	return Neighbor{
		MAC:      n.MAC,
		IPv4:     append([]netip.Addr(nil), n.IPv4...),
		IPv6:     append([]netip.Addr(nil), n.IPv6...),
		GWMode:   n.GWMode,
		LastSeen: n.LastSeen,
	}
}

// RouteInstaller is the subset of routetable.Table that neighbor
// discovery needs: install a route on first (or changed) HELLO, and tear
// down every entry referencing a neighbor once it expires. Declared here
// rather than imported from routetable to keep the hub-and-spokes wiring
// a matter of passing concrete *routetable.Table values at construction,
// not an import cycle.
type RouteInstaller interface {
	AddRoute(dst netip.Addr, mac wire.MAC)
	Update(dst netip.Addr, mac wire.MAC, reward float64)
	DropNeighbor(mac wire.MAC)
}

// Set is the live neighbor table, owned exclusively by this package; all
// other components hold read snapshots (spec.md §3).
type Set struct {
	mu   sync.RWMutex
	byMAC map[wire.MAC]Neighbor

	ttl            time.Duration
	helloRouteReward float64
	selfRouteReward  float64
	table            RouteInstaller
	selfMAC          wire.MAC
}

// New builds an empty neighbor set. ttl is NEIGHBOR_TTL; table is the
// routing table to install direct-neighbor routes into.
func New(ttl time.Duration, helloRouteReward, selfRouteReward float64, table RouteInstaller, selfMAC wire.MAC) *Set {
	return &Set{
		byMAC:            make(map[wire.MAC]Neighbor),
		ttl:              ttl,
		helloRouteReward: helloRouteReward,
		selfRouteReward:  selfRouteReward,
		table:            table,
		selfMAC:          selfMAC,
	}
}

// BootstrapSelf installs a route to our own advertised IPs, grounded on
// original_source/NeighborDiscovery.py's update_ips_in_route_table, which
// seeds the table with a strong self-route reward so local delivery is
// always preferred over forwarding.
func (s *Set) BootstrapSelf(ips ...netip.Addr) {
	for _, ip := range ips {
		s.table.Update(ip, s.selfMAC, s.selfRouteReward)
	}
}

// Upsert records a HELLO reception from mac, advertising ipv4/ipv6 and a
// gateway flag. It is idempotent: re-advertising the same addresses only
// refreshes LastSeen, matching original_source/NeighborDiscovery.py's
// process_neighbor (reward only re-applied when the advertised set
// changes).
func (s *Set) Upsert(mac wire.MAC, ipv4, ipv6 []netip.Addr, gwMode bool, now time.Time) {
	if mac == s.selfMAC {
		return
	}
	s.mu.Lock()
	existing, had := s.byMAC[mac]
	changed := !had || !sameAddrs(existing.IPv4, ipv4) || !sameAddrs(existing.IPv6, ipv6) || existing.GWMode != gwMode
	s.byMAC[mac] = Neighbor{MAC: mac, IPv4: ipv4, IPv6: ipv6, GWMode: gwMode, LastSeen: now}
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, ip := range ipv4 {
		s.table.Update(ip, mac, s.helloRouteReward)
	}
	for _, ip := range ipv6 {
		s.table.Update(ip, mac, s.helloRouteReward)
	}
	if gwMode {
		s.table.AddRoute(netip.IPv4Unspecified(), mac)
		s.table.AddRoute(netip.IPv6Unspecified(), mac)
	}
}

func sameAddrs(a, b []netip.Addr) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[netip.Addr]bool, len(a))
	for _, x := range a {
		seen[x] = true
	}
	for _, y := range b {
		if !seen[y] {
			return false
		}
	}
	return true
}

// IsAlive reports whether mac is currently within its TTL window.
func (s *Set) IsAlive(mac wire.MAC) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byMAC[mac]
	if !ok {
		return false
	}
	return time.Since(n.LastSeen) <= s.ttl
}

// Snapshot returns every currently-known neighbor (live or not yet
// swept), for inspection.
func (s *Set) Snapshot() []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Neighbor, 0, len(s.byMAC))
	for _, n := range s.byMAC {
		out = append(out, n.clone())
	}
	return out
}

// Sweep evicts every neighbor whose last HELLO is older than the TTL and
// drops its routing-table entries. Returns the evicted MACs.
func (s *Set) Sweep(now time.Time) []wire.MAC {
	s.mu.Lock()
	var expired []wire.MAC
	for mac, n := range s.byMAC {
		if now.Sub(n.LastSeen) > s.ttl {
			expired = append(expired, mac)
			delete(s.byMAC, mac)
		}
	}
	s.mu.Unlock()

	for _, mac := range expired {
		s.table.DropNeighbor(mac)
	}
	return expired
}

// LiveMACs returns every currently-alive neighbor MAC. Nothing in the
// daemon calls it; HELLOs and RREQ floods are sent to wire.BroadcastMAC.
func (s *Set) LiveMACs(now time.Time) []wire.MAC {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.FilterMap(lo.Values(s.byMAC), func(n Neighbor, _ int) (wire.MAC, bool) {
		return n.MAC, now.Sub(n.LastSeen) <= s.ttl
	})
}
