// Package routetable implements the RL-driven routing table (component D):
// for each destination IP, a map from neighbor link-layer address to a
// learned value estimate, plus the derived softmax policy over that map.
// Keys are host routes (/32 or /128) inside a longest-prefix-match trie so
// that lookups are O(LPM) the way a real forwarding table's would be, even
// though every key here happens to be a single address, grounded on
// encodeous-nylon's core/router.go use of gaissmai/bart for its forwarding
// and exit tables.
package routetable

import (
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"

	"github.com/adhocrl/adhocrl/rl"
	"github.com/adhocrl/adhocrl/wire"
)

// AliveFunc reports whether a neighbor is currently live. The table
// consults it at selection time so that a value estimate surviving for a
// neighbor that has since expired never gets chosen (spec.md §3: "every
// neighbor referenced in an entry must be alive at the time of action
// selection").
type AliveFunc func(mac wire.MAC) bool

// Entry is the per-destination value vector. It owns its own mutex so
// that concurrent updates to different destinations never contend (spec.md
// §5: "the table mutex is per-table or sharded per-dst").
type Entry struct {
	mu     sync.Mutex
	values map[wire.MAC]float64
}

func newEntry() *Entry {
	return &Entry{values: make(map[wire.MAC]float64)}
}

// Snapshot returns a copy of the current value map, safe to read without
// holding the entry's lock afterward.
func (e *Entry) Snapshot() map[wire.MAC]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[wire.MAC]float64, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Table is the process-wide routing table, the hub of the hub-and-spokes
// layout described in spec.md §9: every other component refers to the
// table by identity rather than to each other.
type Table struct {
	v4, v6    bart.Table[*Entry]
	mu        sync.RWMutex
	selector  *rl.ActionSelector
	estimator *rl.ValueEstimator
	alive     AliveFunc
	vInit     float64
}

// New builds an empty table. tau is the softmax temperature, alpha the
// value-update learning rate, vInit the value a fresh (dst, neighbor) pair
// starts at.
func New(tau, alpha, vInit float64, alive AliveFunc, seed int64) *Table {
	return &Table{
		selector:  rl.NewActionSelector(tau, seed),
		estimator: &rl.ValueEstimator{Alpha: alpha},
		alive:     alive,
		vInit:     vInit,
	}
}

func hostPrefix(dst netip.Addr) netip.Prefix {
	bits := 32
	if dst.Is6() && !dst.Is4In6() {
		bits = 128
	}
	return netip.PrefixFrom(dst, bits)
}

func (t *Table) tableFor(dst netip.Addr) *bart.Table[*Entry] {
	if dst.Is4() || dst.Is4In6() {
		return &t.v4
	}
	return &t.v6
}

func (t *Table) entry(dst netip.Addr, create bool) *Entry {
	pfx := hostPrefix(dst)
	tbl := t.tableFor(dst)

	t.mu.RLock()
	e, ok := tbl.Get(pfx)
	t.mu.RUnlock()
	if ok || !create {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := tbl.Get(pfx); ok {
		return e
	}
	e = newEntry()
	tbl.Insert(pfx, e)
	return e
}

// BestAction samples a neighbor from the softmax distribution of dst's
// value estimates, restricted to currently-alive neighbors. It returns
// false if the entry is absent or every referenced neighbor is dead.
func (t *Table) BestAction(dst netip.Addr) (wire.MAC, bool) {
	e := t.entry(dst, false)
	if e == nil {
		return wire.MAC{}, false
	}
	values := e.Snapshot()
	for mac := range values {
		if t.alive != nil && !t.alive(mac) {
			delete(values, mac)
		}
	}
	return t.selector.Select(values)
}

// Update applies the incremental-mean value update for (dst, mac),
// initializing a fresh pair at vInit first if necessary.
func (t *Table) Update(dst netip.Addr, mac wire.MAC, reward float64) {
	e := t.entry(dst, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.values[mac]
	if !ok {
		cur = t.vInit
	}
	e.values[mac] = t.estimator.Update(cur, reward)
}

// AddRoute ensures an entry for (dst, mac) exists, without applying a
// reward — used when an RREP is heard or a neighbor advertises dst
// directly, before any reward has been observed.
func (t *Table) AddRoute(dst netip.Addr, mac wire.MAC) {
	e := t.entry(dst, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.values[mac]; !ok {
		e.values[mac] = t.vInit
	}
}

// HasRoute reports whether any entry exists for dst, regardless of
// neighbor liveness.
func (t *Table) HasRoute(dst netip.Addr) bool {
	return t.entry(dst, false) != nil
}

// DropNeighbor removes mac from every entry's value vector. Called by the
// neighbor sweeper when a neighbor's TTL expires (spec.md §4.C: "drop any
// routing-table entries whose key neighbors no longer exist").
func (t *Table) DropNeighbor(mac wire.MAC) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, tbl := range []*bart.Table[*Entry]{&t.v4, &t.v6} {
		for _, e := range tbl.All() {
			e.mu.Lock()
			delete(e.values, mac)
			e.mu.Unlock()
		}
	}
}

// AvgValue returns the mean value estimate across dst's neighbors, used
// for the reward send-side's "how good does this destination look"
// signal, grounded on original_source/RouteTable.py's calc_avg_value.
func (t *Table) AvgValue(dst netip.Addr) float64 {
	e := t.entry(dst, false)
	if e == nil {
		return 0
	}
	values := e.Snapshot()
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// DestSnapshot is one row of Snapshot's output.
type DestSnapshot struct {
	Dest   netip.Addr
	Values map[wire.MAC]float64
}

// Snapshot returns an atomic read view of the entire table, for
// inspection (local IPC "dump" command, status reporting).
func (t *Table) Snapshot() []DestSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []DestSnapshot
	for _, tbl := range []*bart.Table[*Entry]{&t.v4, &t.v6} {
		for pfx, e := range tbl.All() {
			out = append(out, DestSnapshot{Dest: pfx.Addr(), Values: e.Snapshot()})
		}
	}
	return out
}
