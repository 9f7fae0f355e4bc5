// Package rl implements the two thin learning capabilities layered over
// the routing table: ActionSelector (softmax action sampling) and
// ValueEstimator (the incremental-mean value update). Both are pure
// functions over a snapshot of value estimates, grounded on the
// ActionSelector/ValueEstimator split in the original implementation's
// rl_logic package, kept separate so the policy and the learning rule can
// be swapped independently (epsilon-greedy, UCB, ...) without touching
// the routing table.
package rl

import (
	"math"
	"math/rand"

	"github.com/adhocrl/adhocrl/wire"
)

// ActionSelector draws a next-hop neighbor from a Gibbs-Boltzmann
// (softmax) distribution over value estimates, with temperature Tau.
type ActionSelector struct {
	Tau float64
	Rng *rand.Rand
}

// NewActionSelector builds a selector seeded from a fresh source so that
// concurrent selectors (one per routing-table entry, say) don't share a
// lock on the default global rand source.
func NewActionSelector(tau float64, seed int64) *ActionSelector {
	return &ActionSelector{Tau: tau, Rng: rand.New(rand.NewSource(seed))}
}

// Select samples a neighbor from values proportional to exp(v/tau). It
// returns false if values is empty. Ties and near-ties are resolved
// probabilistically by construction of the softmax draw.
func (s *ActionSelector) Select(values map[wire.MAC]float64) (wire.MAC, bool) {
	if len(values) == 0 {
		return wire.MAC{}, false
	}
	tau := s.Tau
	if tau <= 0 {
		tau = 1
	}

	type weighted struct {
		mac    wire.MAC
		weight float64
	}
	weights := make([]weighted, 0, len(values))

	maxV := math.Inf(-1)
	for _, v := range values {
		if v > maxV {
			maxV = v
		}
	}
	var total float64
	for mac, v := range values {
		w := math.Exp((v - maxV) / tau)
		weights = append(weights, weighted{mac: mac, weight: w})
		total += w
	}

	draw := s.Rng.Float64() * total
	var cum float64
	for _, w := range weights {
		cum += w.weight
		if draw <= cum {
			return w.mac, true
		}
	}
	return weights[len(weights)-1].mac, true
}

// Policy returns the softmax probability of each neighbor without
// sampling, for inspection and the statistical-convergence test (spec
// property 7).
func Policy(values map[wire.MAC]float64, tau float64) map[wire.MAC]float64 {
	if tau <= 0 {
		tau = 1
	}
	out := make(map[wire.MAC]float64, len(values))
	if len(values) == 0 {
		return out
	}
	maxV := math.Inf(-1)
	for _, v := range values {
		if v > maxV {
			maxV = v
		}
	}
	var total float64
	for mac, v := range values {
		w := math.Exp((v - maxV) / tau)
		out[mac] = w
		total += w
	}
	for mac := range out {
		out[mac] /= total
	}
	return out
}

// ValueEstimator applies the incremental-mean update v <- v + alpha*(reward - v).
// A fixed learning rate lets stale evidence decay, unlike an unweighted
// sample average.
type ValueEstimator struct {
	Alpha float64
}

// Update returns the new value estimate given the current one and an
// observed reward.
func (e *ValueEstimator) Update(current, reward float64) float64 {
	alpha := e.Alpha
	if alpha <= 0 {
		alpha = 1
	}
	return current + alpha*(reward-current)
}
