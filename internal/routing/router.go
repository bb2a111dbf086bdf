// Package routing decides which backend endpoint serves a given turn. The
// decision is a pure function of an immutable condition snapshot and the
// endpoint registry, so it is safe to call from any goroutine and trivially
// deterministic for tests.
package routing

import (
	"errors"
	"sort"
)

// ErrNoEndpoint is returned when no registered endpoint of the requested
// family is usable under the snapshot's conditions.
var ErrNoEndpoint = errors.New("routing: no usable endpoint")

// Select picks the single best usable endpoint from candidates, evaluated
// against snap. Candidates are assumed pre-filtered to one capability
// family. Endpoints with an unusable status are discarded, then endpoints
// with any failing condition (conditions are conjunctive), then the
// survivors rank by reliability (desc), expected TTFT (asc), and cost
// (asc). Remaining ties resolve by registration order.
func Select(snap Snapshot, candidates []Candidate) (Endpoint, error) {
	eligible := make([]Endpoint, 0, len(candidates))

	for _, c := range candidates {
		if !c.Status.Usable() {
			continue
		}
		if !eligibleUnder(snap, c.Endpoint) {
			continue
		}
		eligible = append(eligible, c.Endpoint)
	}

	if len(eligible) == 0 {
		return Endpoint{}, ErrNoEndpoint
	}

	// Stable sort keeps registration order for full ties.
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Reliability != b.Reliability {
			return a.Reliability > b.Reliability
		}
		if a.TTFTMillis != b.TTFTMillis {
			return a.TTFTMillis < b.TTFTMillis
		}
		return a.CostPerToken < b.CostPerToken
	})

	return eligible[0], nil
}

func eligibleUnder(snap Snapshot, ep Endpoint) bool {
	for _, cond := range ep.Conditions {
		if !cond.Eval(snap) {
			return false
		}
	}
	return true
}

// Router binds Select to a registry for the orchestrator's per-turn calls.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Pick selects the best usable endpoint of the given family.
func (r *Router) Pick(snap Snapshot, family Family) (Endpoint, error) {
	return Select(snap, r.registry.Candidates(family))
}
