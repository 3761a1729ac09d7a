// Package sim implements the stochastic casualty flow simulation: weighted
// categorical sampling, the evacuation transition matrix, and the walk that
// carries each casualty from point of injury to a terminal state.
package sim

import (
	"math/rand"
	"sort"
)

// WeightedSelector draws items from a fixed categorical distribution.
// Construction sorts items so the same seed always yields the same draw
// sequence regardless of map iteration order. The selector is immutable and
// safe for concurrent use; each caller supplies its own RNG.
//
// The selector is deliberately tolerant of degenerate input: negative
// weights are dropped at construction, and when no positive weight remains
// Pick falls back to a uniform draw over the original key set. Only an empty
// distribution yields no selection.
type WeightedSelector struct {
	items    []string
	bounds   []float64
	total    float64
	fallback []string
}

// NewWeightedSelector builds a selector from item weights.
func NewWeightedSelector(weights map[string]float64) *WeightedSelector {
	keys := make([]string, 0, len(weights))
	for item := range weights {
		keys = append(keys, item)
	}
	sort.Strings(keys)

	s := &WeightedSelector{fallback: keys}
	for _, item := range keys {
		w := weights[item]
		if w <= 0 {
			continue
		}
		s.total += w
		s.items = append(s.items, item)
		s.bounds = append(s.bounds, s.total)
	}
	return s
}

// Pick draws one item with probability proportional to its weight. The
// second return is false only when the distribution was empty. When every
// weight was zero or negative, Pick draws uniformly from the original keys.
func (s *WeightedSelector) Pick(rng *rand.Rand) (string, bool) {
	if s.total > 0 {
		r := rng.Float64() * s.total
		i := sort.Search(len(s.bounds), func(j int) bool { return s.bounds[j] > r })
		return s.items[i], true
	}
	if len(s.fallback) == 0 {
		return "", false
	}
	return s.fallback[rng.Intn(len(s.fallback))], true
}

// Items returns the keys the selector can return, in draw order.
func (s *WeightedSelector) Items() []string {
	src := s.items
	if s.total == 0 {
		src = s.fallback
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}
