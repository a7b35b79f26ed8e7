package genetic

import (
	"math/rand"
	"sort"

	"sentra-fuzz/internal/fitness"
)

// MatingStrategyKind names one of spec 4.7's three mating strategies.
type MatingStrategyKind int

const (
	Elitism MatingStrategyKind = iota
	UniformMating
	Closeness // slow; only reachable when slow-strategies is enabled
)

// Pair is one index->index mate pairing for the current generation.
type Pair struct{ A, B int }

// Mate builds an index->index pairing over the population indices in
// measures, per the chosen strategy. buffers supplies each index's raw
// bytes, needed only by Closeness's alignment-distance scoring.
func Mate(rng *rand.Rand, kind MatingStrategyKind, measures map[int]fitness.Measure, buffers map[int][]byte) []Pair {
	switch kind {
	case Elitism:
		return elitismPairing(measures)
	case Closeness:
		return closenessPairing(measures, buffers)
	default:
		return uniformPairing(rng, measures)
	}
}

func sortedIndicesByMeasure(measures map[int]fitness.Measure, descending bool) []int {
	idxs := make([]int, 0, len(measures))
	for i := range measures {
		idxs = append(idxs, i)
	}
	sort.Slice(idxs, func(i, j int) bool {
		cmp := fitness.Compare(measures[idxs[i]], measures[idxs[j]])
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return idxs
}

// elitismPairing sorts by Measure descending and pairs consecutive
// best with next best (spec 4.7).
func elitismPairing(measures map[int]fitness.Measure) []Pair {
	idxs := sortedIndicesByMeasure(measures, true)
	return consecutivePairs(idxs)
}

func consecutivePairs(idxs []int) []Pair {
	pairs := make([]Pair, 0, len(idxs)/2)
	for i := 0; i+1 < len(idxs); i += 2 {
		pairs = append(pairs, Pair{idxs[i], idxs[i+1]})
	}
	if len(idxs)%2 == 1 && len(idxs) > 1 {
		pairs = append(pairs, Pair{idxs[len(idxs)-1], idxs[0]})
	}
	return pairs
}

// uniformPairing produces random pairs (spec 4.7).
func uniformPairing(rng *rand.Rand, measures map[int]fitness.Measure) []Pair {
	idxs := make([]int, 0, len(measures))
	for i := range measures {
		idxs = append(idxs, i)
	}
	rng.Shuffle(len(idxs), func(i, j int) { idxs[i], idxs[j] = idxs[j], idxs[i] })
	return consecutivePairs(idxs)
}

// closenessPairing greedily pairs the closest remaining indices by
// alignment score, per spec 4.7 ("multi-sequence alignment score; pair
// the closest remaining indices"). O(n^2) alignments; gated behind the
// "slow-strategies" flag at the caller.
func closenessPairing(measures map[int]fitness.Measure, buffers map[int][]byte) []Pair {
	remaining := make([]int, 0, len(measures))
	for i := range measures {
		remaining = append(remaining, i)
	}
	sort.Ints(remaining)

	var pairs []Pair
	for len(remaining) > 1 {
		best := -1
		bestI, bestJ := 0, 1
		for i := 0; i < len(remaining); i++ {
			for j := i + 1; j < len(remaining); j++ {
				score := alignmentScore(buffers[remaining[i]], buffers[remaining[j]])
				if best == -1 || score > best {
					best, bestI, bestJ = score, i, j
				}
			}
		}
		pairs = append(pairs, Pair{remaining[bestI], remaining[bestJ]})
		remaining = append(remaining[:bestJ], remaining[bestJ+1:]...)
		remaining = append(remaining[:bestI], remaining[bestI+1:]...)
	}
	return pairs
}

// alignmentScore is the Needleman-Wunsch score underlying align's
// traceback, reused here as closeness's distance metric: higher means
// closer.
func alignmentScore(a, b []byte) int {
	n, m := len(a), len(b)
	prev := make([]int, m+1)
	for j := 0; j <= m; j++ {
		prev[j] = -j
	}
	cur := make([]int, m+1)
	for i := 1; i <= n; i++ {
		cur[0] = -i
		for j := 1; j <= m; j++ {
			match := -1
			if a[i-1] == b[j-1] {
				match = 1
			}
			diag := prev[j-1] + match
			up := prev[j] - 1
			left := cur[j-1] - 1
			best := diag
			if up > best {
				best = up
			}
			if left > best {
				best = left
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}
	return prev[m]
}
