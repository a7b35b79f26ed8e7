package genetic

import "math/rand"

// CrossoverKind names one of the three crossover strategies of spec 4.7.
type CrossoverKind int

const (
	SinglePoint CrossoverKind = iota
	NPoints
	Uniform
	Alignment // slow; only reachable when slow-strategies is enabled
	numCrossoverKinds
)

// Crossover produces one child from parents a and b using kind.
func Crossover(rng *rand.Rand, kind CrossoverKind, a, b []byte) []byte {
	switch kind {
	case SinglePoint:
		return singlePointCrossover(rng, a, b)
	case NPoints:
		return nPointsCrossover(rng, a, b)
	case Uniform:
		return uniformCrossover(rng, a, b)
	case Alignment:
		return alignmentCrossover(rng, a, b)
	default:
		return singlePointCrossover(rng, a, b)
	}
}

// childLength picks the result length: the longer of the two parents,
// so every position has at least one real candidate donor.
func childLength(a, b []byte) int {
	if len(a) > len(b) {
		return len(a)
	}
	return len(b)
}

func singlePointCrossover(rng *rand.Rand, a, b []byte) []byte {
	n := childLength(a, b)
	if n == 0 {
		return nil
	}
	k := 1 + rng.Intn(n)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var src []byte
		if i < k {
			src = a
		} else {
			src = b
		}
		if i < len(src) {
			out[i] = src[i]
		} else {
			out[i] = byte(rng.Intn(256))
		}
	}
	return out
}

func nPointsCrossover(rng *rand.Rand, a, b []byte) []byte {
	n := childLength(a, b)
	if n == 0 {
		return nil
	}
	segSize := 4 + rng.Intn(5) // s >= 4, per spec 4.7
	maxSplits := n / segSize
	if maxSplits < 1 {
		maxSplits = 1
	}
	numSplits := 1 + rng.Intn(maxSplits)
	splits := pickSplitIndices(rng, n, numSplits)

	out := make([]byte, n)
	fromA := rng.Intn(2) == 0
	segStart := 0
	sorted := sortedIndices(splits, n)
	for _, idx := range sorted {
		fillSegment(out, segStart, idx, a, b, fromA, rng)
		segStart = idx
		fromA = !fromA
	}
	fillSegment(out, segStart, n, a, b, fromA, rng)
	return out
}

func fillSegment(out []byte, start, end int, a, b []byte, fromA bool, rng *rand.Rand) {
	src := b
	if fromA {
		src = a
	}
	for i := start; i < end; i++ {
		if i < len(src) {
			out[i] = src[i]
		} else {
			out[i] = byte(rng.Intn(256))
		}
	}
}

func pickSplitIndices(rng *rand.Rand, n, count int) map[int]bool {
	splits := make(map[int]bool, count)
	if n <= 1 {
		return splits
	}
	for len(splits) < count && len(splits) < n-1 {
		splits[1+rng.Intn(n-1)] = true
	}
	return splits
}

func sortedIndices(set map[int]bool, n int) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	// insertion sort: split counts are small (bounded by n/NUMBER_SEGMENTS)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func uniformCrossover(rng *rand.Rand, a, b []byte) []byte {
	n := childLength(a, b)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var src []byte
		if rng.Intn(2) == 0 {
			src = a
		} else {
			src = b
		}
		if i < len(src) {
			out[i] = src[i]
		} else {
			out[i] = byte(rng.Intn(256))
		}
	}
	return out
}

// alignmentCrossover implements the optional "slow-strategies" variant:
// a Needleman-Wunsch style alignment finds positions that correspond
// between the two parents, and only the unaligned positions are
// randomized -- everywhere the parents already agree on structure is
// preserved verbatim (spec 4.7).
func alignmentCrossover(rng *rand.Rand, a, b []byte) []byte {
	pairs := align(a, b)
	out := make([]byte, 0, len(pairs))
	for _, p := range pairs {
		switch {
		case p.ai >= 0 && p.bi >= 0 && a[p.ai] == b[p.bi]:
			out = append(out, a[p.ai])
		case p.ai >= 0 && rng.Intn(2) == 0:
			out = append(out, a[p.ai])
		case p.bi >= 0:
			out = append(out, b[p.bi])
		case p.ai >= 0:
			out = append(out, a[p.ai])
		default:
			out = append(out, byte(rng.Intn(256)))
		}
	}
	if len(out) == 0 {
		return append([]byte(nil), a...)
	}
	return out
}

type alignPair struct{ ai, bi int }

// align computes a simple global alignment between a and b via
// Needleman-Wunsch with a unit match/mismatch/gap score, returning the
// position pairing (gaps marked with -1).
func align(a, b []byte) []alignPair {
	n, m := len(a), len(b)
	type cell struct {
		score int
		from  byte // 'd' diag, 'u' up (gap in b), 'l' left (gap in a)
	}
	grid := make([][]cell, n+1)
	for i := range grid {
		grid[i] = make([]cell, m+1)
	}
	for i := 1; i <= n; i++ {
		grid[i][0] = cell{score: -i, from: 'u'}
	}
	for j := 1; j <= m; j++ {
		grid[0][j] = cell{score: -j, from: 'l'}
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			match := -1
			if a[i-1] == b[j-1] {
				match = 1
			}
			diag := grid[i-1][j-1].score + match
			up := grid[i-1][j].score - 1
			left := grid[i][j-1].score - 1
			best, from := diag, byte('d')
			if up > best {
				best, from = up, 'u'
			}
			if left > best {
				best, from = left, 'l'
			}
			grid[i][j] = cell{score: best, from: from}
		}
	}

	var pairs []alignPair
	i, j := n, m
	for i > 0 || j > 0 {
		if i == 0 {
			pairs = append(pairs, alignPair{-1, j - 1})
			j--
			continue
		}
		if j == 0 {
			pairs = append(pairs, alignPair{i - 1, -1})
			i--
			continue
		}
		switch grid[i][j].from {
		case 'd':
			pairs = append(pairs, alignPair{i - 1, j - 1})
			i--
			j--
		case 'u':
			pairs = append(pairs, alignPair{i - 1, -1})
			i--
		default:
			pairs = append(pairs, alignPair{-1, j - 1})
			j--
		}
	}
	// reverse into forward order
	for l, r := 0, len(pairs)-1; l < r; l, r = l+1, r-1 {
		pairs[l], pairs[r] = pairs[r], pairs[l]
	}
	return pairs
}
