// Package fitness implements the three-axis fitness order of spec
// section 4.6: a Measure combines edge and goal coverage into a single
// weighted norm, with input length as a tie-break.
package fitness

import "sentra-fuzz/internal/scoreboard"

// edgeWeight and goalWeight combine edge and goal norms into the
// single scalar the total order ranks on: w = 0.3*||edge|| + 0.7*||goal||.
const (
	edgeWeight = 0.3
	goalWeight = 0.7
)

// Measure is a testcase's fitness: its edge and goal coverage scores
// plus its input length (spec section 3).
type Measure struct {
	Edge   scoreboard.Score
	Goal   scoreboard.Score
	Length int
}

// New builds a Measure from a testcase's scoreboard scores and the
// length of the input that produced them.
func New(edge, goal scoreboard.Score, length int) Measure {
	return Measure{Edge: edge, Goal: goal, Length: length}
}

// weightedNorm is the scalar w from spec 4.6.
func (m Measure) weightedNorm() float64 {
	return edgeWeight*float64(m.Edge.Norm()) + goalWeight*float64(m.Goal.Norm())
}

// Less implements the strict total order of spec 4.6: rank by
// weighted norm first, and on a tie prefer the shorter input (a longer
// input is "smaller" in this order, per spec's exact wording).
func Less(a, b Measure) bool {
	wa, wb := a.weightedNorm(), b.weightedNorm()
	if wa != wb {
		return wa < wb
	}
	return a.Length > b.Length
}

// Compare returns -1, 0, or 1 as a compares below, equal to, or above
// b in the total order. Two Measures with equal weighted norm and
// equal length compare equal even if their underlying Edge/Goal
// breakdowns differ, per spec 4.6's definition of the order.
func Compare(a, b Measure) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}

// Max returns the larger of a and b under the total order, breaking
// exact ties (equal weighted norm and equal length) in favor of a.
func Max(a, b Measure) Measure {
	if Less(a, b) {
		return b
	}
	return a
}
