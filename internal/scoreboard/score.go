// Package scoreboard implements the coverage scoreboard of spec
// section 4.5: an incremental CFG edge graph, goal-hit set, and
// per-testcase score accumulation. The graph itself is a plain
// adjacency list over dense block-element ids (see DESIGN.md for why
// no third-party graph library from the pack was wired in here).
package scoreboard

import "math"

// Score is the two-part coverage score of spec section 3: absolute
// counts every hit, diff counts only first-time hits.
type Score struct {
	Absolute int64
	Diff     int64
}

// Add accumulates another hit into s, spec 4.5: "add (+2, +1)" for a
// first-time edge/goal, "add (+1, 0)" for a repeat.
func (s *Score) Add(absolute, diff int64) {
	s.Absolute += absolute
	s.Diff += diff
}

// Norm is spec section 3's weighted-novelty norm: sqrt((abs^2 + 9*diff^2)/10),
// rounded up, weighting novelty roughly 3x over repetition.
func (s Score) Norm() int64 {
	v := math.Sqrt((float64(s.Absolute)*float64(s.Absolute) + 9*float64(s.Diff)*float64(s.Diff)) / 10)
	return int64(math.Ceil(v))
}
