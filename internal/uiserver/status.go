package uiserver

import (
	"sort"

	"sentra-fuzz/internal/crashpipeline"
	"sentra-fuzz/internal/orchestrator"
)

// Status is one generation's worth of observable state, broadcast
// verbatim as JSON. Nothing here feeds back into Measure or any
// scoring decision; it exists purely for the embedded UI's benefit.
type Status struct {
	Generation     int                    `json:"generation"`
	Stagnation     int                    `json:"stagnation"`
	PopulationSize int                    `json:"population_size"`
	BestSetSize    int                    `json:"best_set_size"`
	BestEdgeNorm   int64                  `json:"best_edge_norm"`
	BestGoalNorm   int64                  `json:"best_goal_norm"`
	Processes      []orchestrator.Snapshot `json:"processes"`
	CrashKinds     []CrashKindCount       `json:"crash_kinds"`
}

// CrashKindCount pairs a crash fingerprint with its archived count,
// sorted for deterministic frame contents.
type CrashKindCount struct {
	Fingerprint string `json:"fingerprint"`
	Count       int    `json:"count"`
}

// CrashKindsFrom converts a crashpipeline snapshot into a
// deterministically ordered slice suitable for Status.CrashKinds.
func CrashKindsFrom(counts map[crashpipeline.Fingerprint]int) []CrashKindCount {
	out := make([]CrashKindCount, 0, len(counts))
	for fp, n := range counts {
		out = append(out, CrashKindCount{Fingerprint: fp.String(), Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}
