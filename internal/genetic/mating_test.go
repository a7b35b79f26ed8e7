package genetic

import (
	"math/rand"
	"testing"

	"sentra-fuzz/internal/fitness"
	"sentra-fuzz/internal/scoreboard"
)

func measureWith(edgeAbs int64) fitness.Measure {
	e := scoreboard.Score{}
	e.Add(edgeAbs, edgeAbs)
	return fitness.New(e, scoreboard.Score{}, 1)
}

func TestElitismPairsBestWithNextBest(t *testing.T) {
	measures := map[int]fitness.Measure{
		0: measureWith(1),
		1: measureWith(10),
		2: measureWith(9),
		3: measureWith(2),
	}
	pairs := elitismPairing(measures)
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if pairs[0] != (Pair{1, 2}) {
		t.Fatalf("first pair = %+v, want the two best (1,2)", pairs[0])
	}
	if pairs[1] != (Pair{3, 0}) {
		t.Fatalf("second pair = %+v, want the remaining two (3,0)", pairs[1])
	}
}

func TestUniformPairingCoversEveryIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(20))
	measures := map[int]fitness.Measure{0: measureWith(1), 1: measureWith(2), 2: measureWith(3), 3: measureWith(4)}
	pairs := uniformPairing(rng, measures)
	seen := map[int]bool{}
	for _, p := range pairs {
		seen[p.A] = true
		seen[p.B] = true
	}
	if len(seen) != len(measures) {
		t.Fatalf("uniform pairing covered %d of %d indices", len(seen), len(measures))
	}
}

func TestClosenessPairsIdenticalBuffersFirst(t *testing.T) {
	measures := map[int]fitness.Measure{0: measureWith(1), 1: measureWith(1), 2: measureWith(1), 3: measureWith(1)}
	buffers := map[int][]byte{
		0: []byte("aaaa"),
		1: []byte("zzzz"),
		2: []byte("aaaa"),
		3: []byte("qqqq"),
	}
	pairs := closenessPairing(measures, buffers)
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	foundIdenticalPair := false
	for _, p := range pairs {
		if (p.A == 0 && p.B == 2) || (p.A == 2 && p.B == 0) {
			foundIdenticalPair = true
		}
	}
	if !foundIdenticalPair {
		t.Fatalf("closeness pairing did not prioritize the identical buffers: %+v", pairs)
	}
}

func TestAlignmentScoreHigherForMoreSimilarBuffers(t *testing.T) {
	identical := alignmentScore([]byte("aaaa"), []byte("aaaa"))
	different := alignmentScore([]byte("aaaa"), []byte("zzzz"))
	if identical <= different {
		t.Fatalf("identical score %d should exceed different score %d", identical, different)
	}
}
