package population

import (
	"math/rand"
	"testing"

	"github.com/kr/pretty"

	"sentra-fuzz/internal/arena"
	"sentra-fuzz/internal/fitness"
	"sentra-fuzz/internal/scoreboard"
)

func measure(edgeAbs int64) fitness.Measure {
	e := scoreboard.Score{}
	e.Add(edgeAbs, edgeAbs)
	return fitness.New(e, scoreboard.Score{}, 1)
}

func TestInjectSeedsGrowsPopulationFromSeeds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := arena.New()
	seeds := []Individual{{Slot: a.Create([]byte("a"))}, {Slot: a.Create([]byte("b"))}, {Slot: a.Create([]byte("c"))}}
	p := New(seeds)
	before := len(p.Individuals)
	p.InjectSeeds(rng, a, 5)
	if len(p.Individuals) != before+5 {
		t.Fatalf("population size = %d, want %d", len(p.Individuals), before+5)
	}
}

func TestInjectSeedsSharesSlotByRefcount(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	a := arena.New()
	seeds := []Individual{{Slot: a.Create([]byte("only"))}}
	p := New(seeds)
	p.InjectSeeds(rng, a, 3)
	if got, want := a.Refcount(seeds[0].Slot), int64(4); got != want {
		t.Fatalf("refcount after injecting 3 aliases of the sole seed = %d, want %d", got, want)
	}
	for _, ind := range p.Individuals {
		if ind.Slot != seeds[0].Slot {
			t.Fatalf("injected individual aliases slot %d, want the seed's slot %d", ind.Slot, seeds[0].Slot)
		}
	}
}

func TestDropRemovesRequestedCount(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := arena.New()
	p := New([]Individual{{Slot: a.Create([]byte("a"))}, {Slot: a.Create([]byte("b"))}, {Slot: a.Create([]byte("c"))}, {Slot: a.Create([]byte("d"))}})
	p.Drop(rng, a, 2)
	if len(p.Individuals) != 2 {
		t.Fatalf("population size after drop = %d, want 2", len(p.Individuals))
	}
}

func TestDropNeverGoesNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := arena.New()
	p := New([]Individual{{Slot: a.Create([]byte("only"))}})
	p.Drop(rng, a, 10)
	if len(p.Individuals) != 0 {
		t.Fatalf("population size = %d, want 0", len(p.Individuals))
	}
}

func TestBestSetRejectsDuplicateContentHash(t *testing.T) {
	bs := NewBestSet()
	inserted, _ := bs.Insert(measure(1), Individual{Slot: 1}, []byte("payload"))
	if !inserted {
		t.Fatalf("first insert should succeed")
	}
	inserted, _ = bs.Insert(measure(2), Individual{Slot: 2}, []byte("payload"))
	if inserted {
		t.Fatalf("duplicate content hash must be rejected")
	}
	if bs.Len() != 1 {
		t.Fatalf("best-set size = %d, want 1", bs.Len())
	}
}

func TestBestSetReportsNewMaximum(t *testing.T) {
	bs := NewBestSet()
	_, isMax1 := bs.Insert(measure(5), Individual{Slot: 1}, []byte("a"))
	if !isMax1 {
		t.Fatalf("first insertion must be a new max")
	}
	_, isMax2 := bs.Insert(measure(1), Individual{Slot: 2}, []byte("b"))
	if isMax2 {
		t.Fatalf("inserting a lower measure must not report a new max")
	}
	_, isMax3 := bs.Insert(measure(9), Individual{Slot: 3}, []byte("c"))
	if !isMax3 {
		t.Fatalf("inserting a strictly higher measure must report a new max")
	}
}

func TestBestSetCapAndEviction(t *testing.T) {
	bs := NewBestSet()
	for i := 0; i < bestSetCapacity; i++ {
		bs.Insert(measure(int64(i)), Individual{Slot: arena.Index(i)}, []byte{byte(i), byte(i >> 8)})
	}
	if bs.Len() != bestSetCapacity {
		t.Fatalf("best-set size = %d, want %d", bs.Len(), bestSetCapacity)
	}

	// A new, strictly better member must evict the current worst.
	inserted, _ := bs.Insert(measure(int64(bestSetCapacity+100)), Individual{Slot: 99999}, []byte("brand-new"))
	if !inserted {
		t.Fatalf("better-than-worst insertion should succeed once full")
	}
	if bs.Len() != bestSetCapacity {
		t.Fatalf("best-set size after eviction = %d, want %d", bs.Len(), bestSetCapacity)
	}

	// A member no better than the current minimum (measure(-1) has norm
	// 1, tying measure(1)) must be rejected outright.
	inserted, _ = bs.Insert(measure(-1), Individual{Slot: 100000}, []byte("too-weak"))
	if inserted {
		t.Fatalf("insertion no better than the current minimum must be rejected once full")
	}
}

func TestGetBestOrdersDescending(t *testing.T) {
	bs := NewBestSet()
	bs.Insert(measure(1), Individual{Slot: 1}, []byte("a"))
	bs.Insert(measure(9), Individual{Slot: 2}, []byte("b"))
	bs.Insert(measure(5), Individual{Slot: 3}, []byte("c"))

	best := bs.GetBest(2)
	if len(best) != 2 || best[0].Slot != 2 || best[1].Slot != 3 {
		t.Fatalf("GetBest(2) = %+v, want slots [2 3]", best)
	}
}

func TestGetBestEntriesMatchesGetBestPairedWithMeasure(t *testing.T) {
	bs := NewBestSet()
	bs.Insert(measure(1), Individual{Slot: 1}, []byte("a"))
	bs.Insert(measure(9), Individual{Slot: 2}, []byte("b"))
	bs.Insert(measure(5), Individual{Slot: 3}, []byte("c"))

	want := []Entry{
		{Measure: measure(9), Ind: Individual{Slot: 2}},
		{Measure: measure(5), Ind: Individual{Slot: 3}},
	}
	got := bs.GetBestEntries(2)
	if diff := pretty.Diff(want, got); len(diff) != 0 {
		t.Fatalf("GetBestEntries(2) diff: %v", diff)
	}
}

func TestSnapshotIsIndependentOfLiveSet(t *testing.T) {
	bs := NewBestSet()
	bs.Insert(measure(1), Individual{Slot: 1}, []byte("a"))
	bs.Snapshot()

	bs.Insert(measure(2), Individual{Slot: 2}, []byte("b"))

	snap := bs.SnapshotBest(10)
	if len(snap) != 1 {
		t.Fatalf("snapshot should still reflect pre-insert state, got %d members", len(snap))
	}
}
