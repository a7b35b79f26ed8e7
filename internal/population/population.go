package population

import (
	"math/rand"

	"sentra-fuzz/internal/arena"
)

// Population holds the immutable seed corpus and the current
// generation's individuals, plus the best-of-all-time set (spec 4.8).
type Population struct {
	Seeds       []Individual // immutable, loaded at startup
	Individuals []Individual // current generation
	Best        *BestSet
}

// New returns a population seeded with the given individuals; the
// current generation starts as a copy of the seed set.
func New(seeds []Individual) *Population {
	return &Population{
		Seeds:       append([]Individual(nil), seeds...),
		Individuals: append([]Individual(nil), seeds...),
		Best:        NewBestSet(),
	}
}

// InjectSeeds appends up to n randomly chosen seeds into the current
// generation (spec 4.8). Each injected individual shares its seed's
// arena slot rather than copying it, bumping the slot's refcount --
// the seed and every individual aliasing it now legitimately share
// ownership, per spec section 8's refcount(s) == |{i : i.slot==s}|
// invariant.
func (p *Population) InjectSeeds(rng *rand.Rand, a *arena.Arena, n int) {
	if len(p.Seeds) == 0 || n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		seed := p.Seeds[rng.Intn(len(p.Seeds))]
		p.Individuals = append(p.Individuals, Individual{
			Slot:       a.CloneShallow(seed.Slot),
			TestcaseID: seed.TestcaseID,
		})
	}
}

// Drop removes n random individuals from the current generation (spec
// 4.8), releasing each one's arena reference so a shared slot's
// refcount keeps matching the population that actually references it.
func (p *Population) Drop(rng *rand.Rand, a *arena.Arena, n int) {
	for i := 0; i < n && len(p.Individuals) > 0; i++ {
		victim := rng.Intn(len(p.Individuals))
		a.Decref(p.Individuals[victim].Slot)
		p.Individuals[victim] = p.Individuals[len(p.Individuals)-1]
		p.Individuals = p.Individuals[:len(p.Individuals)-1]
	}
}

// Replace swaps in the next generation's individuals wholesale (spec
// 4.9 step 10).
func (p *Population) Replace(next []Individual) {
	p.Individuals = next
}
