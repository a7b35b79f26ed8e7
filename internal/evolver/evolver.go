// Package evolver implements the generational step of spec section
// 4.9: score retention into the best-set, mating, crossover,
// mutation, population top-up, and stagnation-triggered global
// perturbation.
package evolver

import (
	"math/rand"

	"sentra-fuzz/internal/arena"
	"sentra-fuzz/internal/fitness"
	"sentra-fuzz/internal/genetic"
	"sentra-fuzz/internal/population"
	"sentra-fuzz/internal/scoreboard"
)

// Evolver owns the generational loop's mutable state: generation and
// stagnation counters, RNG, and references to the arena/scoreboard/
// population it evolves.
type Evolver struct {
	Arena      *arena.Arena
	Scoreboard *scoreboard.Scoreboard
	Population *population.Population
	RNG        *rand.Rand

	PopulationMin  int
	PopulationMax  int
	MaxStagnation  int
	SlowStrategies bool

	Generation int
	Stagnation int
}

// New constructs an Evolver over the given components.
func New(a *arena.Arena, sb *scoreboard.Scoreboard, pop *population.Population, rng *rand.Rand, popMin, popMax, maxStagnation int, slowStrategies bool) *Evolver {
	return &Evolver{
		Arena:          a,
		Scoreboard:     sb,
		Population:     pop,
		RNG:            rng,
		PopulationMin:  popMin,
		PopulationMax:  popMax,
		MaxStagnation:  maxStagnation,
		SlowStrategies: slowStrategies,
	}
}

// Step runs one generation, per spec 4.9's eleven steps.
func (e *Evolver) Step() {
	e.Generation++
	e.Stagnation++

	measures := e.scoreCurrentGeneration()
	e.retainIntoBestSet(measures)

	if e.Stagnation > e.MaxStagnation {
		e.Stagnation = 0
		e.globalPerturbation(len(e.Population.Individuals))
		e.cleanArena()
		return
	}

	children := e.breedGeneration(measures)
	children = e.topUp(children, measures)
	children = e.maybeInjectFromBestSet(children, measures)

	e.Population.Replace(children)
	e.cleanArena()
}

// scoreCurrentGeneration implements steps 2-3: pull each individual's
// accumulated score and compute its Measure. Zero-norm scores are
// omitted per spec, which in practice means they simply don't inflate
// the weighted norm (a zero Score's Norm() is already 0).
func (e *Evolver) scoreCurrentGeneration() map[int]fitness.Measure {
	measures := make(map[int]fitness.Measure, len(e.Population.Individuals))
	for i, ind := range e.Population.Individuals {
		edge, goal := e.Scoreboard.Scores(ind.TestcaseID)
		length := e.Arena.Len(ind.Slot)
		measures[i] = fitness.New(edge, goal, length)
	}
	return measures
}

// retainIntoBestSet implements step 4: attempt best-set insertion for
// every individual, clearing stagnation on any new overall maximum.
func (e *Evolver) retainIntoBestSet(measures map[int]fitness.Measure) {
	for i, m := range measures {
		ind := e.Population.Individuals[i]
		_, isNewMax := e.Population.Best.Insert(m, ind, e.Arena.Bytes(ind.Slot))
		if isNewMax {
			e.Stagnation = 0
		}
	}
}

// breedGeneration implements steps 6-7: pick a mating strategy and a
// crossover for the whole generation, produce one child per pair, and
// apply a mutation to each with 80% probability.
func (e *Evolver) breedGeneration(measures map[int]fitness.Measure) []population.Individual {
	strategy := genetic.MatingStrategyKind(e.RNG.Intn(e.numMatingStrategies()))
	crossover := genetic.CrossoverKind(e.RNG.Intn(e.numCrossoverKinds()))

	buffers := make(map[int][]byte, len(e.Population.Individuals))
	for i, ind := range e.Population.Individuals {
		buffers[i] = e.Arena.Bytes(ind.Slot)
	}

	pairs := genetic.Mate(e.RNG, strategy, measures, buffers)

	children := make([]population.Individual, 0, len(pairs))
	for _, pair := range pairs {
		a := e.Arena.Bytes(e.Population.Individuals[pair.A].Slot)
		b := e.Arena.Bytes(e.Population.Individuals[pair.B].Slot)
		child := genetic.Crossover(e.RNG, crossover, a, b)
		if e.RNG.Intn(100) < 80 {
			child = genetic.MutateNonEmpty(e.RNG, child)
		}
		if len(child) == 0 {
			child = genetic.MutateNonEmpty(e.RNG, a)
		}
		children = append(children, population.Individual{Slot: e.Arena.Create(child)})
	}
	return children
}

// topUp implements step 8: if the bred generation falls short of the
// minimum population size, mutate this generation's best performers
// until the minimum is met.
func (e *Evolver) topUp(children []population.Individual, measures map[int]fitness.Measure) []population.Individual {
	if len(children) >= e.PopulationMin {
		return children
	}
	best := e.bestPerformers(measures, e.PopulationMin)
	for len(children) < e.PopulationMin {
		if len(best) == 0 {
			break
		}
		donor := best[e.RNG.Intn(len(best))]
		mutated := genetic.MutateNonEmpty(e.RNG, e.Arena.Bytes(donor.Slot))
		children = append(children, population.Individual{Slot: e.Arena.Create(mutated)})
	}
	return children
}

// maybeInjectFromBestSet implements step 9: with 50% probability,
// inject rand(deviation)+1 individuals mutated from the global
// best-set, falling back to this generation's best performers if the
// best-set has too few members.
func (e *Evolver) maybeInjectFromBestSet(children []population.Individual, measures map[int]fitness.Measure) []population.Individual {
	const deviation = 8
	if e.RNG.Intn(2) != 0 {
		return children
	}
	n := 1 + e.RNG.Intn(deviation)
	donors := e.Population.Best.GetBest(n)
	if len(donors) < n {
		donors = append(donors, e.bestPerformers(measures, n-len(donors))...)
	}
	for _, donor := range donors {
		mutated := genetic.MutateNonEmpty(e.RNG, e.Arena.Bytes(donor.Slot))
		children = append(children, population.Individual{Slot: e.Arena.Create(mutated)})
	}
	return children
}

// bestPerformers ranks this generation's individuals by Measure
// descending and returns up to n of the best.
func (e *Evolver) bestPerformers(measures map[int]fitness.Measure, n int) []population.Individual {
	type scored struct {
		ind population.Individual
		m   fitness.Measure
	}
	scoredAll := make([]scored, 0, len(measures))
	for i, m := range measures {
		scoredAll = append(scoredAll, scored{ind: e.Population.Individuals[i], m: m})
	}
	for i := 1; i < len(scoredAll); i++ {
		for j := i; j > 0 && fitness.Less(scoredAll[j-1].m, scoredAll[j].m); j-- {
			scoredAll[j-1], scoredAll[j] = scoredAll[j], scoredAll[j-1]
		}
	}
	if n > len(scoredAll) {
		n = len(scoredAll)
	}
	out := make([]population.Individual, n)
	for i := 0; i < n; i++ {
		out[i] = scoredAll[i].ind
	}
	return out
}

// globalPerturbation implements spec 4.9's stagnation response: seed
// from half the best-set plus half the original seeds, mutate each,
// then crossover random distinct pairs (each followed by a mutation)
// until back up to the previous population size.
func (e *Evolver) globalPerturbation(previousSize int) {
	half := previousSize / 2
	bestHalf := e.Population.Best.GetBest(half)
	seedHalf := e.randomSeeds(previousSize - half)

	seed := make([]population.Individual, 0, len(bestHalf)+len(seedHalf))
	seed = append(seed, bestHalf...)
	seed = append(seed, seedHalf...)

	next := make([]population.Individual, 0, previousSize)
	for _, ind := range seed {
		mutated := genetic.MutateNonEmpty(e.RNG, e.Arena.Bytes(ind.Slot))
		next = append(next, population.Individual{Slot: e.Arena.Create(mutated)})
	}

	for len(next) < previousSize && len(next) >= 2 {
		crossover := genetic.CrossoverKind(e.RNG.Intn(e.numCrossoverKinds()))
		i := e.RNG.Intn(len(next))
		j := e.RNG.Intn(len(next) - 1)
		if j >= i {
			j++
		}
		a := e.Arena.Bytes(next[i].Slot)
		b := e.Arena.Bytes(next[j].Slot)
		child := genetic.Crossover(e.RNG, crossover, a, b)
		child = genetic.MutateNonEmpty(e.RNG, child)
		next = append(next, population.Individual{Slot: e.Arena.Create(child)})
	}

	e.Population.Replace(next)
}

func (e *Evolver) randomSeeds(n int) []population.Individual {
	out := make([]population.Individual, 0, n)
	seeds := e.Population.Seeds
	for i := 0; i < n && len(seeds) > 0; i++ {
		out = append(out, seeds[e.RNG.Intn(len(seeds))])
	}
	return out
}

// cleanArena implements step 11: free every slot not referenced by a
// seed, the current population, or the best-set.
func (e *Evolver) cleanArena() {
	active := make(map[arena.Index]bool)
	for _, ind := range e.Population.Seeds {
		active[ind.Slot] = true
	}
	for _, ind := range e.Population.Individuals {
		active[ind.Slot] = true
	}
	for _, ind := range e.Population.Best.GetBest(e.Population.Best.Len()) {
		active[ind.Slot] = true
	}
	e.Arena.ForceClean(active)
}

func (e *Evolver) numMatingStrategies() int {
	if e.SlowStrategies {
		return 3
	}
	return 2 // elitism, uniform -- closeness is gated behind slow-strategies
}

func (e *Evolver) numCrossoverKinds() int {
	if e.SlowStrategies {
		return 4
	}
	return 3 // single_point, n_points, uniform -- alignment is gated behind slow-strategies
}
