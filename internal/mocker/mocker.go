// Package mocker generates plausible-looking trace records without a
// compiled, instrumented target to execute -- grounded on
// fuzzer/mocker.h's Mocker::generate_random_trace, "a small utility to
// generate traces that could look like real traces, mostly used to
// test the GA." Exercised by --mock runs (§8a), which skip the
// orchestrator/trace-drainer entirely and integrate these records
// straight into the scoreboard.
package mocker

import "sentra-fuzz/internal/trace"

// Bounds mirror mocker.cpp's #define constants verbatim.
const (
	maxNumberBlocks    = 12
	maxNumberCalls     = 50
	maxNumberFunctions = 10
	maxNumberEdges     = 100
	absoluteMinAll     = 10

	mockThreadID = 0x4141
)

// intn is the subset of *rand.Rand the generator needs, so callers can
// pass a shared, seeded source without this package importing
// math/rand's concrete type into its exported surface.
type intn interface {
	Intn(n int) int
}

// Generator produces random-but-structurally-valid traces.
type Generator struct {
	rng intn
}

// New returns a Generator drawing from rng.
func New(rng intn) *Generator {
	return &Generator{rng: rng}
}

// GenerateRandomTrace builds one mocked execution: a random number of
// function calls, each entering, wandering through a random number of
// block-to-block edges, then exiting. testcaseID is not recorded on
// the records themselves -- the drainer's bucket key plays that role
// (spec section 3) -- it is accepted here only so callers integrating
// straight into the scoreboard have the id at the same call site that
// generates the trace.
func (g *Generator) GenerateRandomTrace(testcaseID uint64) []trace.Record {
	_ = testcaseID

	numFunctions := g.rng.Intn(maxNumberFunctions) + absoluteMinAll
	numCalls := g.rng.Intn(maxNumberCalls) + absoluteMinAll

	var out []trace.Record
	for c := 0; c < numCalls; c++ {
		funcID := uint32(g.rng.Intn(numFunctions))
		out = append(out, trace.Record{Kind: trace.KindEnterFunction, ThreadID: mockThreadID, FunctionID: funcID})

		numEdges := g.rng.Intn(maxNumberEdges)
		var predBlock, curBlock uint32
		for b := 0; b < numEdges; b++ {
			curBlock = uint32(g.rng.Intn(maxNumberBlocks))
			out = append(out, trace.Record{
				Kind:                trace.KindTrueBranch,
				ThreadID:            mockThreadID,
				FunctionID:          funcID,
				PredecessorBlockNum: predBlock,
				CurrentBlockNum:     curBlock,
			})
			predBlock = curBlock
		}
		out = append(out, trace.Record{Kind: trace.KindExitFunction, ThreadID: mockThreadID, FunctionID: funcID})
	}
	return out
}
