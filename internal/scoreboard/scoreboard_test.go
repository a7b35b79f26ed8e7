package scoreboard

import (
	"strings"
	"testing"

	"sentra-fuzz/internal/model"
	"sentra-fuzz/internal/trace"
)

func openTestStore(t *testing.T) *model.Store {
	t.Helper()
	s, err := model.Open(t.TempDir() + "/model.bin")
	if err != nil {
		t.Fatalf("model.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// twoBlockFunction builds a function with blocks 0 and 1, block 1
// carrying a pass_through goal summary -- the minimal fixture for E1
// (edge coverage only) and E2 (goal hit) from spec section 8.
func twoBlockFunction(t *testing.T, s *model.Store) model.ID {
	t.Helper()
	srcID, err := s.AddSource("target.c")
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	fnID := s.NextID()
	if err := s.AddFunction(model.Function{ID: fnID, Parent: srcID, Name: "parse"}); err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	if err := s.AddBlock(model.Block{ID: s.NextID(), Parent: fnID, InternalBlockNumber: 0}); err != nil {
		t.Fatalf("AddBlock 0: %v", err)
	}
	block1ID := s.NextID()
	if err := s.AddBlock(model.Block{ID: block1ID, Parent: fnID, InternalBlockNumber: 1}); err != nil {
		t.Fatalf("AddBlock 1: %v", err)
	}
	if err := s.AddSummary(model.Summary{ID: s.NextID(), Parent: block1ID, OperatorKind: model.OpPassThrough, TypeKind: model.TypeInteger}); err != nil {
		t.Fatalf("AddSummary: %v", err)
	}
	return fnID
}

func TestMinimalEdgeCoverage(t *testing.T) {
	s := openTestStore(t)
	fnID := twoBlockFunction(t, s)
	sb := New(s)

	records := []trace.Record{
		{Kind: trace.KindEnterFunction, FunctionID: uint32(fnID)},
		{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1},
		{Kind: trace.KindTerminated},
	}
	for _, r := range records {
		if err := sb.Integrate(1, r); err != nil {
			t.Fatalf("Integrate: %v", err)
		}
	}

	edge, goal := sb.Scores(1)
	if edge.Absolute < 3 || edge.Diff < 2 {
		t.Fatalf("edge score = %+v, want absolute>=3 diff>=2", edge)
	}
	if goal.Absolute != 10 || goal.Diff != 10 {
		t.Fatalf("goal score = %+v, want first-hit pass_through 10/10", goal)
	}
}

func TestGoalHitOnlyCountsOnceForDiff(t *testing.T) {
	s := openTestStore(t)
	fnID := twoBlockFunction(t, s)
	sb := New(s)

	first := []trace.Record{
		{Kind: trace.KindEnterFunction, FunctionID: uint32(fnID)},
		{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1},
		{Kind: trace.KindTerminated},
	}
	for _, r := range first {
		if err := sb.Integrate(1, r); err != nil {
			t.Fatalf("Integrate tc1: %v", err)
		}
	}
	_, goal1 := sb.Scores(1)
	if goal1.Absolute != 10 || goal1.Diff != 10 {
		t.Fatalf("first dispatch goal = %+v, want 10/10", goal1)
	}

	second := []trace.Record{
		{Kind: trace.KindEnterFunction, FunctionID: uint32(fnID)},
		{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1},
		{Kind: trace.KindTerminated},
	}
	for _, r := range second {
		if err := sb.Integrate(2, r); err != nil {
			t.Fatalf("Integrate tc2: %v", err)
		}
	}
	_, goal2 := sb.Scores(2)
	if goal2.Absolute != 10 || goal2.Diff != 0 {
		t.Fatalf("second dispatch goal = %+v, want absolute=10 diff=0 (goal already covered)", goal2)
	}
}

func TestDuplicateRecordIsAbsoluteOnlyNotDiff(t *testing.T) {
	s := openTestStore(t)
	fnID := twoBlockFunction(t, s)
	sb := New(s)

	branch := trace.Record{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1}
	if err := sb.Integrate(1, branch); err != nil {
		t.Fatalf("Integrate first: %v", err)
	}
	edgeAfterFirst, _ := sb.Scores(1)

	if err := sb.Integrate(1, branch); err != nil {
		t.Fatalf("Integrate duplicate: %v", err)
	}
	edgeAfterSecond, _ := sb.Scores(1)

	if edgeAfterSecond.Absolute <= edgeAfterFirst.Absolute {
		t.Fatalf("duplicate record did not add to absolute: %+v -> %+v", edgeAfterFirst, edgeAfterSecond)
	}
	if edgeAfterSecond.Diff != edgeAfterFirst.Diff {
		t.Fatalf("duplicate record changed diff: %+v -> %+v", edgeAfterFirst, edgeAfterSecond)
	}
}

func TestCoveredGoalsAndEdgesGrowMonotonically(t *testing.T) {
	s := openTestStore(t)
	fnID := twoBlockFunction(t, s)
	sb := New(s)

	if sb.CoveredGoalCount() != 0 || sb.ReachedFunctionCount() != 0 {
		t.Fatalf("fresh scoreboard should start empty")
	}

	if err := sb.Integrate(1, trace.Record{Kind: trace.KindEnterFunction, FunctionID: uint32(fnID)}); err != nil {
		t.Fatalf("Integrate enter_function: %v", err)
	}
	if sb.ReachedFunctionCount() != 1 {
		t.Fatalf("ReachedFunctionCount = %d, want 1", sb.ReachedFunctionCount())
	}

	if err := sb.Integrate(1, trace.Record{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1}); err != nil {
		t.Fatalf("Integrate true_branch: %v", err)
	}
	if sb.CoveredGoalCount() != 1 {
		t.Fatalf("CoveredGoalCount = %d, want 1", sb.CoveredGoalCount())
	}

	// Re-dispatching the same branch must never shrink either set.
	if err := sb.Integrate(2, trace.Record{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1}); err != nil {
		t.Fatalf("Integrate true_branch again: %v", err)
	}
	if sb.CoveredGoalCount() != 1 || sb.ReachedFunctionCount() != 1 {
		t.Fatalf("sets shrank or grew unexpectedly: goals=%d functions=%d", sb.CoveredGoalCount(), sb.ReachedFunctionCount())
	}
}

func TestEvaluateDoesNotMutateSharedState(t *testing.T) {
	s := openTestStore(t)
	fnID := twoBlockFunction(t, s)
	sb := New(s)

	if err := sb.Integrate(1, trace.Record{Kind: trace.KindEnterFunction, FunctionID: uint32(fnID)}); err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	before := sb.ReachedFunctionCount()
	beforeGoals := sb.CoveredGoalCount()

	records := []trace.Record{
		{Kind: trace.KindEnterFunction, FunctionID: uint32(fnID)},
		{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1},
	}
	edge, goal := sb.Evaluate(records)
	if edge.Absolute == 0 || goal.Absolute == 0 {
		t.Fatalf("Evaluate returned zero scores for a covering trace: edge=%+v goal=%+v", edge, goal)
	}

	if sb.ReachedFunctionCount() != before || sb.CoveredGoalCount() != beforeGoals {
		t.Fatalf("Evaluate mutated shared state: functions %d->%d, goals %d->%d",
			before, sb.ReachedFunctionCount(), beforeGoals, sb.CoveredGoalCount())
	}
}

// TestBlindModeScoresGoalsWithoutAModel exercises a scoreboard backed by
// model.OpenBlind(): no function/block/summary has ever been recorded,
// yet a true_branch record still produces a goal score in [1,10], and a
// repeat dispatch of the same edge still only counts once toward Diff.
func TestBlindModeScoresGoalsWithoutAModel(t *testing.T) {
	s := model.OpenBlind()
	sb := New(s)

	branch := trace.Record{Kind: trace.KindTrueBranch, FunctionID: 3, PredecessorBlockNum: 0, CurrentBlockNum: 1}
	if err := sb.Integrate(1, branch); err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	_, goal1 := sb.Scores(1)
	if goal1.Absolute < 1 || goal1.Absolute > 10 || goal1.Diff != goal1.Absolute {
		t.Fatalf("first blind goal score = %+v, want absolute in [1,10] and diff==absolute", goal1)
	}

	if err := sb.Integrate(2, branch); err != nil {
		t.Fatalf("Integrate again: %v", err)
	}
	_, goal2 := sb.Scores(2)
	if goal2.Diff != 0 {
		t.Fatalf("repeat blind goal score = %+v, want diff=0 for an already-covered goal", goal2)
	}
	if goal2.Absolute != goal1.Absolute {
		t.Fatalf("blind goal weight changed between dispatches: %d -> %d", goal1.Absolute, goal2.Absolute)
	}
}

func TestResetScoresRestoresFirstHitSemantics(t *testing.T) {
	s := openTestStore(t)
	fnID := twoBlockFunction(t, s)
	sb := New(s)

	records := []trace.Record{
		{Kind: trace.KindEnterFunction, FunctionID: uint32(fnID)},
		{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1},
	}
	for _, r := range records {
		if err := sb.Integrate(1, r); err != nil {
			t.Fatalf("Integrate: %v", err)
		}
	}
	if sb.CoveredGoalCount() != 1 || sb.ReachedFunctionCount() != 1 {
		t.Fatalf("expected one covered goal and one reached function before reset")
	}

	sb.ResetScores()
	if sb.CoveredGoalCount() != 0 {
		t.Fatalf("CoveredGoalCount after ResetScores = %d, want 0", sb.CoveredGoalCount())
	}

	for _, r := range records {
		if err := sb.Integrate(2, r); err != nil {
			t.Fatalf("Integrate after reset: %v", err)
		}
	}
	_, goal := sb.Scores(2)
	if goal.Absolute != 10 || goal.Diff != 10 {
		t.Fatalf("goal score after reset = %+v, want first-hit 10/10 again", goal)
	}
	if sb.CoveredGoalCount() != 1 {
		t.Fatalf("CoveredGoalCount after re-integrating = %d, want 1", sb.CoveredGoalCount())
	}
}

func TestToDOTWritesCoveredEdges(t *testing.T) {
	s := openTestStore(t)
	fnID := twoBlockFunction(t, s)
	sb := New(s)

	records := []trace.Record{
		{Kind: trace.KindEnterFunction, FunctionID: uint32(fnID)},
		{Kind: trace.KindTrueBranch, FunctionID: uint32(fnID), PredecessorBlockNum: 0, CurrentBlockNum: 1},
	}
	for _, r := range records {
		if err := sb.Integrate(1, r); err != nil {
			t.Fatalf("Integrate: %v", err)
		}
	}

	var buf strings.Builder
	if err := sb.ToDOT(&buf); err != nil {
		t.Fatalf("ToDOT: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "digraph coverage {") {
		t.Fatalf("ToDOT output missing digraph header: %q", out)
	}
	if !strings.Contains(out, "->") {
		t.Fatalf("ToDOT output has no edges: %q", out)
	}
}
