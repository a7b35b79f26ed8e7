package mocker

import (
	"math/rand"
	"testing"

	"sentra-fuzz/internal/trace"
)

func TestGenerateRandomTraceShapesCallsWithEnterAndExit(t *testing.T) {
	g := New(rand.New(rand.NewSource(1)))
	records := g.GenerateRandomTrace(7)

	if len(records) == 0 {
		t.Fatalf("expected a non-empty trace")
	}

	var open int
	for _, r := range records {
		switch r.Kind {
		case trace.KindEnterFunction:
			if open != 0 {
				t.Fatalf("nested enter_function with no matching exit")
			}
			open++
		case trace.KindExitFunction:
			if open != 1 {
				t.Fatalf("exit_function with no matching enter")
			}
			open--
		case trace.KindTrueBranch:
			if open != 1 {
				t.Fatalf("true_branch record outside an entered function")
			}
		default:
			t.Fatalf("unexpected record kind %v", r.Kind)
		}
	}
	if open != 0 {
		t.Fatalf("trace ended mid-function")
	}
}

func TestGenerateRandomTraceFunctionIDsWithinBounds(t *testing.T) {
	g := New(rand.New(rand.NewSource(2)))
	records := g.GenerateRandomTrace(1)
	for _, r := range records {
		if r.Kind == trace.KindEnterFunction && r.FunctionID >= uint32(maxNumberFunctions+absoluteMinAll) {
			t.Fatalf("function id %d exceeds the maximum possible function count", r.FunctionID)
		}
	}
}
