package classifier

import (
	"testing"

	"sentra-fuzz/internal/model"
)

func findSummary(t *testing.T, got map[uint32][]Summary, block uint32, op model.OperatorKind, typ model.TypeKind) {
	t.Helper()
	for _, s := range got[block] {
		if s.Operator == op && s.Type == typ {
			return
		}
	}
	t.Fatalf("block %d: expected (%s, %s) in %v", block, op, typ, got[block])
}

// spec 4.1 rule 2: a call expression using a reference yields
// pass_through regardless of position -- grounds E2.
func TestCallYieldsPassThrough(t *testing.T) {
	ref := &VarRef{Name: "buf", Kind: VarBuffer}
	call := &Call{Callee: &VarRef{Name: "memcpy"}, Args: []Expr{ref}}
	fn := &Function{
		Name:   "f",
		Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: call}}}},
	}

	got := Classify(fn)
	findSummary(t, got, 0, model.OpPassThrough, model.TypeBuffer)
}

// spec section 8 boundary: array-subscript of the base variable
// yields integer_may_overflow for integer type and buffer_unknown for
// buffer type.
func TestArraySubscriptBase(t *testing.T) {
	intRef := &VarRef{Name: "i", Kind: VarInteger}
	idxOnInt := &Index{Base: intRef, Idx: &Literal{Value: 0}}
	fnInt := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: idxOnInt}}}}}
	findSummary(t, Classify(fnInt), 0, model.OpIntegerMayOverflow, model.TypeInteger)

	bufRef := &VarRef{Name: "arr", Kind: VarBuffer}
	idxOnBuf := &Index{Base: bufRef, Idx: &Literal{Value: 0}}
	fnBuf := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: idxOnBuf}}}}}
	findSummary(t, Classify(fnBuf), 0, model.OpBufferUnknown, model.TypeBuffer)
}

func TestExplicitCastKinds(t *testing.T) {
	ref := &VarRef{Name: "p", Kind: VarBuffer}
	unsafeCast := &Cast{Kind: CastUnsafe, Operand: ref}
	fn := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: unsafeCast}}}}}
	findSummary(t, Classify(fn), 0, model.OpCastUnsafe, model.TypeBuffer)

	ref2 := &VarRef{Name: "p2", Kind: VarInteger}
	otherCast := &Cast{Kind: CastUnknown, Operand: ref2}
	fn2 := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: otherCast}}}}}
	findSummary(t, Classify(fn2), 0, model.OpCastUnknown, model.TypeInteger)
}

func TestCompoundAssignmentOnLeftIsUnknown(t *testing.T) {
	ref := &VarRef{Name: "x", Kind: VarInteger}
	bin := &Binary{CompoundAssign: true, Left: ref, Right: &Literal{Value: 1}}
	fn := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: bin}}}}}
	findSummary(t, Classify(fn), 0, model.OpIntegerUnknown, model.TypeInteger)
}

func TestTransparentParenAndImplicitCast(t *testing.T) {
	ref := &VarRef{Name: "x", Kind: VarBuffer}
	wrapped := &Call{Callee: &VarRef{Name: "use"}, Args: []Expr{
		&ImplicitCast{Operand: &Paren{Operand: ref}},
	}}
	fn := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: wrapped}}}}}
	findSummary(t, Classify(fn), 0, model.OpPassThrough, model.TypeBuffer)
}

func TestUnshippableFunctionSkipped(t *testing.T) {
	ref := &VarRef{Name: "x", Kind: VarInteger}
	call := &Call{Callee: &VarRef{Name: "f"}, Args: []Expr{ref}}
	fn := &Function{Inline: true, Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: call}}}}}
	got := Classify(fn)
	if len(got) != 0 {
		t.Fatalf("expected no summaries for an inline (skipped) function, got %v", got)
	}
}

// spec 4.1 rule 2: ascend through every enclosing expression, not just
// the first one met -- foo(a + 1) must classify as pass_through from
// the enclosing Call, not integer_unknown from the inner Binary.
func TestAscendsPastBinaryToEnclosingCall(t *testing.T) {
	ref := &VarRef{Name: "a", Kind: VarInteger}
	bin := &Binary{Category: BinaryArithmeticOrShift, Left: ref, Right: &Literal{Value: 1}}
	call := &Call{Callee: &VarRef{Name: "foo"}, Args: []Expr{bin}}
	fn := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: call}}}}}

	got := Classify(fn)
	findSummary(t, got, 0, model.OpPassThrough, model.TypeInteger)
	for _, s := range got[0] {
		if s.Operator == model.OpIntegerUnknown {
			t.Fatalf("expected no integer_unknown summary once the Call encloses the Binary, got %v", got[0])
		}
	}
}

// spec 4.1 rule 2's binary "otherwise" case recurses into the sibling
// operand (the side that does not contain the reference), not past
// the whole binary node.
func TestBinaryOtherwiseRecursesIntoSiblingSide(t *testing.T) {
	ref := &VarRef{Name: "a", Kind: VarInteger}
	sibling := &Unary{Op: UnaryBitwiseNot, Operand: &VarRef{Name: "b", Kind: VarInteger}}
	cmp := &Binary{Category: BinaryLogicalOrCompare, Left: ref, Right: sibling}
	fn := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: cmp}}}}}

	got := Classify(fn)
	findSummary(t, got, 0, model.OpIntegerUnknown, model.TypeInteger)
}

func TestUnknownVarKindSkipsOnlyThatReference(t *testing.T) {
	known := &VarRef{Name: "a", Kind: VarInteger}
	unknown := &VarRef{Name: "b", Kind: VarUnknown}
	call := &Call{Callee: &VarRef{Name: "f"}, Args: []Expr{known, unknown}}
	fn := &Function{Blocks: []*Block{{Number: 0, Stmts: []Stmt{{Expr: call}}}}}
	got := Classify(fn)
	if len(got[0]) != 1 {
		t.Fatalf("expected exactly one summary (from the known ref), got %v", got[0])
	}
}
