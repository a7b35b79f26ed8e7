package classifier

import "sentra-fuzz/internal/model"

// Summary is one classifier finding: an (operator, type) pair attached
// to a block, in first-emission order (spec 4.1: "multiple goals per
// block are preserved as an ordered list by first-emission order").
type Summary struct {
	Operator model.OperatorKind
	Type     model.TypeKind
}

// key identifies a (block, operator, type, enclosing-expression)
// tuple for the at-most-once set semantics of spec 4.1's ordering
// rule. The enclosing expression's identity stands in for "source
// location" -- the target AST carries no line/column info, by design
// (that belongs to the external compiler front-end).
type key struct {
	block    uint32
	operator model.OperatorKind
	typ      model.TypeKind
	site     Expr
}

// Classify walks every block of fn and returns, per block number, the
// ordered list of summaries the classifier attaches to it (spec 4.1).
// An unparseable/unknown variable kind skips just that reference;
// classification of the rest continues (spec 4.1's failure semantics).
func Classify(fn *Function) map[uint32][]Summary {
	out := make(map[uint32][]Summary)
	if !fn.Shippable() {
		return out
	}

	seen := make(map[key]bool)
	for _, blk := range fn.Blocks {
		var order []Summary
		for _, stmt := range blk.Stmts {
			parents := buildParents(stmt.Expr)
			forEachVarRef(stmt.Expr, func(ref *VarRef) {
				if ref.Kind == VarUnknown {
					return // skip: unparseable type
				}
				op, site, ok := classifyReference(ref, parents)
				if !ok {
					return
				}
				typ := typeKindOf(ref.Kind)
				if ref.Kind == VarStruct && op == model.OpCastUnsafe {
					typ = model.TypeBuffer // struct-pointer casts are recorded as buffer-typed
				}
				k := key{blk.Number, op, typ, site}
				if seen[k] {
					return
				}
				seen[k] = true
				order = append(order, Summary{Operator: op, Type: typ})
			})
		}
		if len(order) > 0 {
			out[blk.Number] = order
		}
	}
	return out
}

func typeKindOf(k VarKind) model.TypeKind {
	switch k {
	case VarInteger:
		return model.TypeInteger
	case VarBuffer:
		return model.TypeBuffer
	case VarStruct:
		return model.TypeStruct
	default:
		return model.TypeUnknown
	}
}

// buildParents walks the whole statement expression tree once and
// records each node's parent, per Design note 9's "parent-index table
// built once per function" (here, once per statement).
func buildParents(root Expr) map[Expr]Expr {
	parents := make(map[Expr]Expr)
	var walk func(node, parent Expr)
	walk = func(node, parent Expr) {
		if node == nil {
			return
		}
		if parent != nil {
			parents[node] = parent
		}
		switch n := node.(type) {
		case *Call:
			walk(n.Callee, node)
			for _, a := range n.Args {
				walk(a, node)
			}
		case *Cast:
			walk(n.Operand, node)
		case *ImplicitCast:
			walk(n.Operand, node)
		case *Paren:
			walk(n.Operand, node)
		case *Binary:
			walk(n.Left, node)
			walk(n.Right, node)
		case *Unary:
			walk(n.Operand, node)
		case *Index:
			walk(n.Base, node)
			walk(n.Idx, node)
		}
	}
	walk(root, nil)
	return parents
}

func forEachVarRef(root Expr, fn func(*VarRef)) {
	switch n := root.(type) {
	case *VarRef:
		fn(n)
	case *Call:
		forEachVarRef(n.Callee, fn)
		for _, a := range n.Args {
			forEachVarRef(a, fn)
		}
	case *Cast:
		forEachVarRef(n.Operand, fn)
	case *ImplicitCast:
		forEachVarRef(n.Operand, fn)
	case *Paren:
		forEachVarRef(n.Operand, fn)
	case *Binary:
		forEachVarRef(n.Left, fn)
		forEachVarRef(n.Right, fn)
	case *Unary:
		forEachVarRef(n.Operand, fn)
	case *Index:
		forEachVarRef(n.Base, fn)
		forEachVarRef(n.Idx, fn)
	}
}

// contains reports whether target appears anywhere inside node's
// subtree, used to tell which side of a binary/index a reference sits
// on.
func contains(node, target Expr) bool {
	if node == target {
		return true
	}
	switch n := node.(type) {
	case *Call:
		if contains(n.Callee, target) {
			return true
		}
		for _, a := range n.Args {
			if contains(a, target) {
				return true
			}
		}
	case *Cast:
		return contains(n.Operand, target)
	case *ImplicitCast:
		return contains(n.Operand, target)
	case *Paren:
		return contains(n.Operand, target)
	case *Binary:
		return contains(n.Left, target) || contains(n.Right, target)
	case *Unary:
		return contains(n.Operand, target)
	case *Index:
		return contains(n.Base, target) || contains(n.Idx, target)
	}
	return false
}

// classifyReference first ascends from ref to the largest enclosing
// expression -- walking through every Expr ancestor unconditionally,
// the way find_containing_expr's ParentMap walk stops only once it
// hits a non-Expr parent -- and only then classifies that single
// outermost node by kind, per spec 4.1 rule 2. A reference with no
// enclosing expression at all (a bare statement reference) falls
// through classifyNode's default case: no rule applies, so ok is
// false.
func classifyReference(ref *VarRef, parents map[Expr]Expr) (op model.OperatorKind, site Expr, ok bool) {
	top := Expr(ref)
	for {
		parent, hasParent := parents[top]
		if !hasParent {
			break
		}
		top = parent
	}
	return classifyNode(top, ref, ref.Kind == VarInteger, ref.Kind == VarBuffer)
}

// classifyNode classifies a single expression node by kind (spec 4.1
// rule 2). Transparent nodes -- implicit casts, parens, and a binary
// operator's "otherwise" case -- recurse one level instead of
// returning, mirroring classify_integer_use's unroll_expr and
// classify_any_binop's "inspect LHS or RHS" fallback.
func classifyNode(node, ref Expr, intType, bufType bool) (op model.OperatorKind, site Expr, ok bool) {
	switch n := node.(type) {
	case *Call:
		return model.OpPassThrough, n, true

	case *Cast:
		if n.Kind == CastUnsafe {
			return model.OpCastUnsafe, n, true
		}
		return model.OpCastUnknown, n, true

	case *ImplicitCast:
		return classifyNode(n.Operand, ref, intType, bufType)

	case *Paren:
		return classifyNode(n.Operand, ref, intType, bufType)

	case *Binary:
		refOnLeft := contains(n.Left, ref)
		if n.CompoundAssign && refOnLeft {
			return unknownOpFor(intType, bufType), n, true
		}
		if n.Category == BinaryArithmeticOrShift {
			return unknownOpFor(intType, bufType), n, true
		}
		// otherwise: recurse into the side that does *not* contain
		// the reference (spec 4.1 rule 2).
		other := n.Right
		if !refOnLeft {
			other = n.Left
		}
		return classifyNode(other, ref, intType, bufType)

	case *Unary:
		switch n.Op {
		case UnaryIncDec, UnaryBitwiseNot:
			return unknownOpFor(intType, bufType), n, true
		case UnaryDereference:
			if bufType {
				return model.OpBufferRead, n, true
			}
			return classifyNode(n.Operand, ref, intType, bufType)
		default:
			return "", nil, false
		}

	case *Index:
		if contains(n.Base, ref) {
			if intType {
				return model.OpIntegerMayOverflow, n, true
			}
			if bufType {
				return model.OpBufferUnknown, n, true
			}
		}
		return "", nil, false

	default:
		return "", nil, false
	}
}

func unknownOpFor(intType, bufType bool) model.OperatorKind {
	if intType {
		return model.OpIntegerUnknown
	}
	if bufType {
		return model.OpBufferUnknown
	}
	return model.OpCastUnknown // struct fallback, scored as cast_unknown (GoalWeight 1)
}
