// Package classifier implements the block-operation classifier of
// spec section 4.1. Its input is a function's AST plus CFG, handed
// over by the source-language compiler front-end (an external
// collaborator, out of scope per spec section 1). The node set below
// is new -- grounded on spec 4.1's own list of syntactic cases, not on
// the teacher's own (dynamic, cast-free) scripting-language AST -- but
// keeps the teacher's Accept/Visitor dispatch shape from
// internal/parser/ast.go, one struct per node kind.
package classifier

// VarKind is the declared type class of a variable reference, spec
// section 4.1 rule 1.
type VarKind int

const (
	VarUnknown VarKind = iota
	VarInteger
	VarBuffer // array, or pointer-to-scalar/void/pointer
	VarStruct // pointer-to-struct
)

// Expr is any node in the target function's expression tree.
type Expr interface{ exprNode() }

// VarRef is a single variable reference -- the classifier's unit of
// work (spec 4.1: "applied to each variable reference inside the
// function").
type VarRef struct {
	Name string
	Kind VarKind
}

func (*VarRef) exprNode() {}

// Literal is any non-reference leaf (numeric/string constant).
type Literal struct{ Value any }

func (*Literal) exprNode() {}

// Call is a call expression: callee(args...). Any reference appearing
// anywhere inside a Call, regardless of position, yields pass_through
// (spec 4.1 rule 2).
type Call struct {
	Callee Expr
	Args   []Expr
}

func (*Call) exprNode() {}

// CastKind distinguishes the two explicit-cast buckets of spec 4.1
// rule 2.
type CastKind int

const (
	CastUnsafe  CastKind = iota // C-style or reinterpret-like
	CastUnknown                 // any other explicit cast
)

// Cast is an explicit cast expression. Implicit casts are represented
// by ImplicitCast instead and are transparent.
type Cast struct {
	Kind    CastKind
	Operand Expr
}

func (*Cast) exprNode() {}

// ImplicitCast is a compiler-inserted conversion; transparent to the
// classifier (spec 4.1 rule 2, "Implicit cast ... transparent").
type ImplicitCast struct{ Operand Expr }

func (*ImplicitCast) exprNode() {}

// Paren is a parenthesized expression; transparent.
type Paren struct{ Operand Expr }

func (*Paren) exprNode() {}

// BinaryCategory classifies a binary operator for spec 4.1 rule 2.
type BinaryCategory int

const (
	BinaryLogicalOrCompare BinaryCategory = iota // &&, ||, ==, !=, <, >, <=, >=, plain "="
	BinaryArithmeticOrShift                       // +, -, *, /, %, <<, >>
)

// Binary is a binary expression, including compound assignment
// (CompoundAssign == true for +=, -=, etc., with Left as the assigned
// reference side).
type Binary struct {
	Category       BinaryCategory
	CompoundAssign bool
	Left, Right    Expr
}

func (*Binary) exprNode() {}

// UnaryOp enumerates the unary operators spec 4.1 rule 2 singles out.
type UnaryOp int

const (
	UnaryOther        UnaryOp = iota
	UnaryIncDec               // ++x, x++, --x, x--
	UnaryBitwiseNot           // ~x
	UnaryDereference          // *x
)

// Unary is a unary expression.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

func (*Unary) exprNode() {}

// Index is an array-subscript expression: Base[Idx].
type Index struct {
	Base, Idx Expr
}

func (*Index) exprNode() {}

// Stmt is a single straight-line statement inside a CFG block (CFG
// edges, not AST control-flow nodes, encode branching -- see Block).
type Stmt struct {
	Expr Expr
}

// Block is one basic block: a straight-line statement list plus the
// CFG-local block number the runtime ABI (spec section 6) refers to.
type Block struct {
	Number uint32
	Stmts  []Stmt
}

// Function is the classifier's unit of analysis.
type Function struct {
	Name string
	Blocks []*Block

	// Skip conditions, spec 4.1 rule 3.
	NoBody        bool
	Synthesized   bool
	PureVirtual   bool
	Inline        bool
}

// Shippable reports whether the function should be analyzed at all.
func (f *Function) Shippable() bool {
	return !(f.NoBody || f.Synthesized || f.PureVirtual || f.Inline)
}
