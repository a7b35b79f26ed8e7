// Package rewriter emits the enter_func, reach_block and exit_func
// calls of the runtime ABI of spec section 6 around a classified
// function's blocks (skip_block and kill are not emitted). It is
// supplemental to the
// core: the real compiler front-end that turns this into a compiled,
// instrumented binary is out of scope (spec section 1); this package
// only produces the line-oriented source patch the front-end consumes,
// and the fuzzer's evolutionary loop never calls it at fuzzing time.
package rewriter

import (
	"fmt"
	"strings"

	"sentra-fuzz/internal/model"
)

// Patch is one insertion into the target's source text: "insert Lines
// at the span identified by BlockNumber/AtEpilogue/AtPrologue".
type Patch struct {
	BlockNumber uint32
	AtPrologue  bool
	AtEpilogue  bool
	AtReturn    bool
	Lines       []string
}

// Emit produces the ordered patch list for one function, per spec
// section 6:
//   - `unsigned int pred_block = 0; enter_func(fid);` as the prologue
//   - `reach_block(fid, pred_block, bid); pred_block = bid;` prefixed
//     to each block
//   - `exit_func(fid);` before each return site and as the epilogue
//     on fallthrough
func Emit(functionID model.ID, blockNumbers []uint32, hasExplicitReturn func(block uint32) bool) []Patch {
	var patches []Patch

	patches = append(patches, Patch{
		AtPrologue: true,
		Lines:      []string{fmt.Sprintf("unsigned int pred_block = 0; enter_func(%d);", functionID)},
	})

	for _, bid := range blockNumbers {
		patches = append(patches, Patch{
			BlockNumber: bid,
			Lines: []string{
				fmt.Sprintf("reach_block(%d, pred_block, %d); pred_block = %d;", functionID, bid, bid),
			},
		})
		if hasExplicitReturn(bid) {
			patches = append(patches, Patch{
				BlockNumber: bid,
				AtReturn:    true,
				Lines:       []string{fmt.Sprintf("exit_func(%d);", functionID)},
			})
		}
	}

	patches = append(patches, Patch{
		AtEpilogue: true,
		Lines:      []string{fmt.Sprintf("exit_func(%d);", functionID)},
	})

	return patches
}

// Render flattens patches into a human-readable diff-like text block,
// the shape the external front-end's patch-apply step consumes.
func Render(patches []Patch) string {
	var sb strings.Builder
	for _, p := range patches {
		switch {
		case p.AtPrologue:
			sb.WriteString("@prologue\n")
		case p.AtEpilogue:
			sb.WriteString("@epilogue\n")
		case p.AtReturn:
			fmt.Fprintf(&sb, "@block %d (before return)\n", p.BlockNumber)
		default:
			fmt.Fprintf(&sb, "@block %d (prefix)\n", p.BlockNumber)
		}
		for _, line := range p.Lines {
			sb.WriteString("  " + line + "\n")
		}
	}
	return sb.String()
}
