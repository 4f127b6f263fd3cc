package reconverge

import (
	"github.com/kolkov/reconvergence/internal/simt/divergence"
	"github.com/kolkov/reconvergence/internal/simt/isa"
)

// sortedStack is the sorted-stack thread-frontier mechanism.
//
// Joins come from the kernel's post-dominator analysis as for IPDOM, but
// the stack is kept sorted by resume PC with the lowest PC on top. Equal
// PCs order by innermost join, then newest first. Running the lowest PC
// first lets a lagging context catch up with one that branched ahead, so
// runnable contexts that reach the same PC owing the same join merge there
// instead of at the join.
type sortedStack struct{}

func (*sortedStack) childJoins(e *Engine, parent *divergence.Context, in isa.Instruction) ([]int, error) {
	return staticJoins(e, parent, in)
}

func (*sortedStack) acceptsMarker(e *Engine, pc int) bool { return e.kernel.IsReconvergencePoint(pc) }

// coalesce merges two runnable contexts at the same PC with the same
// innermost join, wherever they sit on the stack.
func (*sortedStack) coalesce(e *Engine) bool {
	n := e.stack.Len()
	for i := n - 1; i >= 0; i-- {
		a := e.stack.At(i)
		if !a.Runnable() {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			b := e.stack.At(j)
			if b.Runnable() && a.PC == b.PC && a.Reconverge() == b.Reconverge() {
				e.absorb(i, j)
				return true
			}
		}
	}
	return false
}

// order sorts so that the lowest PC ends on top.
func (*sortedStack) order(e *Engine) {
	e.stack.SortStable(func(a, b *divergence.Context) bool {
		if a.PC != b.PC {
			return a.PC > b.PC
		}
		if ka, kb := a.Reconverge(), b.Reconverge(); ka != kb {
			return ka > kb
		}
		return a.Seq < b.Seq
	})
}

func (*sortedStack) selected(e *Engine) int { return e.stack.Selected() }

func (*sortedStack) reset(*Engine) {}
