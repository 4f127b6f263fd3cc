package reconverge

import (
	"github.com/kolkov/reconvergence/internal/simt/divergence"
	"github.com/kolkov/reconvergence/internal/simt/isa"
)

// barrier is the barrier-based mechanism.
//
// Divergent branches add no join. Reconvergence happens where the stack
// makes it free: when the top context reaches the PC of the runnable
// context directly below it, the two merge. Barriers collapse the whole
// stack. No kernel metadata is needed and every marker is a pass-through,
// so unstructured control flow is handled at the cost of coarser
// reconvergence.
type barrier struct{}

func (*barrier) childJoins(_ *Engine, parent *divergence.Context, _ isa.Instruction) ([]int, error) {
	return append([]int(nil), parent.Joins...), nil
}

func (*barrier) acceptsMarker(*Engine, int) bool { return true }

func (*barrier) coalesce(e *Engine) bool {
	n := e.stack.Len()
	for j := n - 1; j > 0; j-- {
		top, below := e.stack.At(j), e.stack.At(j-1)
		if top.Runnable() && below.Runnable() && top.PC == below.PC {
			e.absorb(j-1, j)
			return true
		}
	}
	return false
}

func (*barrier) order(*Engine) {}

func (*barrier) selected(e *Engine) int { return e.stack.Selected() }

func (*barrier) reset(*Engine) {}
