package reconverge

import (
	"github.com/kolkov/reconvergence/internal/simt/divergence"
	"github.com/kolkov/reconvergence/internal/simt/isa"
)

// ipdom is the immediate post-dominator mechanism.
//
// Both children of a divergent branch owe the branch's immediate
// post-dominator, looked up in the kernel's static analysis. The stack is
// LIFO: the taken child runs first, parks at the join, then the
// fallthrough child runs and the two merge.
//
// The lookup assumes a reducible graph; the kernel reports irreducible
// graphs and the branch fails with UnsupportedControlFlow.
type ipdom struct{}

func (*ipdom) childJoins(e *Engine, parent *divergence.Context, in isa.Instruction) ([]int, error) {
	return staticJoins(e, parent, in)
}

func (*ipdom) acceptsMarker(e *Engine, pc int) bool { return e.kernel.IsReconvergencePoint(pc) }

func (*ipdom) coalesce(*Engine) bool { return false }

func (*ipdom) order(*Engine) {}

func (*ipdom) selected(e *Engine) int { return e.stack.Selected() }

func (*ipdom) reset(*Engine) {}

// staticJoins extends the parent's joins with the branch's reconvergence PC
// from kernel metadata. Joins at kernel exit and repeats of the innermost
// join are not recorded.
func staticJoins(e *Engine, parent *divergence.Context, in isa.Instruction) ([]int, error) {
	pc, err := e.kernel.ReconvergencePC(in.PC)
	if err != nil {
		return nil, &Error{
			Kind:    UnsupportedControlFlow,
			PC:      in.PC,
			Active:  parent.Active,
			Message: "cannot determine reconvergence point",
			Err:     err,
		}
	}
	joins := make([]int, len(parent.Joins), len(parent.Joins)+1)
	copy(joins, parent.Joins)
	if pc != divergence.Terminal && pc != parent.Reconverge() {
		joins = append(joins, pc)
	}
	return joins, nil
}
