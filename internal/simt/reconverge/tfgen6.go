package reconverge

import (
	"github.com/kolkov/reconvergence/internal/simt/divergence"
	"github.com/kolkov/reconvergence/internal/simt/frontier"
	"github.com/kolkov/reconvergence/internal/simt/isa"
)

// tfGen6 is the dynamic thread-frontier mechanism.
//
// No reconvergence point is assigned at branch time. The engine keeps the
// PC of every thread, always fetches for the runnable context with the
// lowest PC and merges runnable contexts as soon as their threads' PCs
// coincide. Lowest-PC-first guarantees that threads heading for a common
// PC all get there before any of them moves past it, so forward joins are
// found without post-dominator analysis.
type tfGen6 struct {
	pcs frontier.PCVector
}

func (*tfGen6) childJoins(*Engine, *divergence.Context, isa.Instruction) ([]int, error) {
	return nil, nil
}

func (*tfGen6) acceptsMarker(*Engine, int) bool { return true }

// sync rebuilds the thread PC table from the stack.
func (p *tfGen6) sync(e *Engine) {
	p.pcs.Reset(0, 0)
	for j := 0; j < e.stack.Len(); j++ {
		c := e.stack.At(j)
		p.pcs.SetMask(c.Active, c.PC)
	}
}

func (p *tfGen6) coalesce(e *Engine) bool {
	p.sync(e)
	runnable := e.runnableLanes()
	for i := e.stack.Len() - 1; i >= 0; i-- {
		c := e.stack.At(i)
		if !c.Runnable() {
			continue
		}
		peers := p.pcs.Coincide(runnable, c.PC).Difference(c.Active)
		if peers.IsEmpty() {
			continue
		}
		for j := e.stack.Len() - 1; j >= 0; j-- {
			other := e.stack.At(j)
			if j != i && other.Runnable() && !other.Active.Disjoint(peers) {
				e.absorb(i, j)
				return true
			}
		}
	}
	return false
}

func (*tfGen6) order(*Engine) {}

// selected picks the topmost runnable context at the frontier.
func (p *tfGen6) selected(e *Engine) int {
	frontierPC := p.pcs.Min(e.runnableLanes())
	for i := e.stack.Len() - 1; i >= 0; i-- {
		if c := e.stack.At(i); c.Runnable() && c.PC == frontierPC {
			return i
		}
	}
	return -1
}

func (p *tfGen6) reset(e *Engine) { p.sync(e) }

// ThreadPCs returns the PC of every live thread for thread-frontier
// engines, and nil for the other mechanisms.
func (e *Engine) ThreadPCs() map[int]int {
	p, ok := e.pol.(*tfGen6)
	if !ok {
		return nil
	}
	p.sync(e)
	out := make(map[int]int, e.live.Count())
	e.live.ForEach(func(lane int) { out[lane] = p.pcs.Get(lane) })
	return out
}
