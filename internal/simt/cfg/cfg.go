// Package cfg builds the static control-flow metadata of a kernel.
//
// A Graph partitions a program into basic blocks, computes dominator and
// post-dominator trees and answers the queries the IPDOM and Sorted-Stack
// reconvergence engines make at branch time: "where do threads diverging at
// this branch reconverge?" (the leader PC of the branch block's immediate
// post-dominator) and "is this PC a reconvergence point at all?".
//
// Analysis assumes a reducible graph. Irreducible graphs are detected at
// build time and every reconvergence query on them fails with
// ErrIrreducible instead of returning a wrong answer.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kolkov/reconvergence/internal/simt/isa"
)

// ErrIrreducible is returned by reconvergence queries on irreducible graphs.
var ErrIrreducible = errors.New("irreducible control flow")

// Block is a basic block: instructions [Start, End).
type Block struct {
	ID    int
	Start int
	End   int
	Succs []int
	Preds []int
}

// Last returns the PC of the block's final instruction.
func (b *Block) Last() int { return b.End - 1 }

// Graph is the analysed control-flow graph of one program.
//
// Node len(Blocks) is the virtual exit every exiting block flows into.
type Graph struct {
	Program *isa.Program
	Blocks  []Block

	blockOf   []int
	idom      []int
	ipdom     []int
	irreduc   bool
	reconv    map[int]bool
	exitNode  int
	exitPreds []int
}

// Build partitions prog into basic blocks and runs dominator analysis.
func Build(prog *isa.Program) (*Graph, error) {
	if err := prog.Validate(); err != nil {
		return nil, err
	}

	g := &Graph{Program: prog, blockOf: make([]int, prog.Len())}
	g.split()
	g.link()

	n := len(g.Blocks) + 1
	g.exitNode = len(g.Blocks)
	g.idom = dominators(n, 0, g.preds, g.succs)
	g.ipdom = dominators(n, g.exitNode, g.succs, g.preds)
	g.irreduc = !reducible(n, g.idom, g.succs)

	g.reconv = make(map[int]bool)
	for i := range g.Blocks {
		b := &g.Blocks[i]
		if in := prog.Instructions[b.Last()]; in.Op == isa.OpBra && in.Guarded() {
			if pc := g.leaderOfIPDom(b.ID); pc != isa.EndPC {
				g.reconv[pc] = true
			}
		}
	}
	return g, nil
}

// split finds block leaders: the entry, branch targets, instructions after
// a block terminator and reconvergence markers.
func (g *Graph) split() {
	prog := g.Program
	leader := make([]bool, prog.Len())
	leader[0] = true
	for pc, in := range prog.Instructions {
		switch {
		case in.Op == isa.OpBra:
			leader[in.Target] = true
			if pc+1 < prog.Len() {
				leader[pc+1] = true
			}
		case in.Op == isa.OpExit && pc+1 < prog.Len():
			leader[pc+1] = true
		case in.Op == isa.OpReconverge:
			leader[pc] = true
		}
	}

	for pc := 0; pc < prog.Len(); pc++ {
		if leader[pc] {
			if len(g.Blocks) > 0 {
				g.Blocks[len(g.Blocks)-1].End = pc
			}
			g.Blocks = append(g.Blocks, Block{ID: len(g.Blocks), Start: pc})
		}
		g.blockOf[pc] = len(g.Blocks) - 1
	}
	g.Blocks[len(g.Blocks)-1].End = prog.Len()
}

func (g *Graph) link() {
	prog := g.Program
	exit := len(g.Blocks)
	addEdge := func(from, to int) {
		for _, s := range g.Blocks[from].Succs {
			if s == to {
				return
			}
		}
		g.Blocks[from].Succs = append(g.Blocks[from].Succs, to)
		if to == exit {
			g.exitPreds = append(g.exitPreds, from)
		} else {
			g.Blocks[to].Preds = append(g.Blocks[to].Preds, from)
		}
	}

	for i := range g.Blocks {
		b := &g.Blocks[i]
		in := prog.Instructions[b.Last()]
		next := b.End
		switch in.Op {
		case isa.OpBra:
			addEdge(b.ID, g.blockOf[in.Target])
			if in.Guarded() && next < prog.Len() {
				addEdge(b.ID, g.blockOf[next])
			}
		case isa.OpExit:
			addEdge(b.ID, exit)
			if in.Guarded() && next < prog.Len() {
				addEdge(b.ID, g.blockOf[next])
			}
		default:
			if next < prog.Len() {
				addEdge(b.ID, g.blockOf[next])
			} else {
				addEdge(b.ID, exit)
			}
		}
	}
}

func (g *Graph) succs(n int) []int {
	if n == g.exitNode {
		return nil
	}
	return g.Blocks[n].Succs
}

func (g *Graph) preds(n int) []int {
	if n == g.exitNode {
		return g.exitPreds
	}
	return g.Blocks[n].Preds
}

func (g *Graph) leaderOfIPDom(block int) int {
	ip := g.ipdom[block]
	if ip == -1 || ip == g.exitNode {
		return isa.EndPC
	}
	return g.Blocks[ip].Start
}

// BlockOf returns the block containing pc.
func (g *Graph) BlockOf(pc int) (*Block, bool) {
	if pc < 0 || pc >= len(g.blockOf) {
		return nil, false
	}
	return &g.Blocks[g.blockOf[pc]], true
}

// Reducible reports whether the graph is reducible.
func (g *Graph) Reducible() bool { return !g.irreduc }

// Dominates reports whether block a dominates block b.
func (g *Graph) Dominates(a, b int) bool { return dominates(g.idom, a, b) }

// PostDominates reports whether block a post-dominates block b.
func (g *Graph) PostDominates(a, b int) bool { return dominates(g.ipdom, a, b) }

// ImmediatePostDominator returns the block id of b's immediate
// post-dominator, or -1 when it is the virtual exit.
func (g *Graph) ImmediatePostDominator(b int) int {
	ip := g.ipdom[b]
	if ip == g.exitNode {
		return -1
	}
	return ip
}

// EntryPC returns the kernel entry point.
func (g *Graph) EntryPC() int { return 0 }

// ReconvergencePC returns the PC where threads diverging at the branch at
// branchPC reconverge: the leader of the immediate post-dominator of the
// branch's block, or isa.EndPC when paths only meet at kernel exit.
func (g *Graph) ReconvergencePC(branchPC int) (int, error) {
	b, ok := g.BlockOf(branchPC)
	if !ok {
		return 0, fmt.Errorf("pc %d: outside kernel %q", branchPC, g.Program.Name)
	}
	if b.Last() != branchPC || g.Program.Instructions[branchPC].Op != isa.OpBra {
		return 0, fmt.Errorf("pc %d: not a branch", branchPC)
	}
	if g.irreduc {
		return 0, fmt.Errorf("kernel %q, pc %d: %w", g.Program.Name, branchPC, ErrIrreducible)
	}
	return g.leaderOfIPDom(b.ID), nil
}

// IsReconvergencePoint reports whether pc is the reconvergence point of
// some divergent-capable branch.
func (g *Graph) IsReconvergencePoint(pc int) bool { return g.reconv[pc] }

// ReconvergencePoints returns the sorted reconvergence PCs.
func (g *Graph) ReconvergencePoints() []int {
	pcs := make([]int, 0, len(g.reconv))
	for pc := range g.reconv {
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)
	return pcs
}

// Dump writes a block table: ranges, edges and immediate post-dominators.
//
//nolint:errcheck // Diagnostic output
func (g *Graph) Dump(w io.Writer) {
	fmt.Fprintf(w, "kernel %s (%s): %d blocks, reducible=%v\n",
		g.Program.Name, g.Program.Version, len(g.Blocks), g.Reducible())
	for i := range g.Blocks {
		b := &g.Blocks[i]
		succ := make([]string, 0, len(b.Succs))
		for _, s := range b.Succs {
			if s == g.exitNode {
				succ = append(succ, "exit")
			} else {
				succ = append(succ, fmt.Sprintf("B%d", s))
			}
		}
		ipdom := "exit"
		if ip := g.ImmediatePostDominator(b.ID); ip >= 0 {
			ipdom = fmt.Sprintf("B%d@%d", ip, g.Blocks[ip].Start)
		}
		fmt.Fprintf(w, "  B%-3d pc [%d,%d)  succ [%s]  ipdom %s\n",
			b.ID, b.Start, b.End, strings.Join(succ, " "), ipdom)
	}
}
