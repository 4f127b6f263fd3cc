// Package reconverge implements the SIMT divergence/reconvergence engines.
//
// An Engine owns one warp's divergence stack and decides, on every branch,
// barrier, reconvergence marker and exit, how the warp's active threads split
// into contexts and when those contexts merge again. Four mechanisms share
// one contract and differ only in policy:
//
//   - IPDOM: children of a divergent branch owe the branch's immediate
//     post-dominator; LIFO scheduling.
//   - Barrier: no static joins; contexts collapse at barriers and where
//     stacked paths meet.
//   - TFGen6: no static joins; the lowest-PC context runs first and contexts
//     whose PCs coincide merge.
//   - TFSortedStack: IPDOM joins, but contexts are kept sorted by PC so the
//     lowest-PC context runs first and contexts meeting before the join
//     merge early.
//
// The executing unit drives an engine one instruction at a time:
//
//	for {
//		ctx := e.Context()
//		in, _ := prog.At(ctx.PC)
//		switch in.Op {
//		case isa.OpBra:
//			_, err = e.EvalBra(in, taken, notTaken)
//		case isa.OpBar:
//			err = e.EvalBar(in)
//		case isa.OpReconverge:
//			err = e.EvalReconverge(in)
//		case isa.OpExit:
//			err = e.EvalExit(in, e.EvalPredicate(in, guard))
//		default:
//			execute(in, e.EvalPredicate(in, guard))
//		}
//		if more, err := e.NextInstruction(in); !more || err != nil { ... }
//	}
//
// Engines are single-threaded: one warp's driving loop makes every call.
// Independent warps use independent engines and share nothing.
package reconverge

import (
	"fmt"

	"github.com/kolkov/reconvergence/internal/simt/divergence"
	"github.com/kolkov/reconvergence/internal/simt/isa"
	"github.com/kolkov/reconvergence/internal/simt/mask"
	"github.com/kolkov/reconvergence/internal/simt/trace"
)

// policy is the per-mechanism part of an engine.
type policy interface {
	// childJoins returns the joins owed by both children of a divergent
	// branch. The result must not alias parent.Joins.
	childJoins(e *Engine, parent *divergence.Context, in isa.Instruction) ([]int, error)
	// acceptsMarker reports whether a reconverge marker at pc that no
	// context owes may be passed through.
	acceptsMarker(e *Engine, pc int) bool
	// coalesce performs one mechanism-specific merge, reporting whether it
	// changed the stack.
	coalesce(e *Engine) bool
	// order restores the stack ordering after a change.
	order(e *Engine)
	// selected returns the index of the context to fetch next, or -1.
	selected(e *Engine) int
	// reset is called by Initialize.
	reset(e *Engine)
}

// Engine is one warp's reconvergence engine.
type Engine struct {
	typ    Type
	pol    policy
	kernel Kernel

	threads  int
	maxDepth int
	sink     trace.Sink

	stack *divergence.Stack
	live  mask.Mask
	state State
	stats Stats
	seq   uint64
}

// New creates an initialized engine of type t for a warp of threads lanes.
//
// kernel may be nil for Barrier and TFGen6; IPDOM and TFSortedStack need
// its post-dominator information and fail with ErrKernelRequired.
func New(t Type, threads int, kernel Kernel) (*Engine, error) {
	return NewWithOptions(t, threads, kernel, Options{})
}

// NewWithOptions is like New with explicit options.
func NewWithOptions(t Type, threads int, kernel Kernel, opts Options) (*Engine, error) {
	if threads <= 0 || threads > mask.MaxThreads {
		return nil, fmt.Errorf("thread count %d out of range [1, %d]", threads, mask.MaxThreads)
	}
	if opts.MaxStackDepth <= 0 || opts.MaxStackDepth > threads {
		opts.MaxStackDepth = threads
	}
	if opts.Sink == nil {
		opts.Sink = trace.Discard
	}

	e := &Engine{
		typ:      t,
		kernel:   kernel,
		threads:  threads,
		maxDepth: opts.MaxStackDepth,
		sink:     opts.Sink,
		stack:    divergence.NewStack(opts.MaxStackDepth),
	}
	switch t {
	case IPDOM:
		e.pol = &ipdom{}
	case Barrier:
		e.pol = &barrier{}
	case TFGen6:
		e.pol = &tfGen6{}
	case TFSortedStack:
		e.pol = &sortedStack{}
	default:
		return nil, fmt.Errorf("unsupported reconvergence mechanism %v", t)
	}
	if kernel == nil && (t == IPDOM || t == TFSortedStack) {
		return nil, fmt.Errorf("%v: %w", t, ErrKernelRequired)
	}
	e.Initialize()
	return e, nil
}

// Initialize resets the engine to one context covering all threads at the
// kernel entry, owing no join. It is the relaunch point: the stack keeps
// its storage.
func (e *Engine) Initialize() {
	e.live = mask.Full(e.threads)
	e.seq = 0
	e.stack.Reset(divergence.Context{Active: e.live, PC: e.entryPC(), Seq: e.nextSeq()})
	e.state = Running
	e.stats = Stats{MaxDepth: 1}
	e.pol.reset(e)
}

func (e *Engine) entryPC() int {
	if e.kernel == nil {
		return 0
	}
	return e.kernel.EntryPC()
}

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

// Type returns the mechanism.
func (e *Engine) Type() Type { return e.typ }

// State returns the run state.
func (e *Engine) State() State { return e.state }

// Stats returns activity counters.
func (e *Engine) Stats() Stats { return e.stats }

// Threads returns the warp width.
func (e *Engine) Threads() int { return e.threads }

// Live returns the threads that have not exited.
func (e *Engine) Live() mask.Mask { return e.live }

// StackSize returns the number of pending contexts.
func (e *Engine) StackSize() int { return e.stack.Len() }

// Contexts returns a copy of the divergence stack, bottom first.
func (e *Engine) Contexts() []divergence.Context { return e.stack.All() }

// Context returns the selected context: the mask and PC to fetch next.
// After termination it returns the zero Context with PC Terminal.
func (e *Engine) Context() divergence.Context {
	i := e.pol.selected(e)
	if i < 0 {
		return divergence.Context{PC: divergence.Terminal}
	}
	c := *e.stack.At(i)
	c.Joins = append([]int(nil), c.Joins...)
	return c
}

func (e *Engine) current() (int, *divergence.Context, error) {
	if e.state == Terminated {
		return -1, nil, ErrTerminated
	}
	i := e.pol.selected(e)
	if i < 0 {
		return -1, nil, newError(BarrierMismatch, 0, e.live, "no runnable context")
	}
	return i, e.stack.At(i), nil
}

// EvalPredicate returns the threads of the selected context that perform
// the side effects of in: the active mask intersected with pred for
// guarded instructions, the whole active mask otherwise. It does not touch
// the stack.
func (e *Engine) EvalPredicate(in isa.Instruction, pred mask.Mask) mask.Mask {
	_, c, err := e.current()
	if err != nil {
		return mask.Mask{}
	}
	if !in.Guarded() {
		return c.Active
	}
	return c.Active.Intersect(pred)
}

// EvalBra executes a branch for the selected context.
//
// branch and fall must partition the active mask. When both are non-empty
// the branch diverges: the context is replaced by a fallthrough child and a
// taken child, pushed in that order, and EvalBra returns true. Otherwise
// the context moves to the single destination in place.
func (e *Engine) EvalBra(in isa.Instruction, branch, fall mask.Mask) (bool, error) {
	i, c, err := e.current()
	if err != nil {
		return false, err
	}
	active := c.Active
	if !branch.Disjoint(fall) || !branch.Union(fall).Equal(active) {
		return false, newError(InvalidBranchMask, in.PC, active,
			"taken %v and fallthrough %v do not partition the active mask", branch, fall)
	}

	switch {
	case fall.IsEmpty():
		c.PC = in.Target
		return false, e.settle()
	case branch.IsEmpty():
		c.PC = in.PC + 1
		return false, e.settle()
	}

	if e.stack.Len()+1 > e.maxDepth {
		return false, newError(DivergenceStackOverflow, in.PC, active,
			"%d pending contexts, limit %d", e.stack.Len()+1, e.maxDepth)
	}
	joins, err := e.pol.childJoins(e, c, in)
	if err != nil {
		return false, err
	}

	e.stack.Remove(i)
	e.stack.Insert(i, divergence.Context{Active: fall, PC: in.PC + 1, Joins: joins, Seq: e.nextSeq()})
	e.stack.Insert(i+1, divergence.Context{Active: branch, PC: in.Target, Joins: joins, Seq: e.nextSeq()})
	e.stats.Divergences++
	e.emit(trace.Divergence, active, in.PC)
	return true, e.settle()
}

// EvalBar parks the selected context at the barrier in. The barrier
// releases once every live thread has arrived at it; the contexts then
// collapse into one that continues after the barrier.
func (e *Engine) EvalBar(in isa.Instruction) error {
	_, c, err := e.current()
	if err != nil {
		return err
	}
	c.PC = in.PC
	c.Wait = divergence.AtBarrier
	c.Arrivals = c.Active.Count()
	e.emit(trace.BarrierArrival, c.Active, in.PC)
	return e.settle()
}

// EvalReconverge executes the reconvergence marker in.
//
// A context owing this PC waits here until all contexts owing it arrive and
// merge. A context owing nothing here passes through when another context
// owes the PC or the mechanism recognises it as a reconvergence point;
// otherwise the marker is invalid.
func (e *Engine) EvalReconverge(in isa.Instruction) error {
	_, c, err := e.current()
	if err != nil {
		return err
	}
	if c.Reconverge() == in.PC {
		c.PC = in.PC
		c.Wait = divergence.AtReconverge
		return e.settle()
	}
	if !e.owed(in.PC) && !e.pol.acceptsMarker(e, in.PC) {
		return newError(InvalidReconvergePoint, in.PC, c.Active,
			"no pending context reconverges here")
	}
	c.PC = in.PC + 1
	return e.settle()
}

// EvalExit terminates exiting, the predicated-active threads of the
// selected context. Survivors of a guarded exit fall through; a context
// left empty is popped.
func (e *Engine) EvalExit(in isa.Instruction, exiting mask.Mask) error {
	i, c, err := e.current()
	if err != nil {
		return err
	}
	if !in.Guarded() {
		exiting = c.Active
	}
	exiting = exiting.Intersect(c.Active)
	if exiting.IsEmpty() {
		c.PC = in.PC + 1
		return e.settle()
	}

	c.Active = c.Active.Difference(exiting)
	e.live = e.live.Difference(exiting)
	e.stats.ExitedThreads += uint64(exiting.Count())
	if c.Active.IsEmpty() {
		e.stack.Remove(i)
	} else {
		c.PC = in.PC + 1
	}
	e.emit(trace.Exit, exiting, in.PC)
	return e.settle()
}

// NextInstruction advances the selected context past in when in is a
// sequential instruction (control-flow instructions already moved it) and
// picks the next context. It returns false once the warp has terminated.
func (e *Engine) NextInstruction(in isa.Instruction) (bool, error) {
	if e.state == Terminated {
		return false, nil
	}
	e.stats.Steps++
	switch in.Op {
	case isa.OpBra, isa.OpBar, isa.OpReconverge, isa.OpExit:
	default:
		_, c, err := e.current()
		if err != nil {
			return false, err
		}
		c.PC = in.PC + 1
	}
	if err := e.settle(); err != nil {
		return false, err
	}
	return e.state != Terminated, nil
}

// owed reports whether some context's innermost join is pc.
func (e *Engine) owed(pc int) bool {
	for j := 0; j < e.stack.Len(); j++ {
		if e.stack.At(j).Reconverge() == pc {
			return true
		}
	}
	return false
}

// settle applies every pending merge and barrier release, then updates the
// state. It fails when no context can run but the warp has not terminated.
func (e *Engine) settle() error {
	for {
		e.parkAtJoins()
		if e.mergeJoins() || e.releaseBarrier() || e.pol.coalesce(e) {
			continue
		}
		break
	}
	e.pol.order(e)
	e.stats.MaxDepth = max(e.stats.MaxDepth, e.stack.Len())

	if e.stack.Len() == 0 {
		e.state = Terminated
		return nil
	}
	e.state = Running
	waiting := false
	for j := 0; j < e.stack.Len(); j++ {
		if e.stack.At(j).Wait == divergence.AtBarrier {
			e.state = BarrierWait
			waiting = true
			break
		}
	}
	if e.pol.selected(e) >= 0 {
		return nil
	}

	if waiting {
		return e.barrierMismatch()
	}
	return newError(InvalidReconvergePoint, e.stack.Top().PC, e.stack.Top().Active,
		"every context waits at a join that cannot complete")
}

func (e *Engine) barrierMismatch() error {
	var arrived, missing mask.Mask
	pc := 0
	for j := 0; j < e.stack.Len(); j++ {
		c := e.stack.At(j)
		if c.Wait == divergence.AtBarrier {
			arrived = arrived.Union(c.Active)
			pc = c.PC
		} else {
			missing = missing.Union(c.Active)
		}
	}
	if missing.IsEmpty() {
		return newError(BarrierMismatch, pc, arrived, "threads wait at different barriers")
	}
	return newError(BarrierMismatch, pc, arrived,
		"threads %v wait at barrier, %v cannot arrive", arrived, missing)
}

// parkAtJoins parks runnable contexts that reached their innermost join.
func (e *Engine) parkAtJoins() {
	for j := 0; j < e.stack.Len(); j++ {
		c := e.stack.At(j)
		if c.Runnable() && len(c.Joins) > 0 && c.PC == c.Reconverge() {
			c.Wait = divergence.AtReconverge
		}
	}
}

// mergeJoins merges the contexts owing one join once all of them wait
// there. The merged context sits at the join, owes the remaining joins and
// is runnable.
func (e *Engine) mergeJoins() bool {
	for j := 0; j < e.stack.Len(); j++ {
		c := e.stack.At(j)
		if c.Wait != divergence.AtReconverge {
			continue
		}
		pc := c.Reconverge()

		group := make([]int, 0, 4)
		complete := true
		for k := 0; k < e.stack.Len(); k++ {
			other := e.stack.At(k)
			if other.Reconverge() != pc {
				continue
			}
			if other.Wait != divergence.AtReconverge {
				complete = false
				break
			}
			group = append(group, k)
		}
		if !complete {
			continue
		}

		merged := divergence.Context{PC: pc, Seq: e.nextSeq()}
		shortest := e.stack.At(group[0]).Joins
		for _, k := range group {
			other := e.stack.At(k)
			merged.Active = merged.Active.Union(other.Active)
			if len(other.Joins) < len(shortest) {
				shortest = other.Joins
			}
		}
		merged.Joins = append([]int(nil), shortest[:len(shortest)-1]...)

		for n := len(group) - 1; n > 0; n-- {
			e.stack.Remove(group[n])
		}
		e.stack.Replace(group[0], merged)
		if len(group) > 1 {
			e.stats.Reconvergences++
			e.emit(trace.Reconvergence, merged.Active, pc)
		}
		return true
	}
	return false
}

// releaseBarrier collapses the stack once every live thread waits at the
// same barrier.
func (e *Engine) releaseBarrier() bool {
	n := e.stack.Len()
	if n == 0 {
		return false
	}
	pc := e.stack.At(0).PC
	arrivals := 0
	for j := 0; j < n; j++ {
		c := e.stack.At(j)
		if c.Wait != divergence.AtBarrier || c.PC != pc {
			return false
		}
		arrivals += c.Arrivals
	}
	if arrivals != e.live.Count() {
		return false
	}

	joins := append([]int(nil), e.stack.At(0).Joins...)
	for j := 1; j < n; j++ {
		joins = commonPrefix(joins, e.stack.At(j).Joins)
	}
	union := e.stack.Union()
	e.stack.Reset(divergence.Context{Active: union, PC: pc + 1, Joins: joins, Seq: e.nextSeq()})
	e.stats.BarrierReleases++
	e.emit(trace.BarrierRelease, union, pc)
	return true
}

// absorb merges the runnable context src into dst.
func (e *Engine) absorb(dst, src int) {
	d, s := e.stack.At(dst), e.stack.At(src)
	merged := *d
	merged.Active = d.Active.Union(s.Active)
	if len(s.Joins) < len(d.Joins) {
		merged.Joins = s.Joins
	}
	merged.Joins = append([]int(nil), merged.Joins...)
	merged.Seq = max(d.Seq, s.Seq)

	pc := d.PC
	e.stack.Replace(dst, merged)
	e.stack.Remove(src)
	e.stats.Reconvergences++
	e.emit(trace.Reconvergence, merged.Active, pc)
}

func (e *Engine) emit(kind trace.Kind, active mask.Mask, pc int) {
	e.sink.Emit(trace.Event{Kind: kind, Active: active, PC: pc, Depth: e.stack.Len()})
}

func commonPrefix(a, b []int) []int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return a[:n]
}

// runnableLanes returns the union of the runnable contexts' masks.
func (e *Engine) runnableLanes() mask.Mask {
	var m mask.Mask
	for j := 0; j < e.stack.Len(); j++ {
		if c := e.stack.At(j); c.Runnable() {
			m = m.Union(c.Active)
		}
	}
	return m
}
