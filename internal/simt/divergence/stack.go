// Package divergence holds the per-warp divergence stack.
//
// A Context is one pending execution path: the threads following it, where
// they resume, and the reconvergence points they still owe. A Stack is the
// ordered set of contexts of one warp. The reconvergence engines own a Stack
// each and decide which entry is selected; this package only stores and
// reorders contexts.
//
// Invariant (maintained by the engines): the active masks of all entries are
// pairwise disjoint and their union is the warp's set of live threads.
package divergence

import (
	"sort"

	"github.com/kolkov/reconvergence/internal/simt/isa"
	"github.com/kolkov/reconvergence/internal/simt/mask"
)

// Terminal is the reconvergence PC of a context that owes no join: its
// threads only meet their siblings at kernel exit.
const Terminal = isa.EndPC

// WaitState tells whether a context may be selected.
type WaitState uint8

const (
	// Runnable contexts are eligible for selection.
	Runnable WaitState = iota
	// AtReconverge contexts are parked at their innermost join.
	AtReconverge
	// AtBarrier contexts have arrived at a barrier.
	AtBarrier
)

func (w WaitState) String() string {
	switch w {
	case Runnable:
		return "runnable"
	case AtReconverge:
		return "reconverge"
	case AtBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// Context is one pending execution path.
type Context struct {
	// Active is the set of threads following this path.
	Active mask.Mask
	// PC is the resume program counter.
	PC int
	// Joins are the reconvergence PCs these threads still owe, innermost
	// last. Engines that reconverge dynamically leave it empty.
	Joins []int

	Wait WaitState
	// Arrivals counts threads that reached the barrier at PC.
	Arrivals int
	// Seq orders contexts by creation; larger is newer.
	Seq uint64
}

// Reconverge returns the innermost join, or Terminal when none is owed.
func (c *Context) Reconverge() int {
	if len(c.Joins) == 0 {
		return Terminal
	}
	return c.Joins[len(c.Joins)-1]
}

// Runnable reports whether the context can be selected.
func (c *Context) Runnable() bool { return c.Wait == Runnable }

// Stack is an ordered sequence of contexts; index Len()-1 is the top.
//
// Slots past Len keep their Joins backing arrays so Reset and Push reuse
// them instead of allocating on every relaunch.
type Stack struct {
	entries []Context
	n       int
}

// NewStack returns a stack with room for capacity contexts.
func NewStack(capacity int) *Stack {
	return &Stack{entries: make([]Context, 0, capacity)}
}

// Reset empties the stack and pushes initial.
func (s *Stack) Reset(initial Context) {
	s.n = 0
	s.Push(initial)
}

// Len returns the number of contexts.
func (s *Stack) Len() int { return s.n }

// At returns the context at index i (0 is the bottom).
func (s *Stack) At(i int) *Context { return &s.entries[i] }

// Top returns the top context, or nil when the stack is empty.
func (s *Stack) Top() *Context {
	if s.n == 0 {
		return nil
	}
	return &s.entries[s.n-1]
}

// Push places c on top of the stack.
func (s *Stack) Push(c Context) {
	s.Insert(s.n, c)
}

// Insert places c at index i, shifting entries at i and above up by one.
//
// c.Joins is copied into the slot's own storage.
func (s *Stack) Insert(i int, c Context) {
	if s.n == len(s.entries) {
		s.entries = append(s.entries, Context{})
	}
	spare := s.entries[s.n].Joins
	copy(s.entries[i+1:s.n+1], s.entries[i:s.n])
	s.n++
	s.store(i, c, spare)
}

// Replace overwrites the context at index i.
func (s *Stack) Replace(i int, c Context) {
	s.store(i, c, s.entries[i].Joins)
}

func (s *Stack) store(i int, c Context, spare []int) {
	joins := append(spare[:0], c.Joins...)
	c.Joins = joins
	s.entries[i] = c
}

// Remove deletes the context at index i.
func (s *Stack) Remove(i int) {
	spare := s.entries[i].Joins
	copy(s.entries[i:s.n-1], s.entries[i+1:s.n])
	s.n--
	s.entries[s.n] = Context{Joins: spare[:0]}
}

// Selected returns the index of the topmost runnable context, or -1.
func (s *Stack) Selected() int {
	for i := s.n - 1; i >= 0; i-- {
		if s.entries[i].Wait == Runnable {
			return i
		}
	}
	return -1
}

// Union returns the union of every context's active mask.
func (s *Stack) Union() mask.Mask {
	var m mask.Mask
	for i := 0; i < s.n; i++ {
		m = m.Union(s.entries[i].Active)
	}
	return m
}

// SortStable orders the contexts so that less(a, b) means a sits below b.
func (s *Stack) SortStable(less func(a, b *Context) bool) {
	live := s.entries[:s.n]
	sort.SliceStable(live, func(i, j int) bool { return less(&live[i], &live[j]) })
}

// All returns a copy of the contexts, bottom first.
func (s *Stack) All() []Context {
	out := make([]Context, s.n)
	for i := range out {
		out[i] = s.entries[i]
		out[i].Joins = append([]int(nil), s.entries[i].Joins...)
	}
	return out
}
