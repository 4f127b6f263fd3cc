// Package isa defines the small SIMT instruction set used to drive the
// reconvergence engines.
//
// Only the control-flow surface matters to the engines: branches, barriers,
// reconvergence markers and exits. Everything else is a plain instruction
// that advances the program counter. Per-thread values are modelled by two
// registers visible to guard predicates: the thread id (tid) and a
// per-thread counter (c) that the add instruction increments.
package isa

import (
	"fmt"
	"strconv"
	"strings"
)

// Opcode identifies an instruction kind.
type Opcode uint8

const (
	// OpNop does nothing and falls through.
	OpNop Opcode = iota
	// OpAdd increments the per-thread counter of predicated-active threads.
	OpAdd
	// OpBra branches to Target for threads whose guard holds.
	OpBra
	// OpBar is a CTA-wide barrier (bar.sync).
	OpBar
	// OpReconverge marks an explicit reconvergence point.
	OpReconverge
	// OpExit terminates predicated-active threads.
	OpExit
)

var opcodeNames = [...]string{
	OpNop:        "nop",
	OpAdd:        "add",
	OpBra:        "bra",
	OpBar:        "bar",
	OpReconverge: "reconverge",
	OpExit:       "exit",
}

// String returns the assembler mnemonic.
func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// Register selects a per-thread value for a predicate term.
type Register uint8

const (
	// RegNone marks a constant term.
	RegNone Register = iota
	// RegTid is the thread id within the warp.
	RegTid
	// RegCounter is the per-thread counter incremented by add.
	RegCounter
)

// Cmp is a predicate comparison operator.
type Cmp uint8

const (
	CmpEq Cmp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

var cmpNames = [...]string{CmpEq: "==", CmpNe: "!=", CmpLt: "<", CmpLe: "<=", CmpGt: ">", CmpGe: ">="}

func (c Cmp) String() string {
	if int(c) < len(cmpNames) {
		return cmpNames[c]
	}
	return "?"
}

// Term is one side of a predicate: a register (optionally reduced modulo
// Mod) or a constant.
type Term struct {
	Reg   Register
	Mod   int
	Const int
}

func (t Term) value(tid, counter int) int {
	var v int
	switch t.Reg {
	case RegTid:
		v = tid
	case RegCounter:
		v = counter
	default:
		return t.Const
	}
	if t.Mod > 0 {
		v %= t.Mod
	}
	return v
}

func (t Term) String() string {
	var s string
	switch t.Reg {
	case RegTid:
		s = "tid"
	case RegCounter:
		s = "c"
	default:
		return strconv.Itoa(t.Const)
	}
	if t.Mod > 0 {
		s += "%" + strconv.Itoa(t.Mod)
	}
	return s
}

// Predicate is a per-thread guard such as tid<2, !tid%2==0 or c<tid.
type Predicate struct {
	Negate bool
	LHS    Term
	Cmp    Cmp
	RHS    Term
}

// Eval evaluates the predicate for one thread.
func (p Predicate) Eval(tid, counter int) bool {
	l, r := p.LHS.value(tid, counter), p.RHS.value(tid, counter)
	var ok bool
	switch p.Cmp {
	case CmpEq:
		ok = l == r
	case CmpNe:
		ok = l != r
	case CmpLt:
		ok = l < r
	case CmpLe:
		ok = l <= r
	case CmpGt:
		ok = l > r
	case CmpGe:
		ok = l >= r
	}
	return ok != p.Negate
}

func (p Predicate) String() string {
	s := p.LHS.String() + p.Cmp.String() + p.RHS.String()
	if p.Negate {
		return "!" + s
	}
	return s
}

// Instruction is one decoded instruction.
type Instruction struct {
	// PC is the instruction's index in its program.
	PC int
	Op Opcode

	// Guard is the per-thread predicate; nil for unguarded instructions.
	Guard *Predicate

	// Target is the branch destination PC (OpBra only).
	Target int
	// Label is the symbolic branch destination as written in the source.
	Label string
	// Uniform marks bra.uni: the caller promises the branch never diverges.
	Uniform bool

	// Amount is the increment applied by OpAdd.
	Amount int

	// Line is the 1-indexed source line, 0 for hand-built programs.
	Line int
}

// Guarded reports whether the instruction carries a guard predicate.
func (i Instruction) Guarded() bool { return i.Guard != nil }

// IsBranch reports whether the instruction is a branch.
func (i Instruction) IsBranch() bool { return i.Op == OpBra }

// EndsBlock reports whether the instruction terminates a basic block.
//
// Guarded exits end a block too: surviving threads fall through.
func (i Instruction) EndsBlock() bool {
	return i.Op == OpBra || i.Op == OpExit
}

// String renders the instruction in assembler syntax.
func (i Instruction) String() string {
	var b strings.Builder
	if i.Guard != nil {
		b.WriteByte('@')
		b.WriteString(i.Guard.String())
		b.WriteByte(' ')
	}
	b.WriteString(i.Op.String())
	switch i.Op {
	case OpBra:
		if i.Uniform {
			b.WriteString(".uni")
		}
		b.WriteByte(' ')
		if i.Label != "" {
			b.WriteString(i.Label)
		} else {
			b.WriteString(strconv.Itoa(i.Target))
		}
	case OpAdd:
		if i.Amount != 1 {
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(i.Amount))
		}
	}
	return b.String()
}

// Program is an assembled kernel.
type Program struct {
	// Name is the kernel name from the .kernel directive.
	Name string
	// Version is the canonical ISA version the kernel was written against.
	Version string
	// Instructions are indexed by PC.
	Instructions []Instruction
	// Labels maps label names to PCs.
	Labels map[string]int
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Instructions) }

// At returns the instruction at pc.
func (p *Program) At(pc int) (Instruction, bool) {
	if pc < 0 || pc >= len(p.Instructions) {
		return Instruction{}, false
	}
	return p.Instructions[pc], true
}

// Validate checks PC numbering and branch targets.
func (p *Program) Validate() error {
	if len(p.Instructions) == 0 {
		return fmt.Errorf("kernel %q: empty program", p.Name)
	}
	for pc, in := range p.Instructions {
		if in.PC != pc {
			return fmt.Errorf("kernel %q: instruction %d has pc %d", p.Name, pc, in.PC)
		}
		if in.Op == OpBra && (in.Target < 0 || in.Target >= len(p.Instructions)) {
			return fmt.Errorf("kernel %q: pc %d: branch target %d out of range", p.Name, pc, in.Target)
		}
	}
	last := p.Instructions[len(p.Instructions)-1]
	if last.Op != OpExit && !(last.Op == OpBra && last.Guard == nil) {
		return fmt.Errorf("kernel %q: pc %d: program must end with an unguarded exit or branch", p.Name, last.PC)
	}
	if last.Op == OpExit && last.Guard != nil {
		return fmt.Errorf("kernel %q: pc %d: final exit must be unguarded", p.Name, last.PC)
	}
	return nil
}

// Builder assembles a Program in code, mostly for tests.
//
// Example:
//
//	p := isa.NewBuilder("diverge").
//		BraIf(isa.TidLess(2), "taken").
//		Nop().
//		Bra("join").
//		Label("taken").Nop().
//		Label("join").Reconverge().
//		Exit().
//		MustBuild()
type Builder struct {
	prog    Program
	pending []int // indices of branches with unresolved labels
}

// NewBuilder starts a program with the given kernel name.
func NewBuilder(name string) *Builder {
	return &Builder{prog: Program{Name: name, Version: SupportedVersion, Labels: map[string]int{}}}
}

func (b *Builder) emit(in Instruction) *Builder {
	in.PC = len(b.prog.Instructions)
	b.prog.Instructions = append(b.prog.Instructions, in)
	return b
}

// Label binds name to the next instruction's PC.
func (b *Builder) Label(name string) *Builder {
	b.prog.Labels[name] = len(b.prog.Instructions)
	return b
}

// Nop appends a nop.
func (b *Builder) Nop() *Builder { return b.emit(Instruction{Op: OpNop}) }

// Add appends an unguarded add of 1.
func (b *Builder) Add() *Builder { return b.emit(Instruction{Op: OpAdd, Amount: 1}) }

// Bar appends a barrier.
func (b *Builder) Bar() *Builder { return b.emit(Instruction{Op: OpBar}) }

// Reconverge appends a reconvergence marker.
func (b *Builder) Reconverge() *Builder { return b.emit(Instruction{Op: OpReconverge}) }

// Exit appends an unguarded exit.
func (b *Builder) Exit() *Builder { return b.emit(Instruction{Op: OpExit}) }

// ExitIf appends a guarded exit.
func (b *Builder) ExitIf(p Predicate) *Builder {
	return b.emit(Instruction{Op: OpExit, Guard: &p})
}

// Bra appends an unguarded (uniform) branch to label.
func (b *Builder) Bra(label string) *Builder {
	b.pending = append(b.pending, len(b.prog.Instructions))
	return b.emit(Instruction{Op: OpBra, Label: label, Uniform: true})
}

// BraIf appends a guarded branch to label.
func (b *Builder) BraIf(p Predicate, label string) *Builder {
	b.pending = append(b.pending, len(b.prog.Instructions))
	return b.emit(Instruction{Op: OpBra, Guard: &p, Label: label})
}

// Build resolves labels and validates the program.
func (b *Builder) Build() (*Program, error) {
	for _, idx := range b.pending {
		in := &b.prog.Instructions[idx]
		pc, ok := b.prog.Labels[in.Label]
		if !ok {
			return nil, fmt.Errorf("kernel %q: pc %d: undefined label %q", b.prog.Name, idx, in.Label)
		}
		in.Target = pc
	}
	p := b.prog
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Program {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

// TidLess returns the predicate tid<n.
func TidLess(n int) Predicate {
	return Predicate{LHS: Term{Reg: RegTid}, Cmp: CmpLt, RHS: Term{Const: n}}
}

// TidEq returns the predicate tid==n.
func TidEq(n int) Predicate {
	return Predicate{LHS: Term{Reg: RegTid}, Cmp: CmpEq, RHS: Term{Const: n}}
}

// CounterLessTid returns the predicate c<tid, the usual data-dependent loop guard.
func CounterLessTid() Predicate {
	return Predicate{LHS: Term{Reg: RegCounter}, Cmp: CmpLt, RHS: Term{Reg: RegTid}}
}

// EndPC is the PC sentinel past the end of every program.
//
// It is the reconvergence point of paths that only meet at kernel exit.
const EndPC = 1<<31 - 1
