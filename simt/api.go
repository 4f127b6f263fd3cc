// Package simt provides the public API for the SIMT reconvergence engines.
//
// See doc.go for detailed documentation and examples.
package simt

import (
	"context"
	"fmt"

	"github.com/kolkov/reconvergence/internal/simt/cfg"
	"github.com/kolkov/reconvergence/internal/simt/cta"
	"github.com/kolkov/reconvergence/internal/simt/isa"
	"github.com/kolkov/reconvergence/internal/simt/mask"
	"github.com/kolkov/reconvergence/internal/simt/reconverge"
	"github.com/kolkov/reconvergence/internal/simt/trace"
	"github.com/kolkov/reconvergence/internal/simt/transcache"
)

// Core types.
type (
	// Program is an assembled kernel.
	Program = isa.Program
	// Instruction is one decoded kernel instruction.
	Instruction = isa.Instruction
	// Graph is a kernel's control-flow analysis; it is the Kernel the
	// engines consume.
	Graph = cfg.Graph
	// Kernel is the control-flow metadata an engine queries.
	Kernel = reconverge.Kernel
	// Engine is one warp's reconvergence engine.
	Engine = reconverge.Engine
	// EngineType selects a reconvergence mechanism.
	EngineType = reconverge.Type
	// EngineOptions tunes an engine.
	EngineOptions = reconverge.Options
	// Error is a warp-fatal engine failure.
	Error = reconverge.Error
	// WarpResult summarises one warp's run.
	WarpResult = cta.Result
	// Event is one trace event.
	Event = trace.Event
	// Sink receives trace events.
	Sink = trace.Sink
	// Mask is a set of thread lanes.
	Mask = mask.Mask
)

// MaskOf returns the mask of the given lanes.
func MaskOf(lanes ...int) Mask { return mask.Of(lanes...) }

// FullMask returns the mask of lanes [0, n).
func FullMask(n int) Mask { return mask.Full(n) }

// Reconvergence mechanisms.
const (
	IPDOM         = reconverge.IPDOM
	Barrier       = reconverge.Barrier
	TFGen6        = reconverge.TFGen6
	TFSortedStack = reconverge.TFSortedStack
)

// EndPC is the reconvergence PC of paths that only meet at kernel exit.
const EndPC = isa.EndPC

// Errors, matched with errors.Is.
var (
	ErrIrreducible            = cfg.ErrIrreducible
	ErrKernelRequired         = reconverge.ErrKernelRequired
	ErrStackOverflow          = reconverge.ErrStackOverflow
	ErrBarrierMismatch        = reconverge.ErrBarrierMismatch
	ErrUnsupportedControlFlow = reconverge.ErrUnsupportedControlFlow
	ErrInvalidReconvergePoint = reconverge.ErrInvalidReconvergePoint
	ErrInvalidBranchMask      = reconverge.ErrInvalidBranchMask
	ErrStepLimit              = cta.ErrStepLimit
)

// Assemble assembles kernel source text. name is used when the source has
// no .kernel directive.
func Assemble(name, src string) (*Program, error) {
	return isa.Assemble(name, src)
}

// AssembleFile reads and assembles a kernel source file.
func AssembleFile(path string) (*Program, error) {
	return isa.AssembleFile(path)
}

// Analyze builds the control-flow analysis of prog.
func Analyze(prog *Program) (*Graph, error) {
	return cfg.Build(prog)
}

// Engines returns every reconvergence mechanism.
func Engines() []EngineType { return reconverge.Types() }

// ParseEngine parses a mechanism name such as "ipdom" or "tf-gen6".
func ParseEngine(s string) (EngineType, error) { return reconverge.ParseType(s) }

// DescribeEngine returns a one-line description of t.
func DescribeEngine(t EngineType) string {
	switch t {
	case IPDOM:
		return "immediate post-dominator joins, LIFO stack"
	case Barrier:
		return "barrier-based, no static joins"
	case TFGen6:
		return "thread frontiers, lowest PC first"
	case TFSortedStack:
		return "post-dominator joins, stack sorted lowest PC first"
	default:
		return "unknown mechanism"
	}
}

// NewEngine creates an engine of type t for a warp of threads lanes.
//
// Example:
//
//	prog, _ := simt.Assemble("k", src)
//	g, _ := simt.Analyze(prog)
//	e, err := simt.NewEngine(simt.IPDOM, 32, g)
func NewEngine(t EngineType, threads int, kernel Kernel) (*Engine, error) {
	return reconverge.New(t, threads, kernel)
}

// RunOptions configures Run.
type RunOptions struct {
	// Engine selects the reconvergence mechanism.
	Engine EngineType
	// Threads is the warp width.
	Threads int
	// Warps is the number of independent warps to launch.
	Warps int
	// MaxSteps bounds the instructions per warp.
	MaxSteps int
	// MaxStackDepth bounds the divergence stack; zero means one per thread.
	MaxStackDepth int
	// Trace receives engine events; it must be safe for concurrent use when
	// Warps > 1. Nil discards.
	Trace Sink
}

// DefaultRunOptions returns one 32-thread IPDOM warp.
func DefaultRunOptions() RunOptions {
	def := cta.DefaultConfig()
	return RunOptions{
		Engine:   def.Engine,
		Threads:  def.Threads,
		Warps:    1,
		MaxSteps: def.MaxSteps,
	}
}

// Run executes prog on opts.Warps warps and waits for them.
//
// Results are returned for every warp, including failed ones; the error
// joins the per-warp failures.
func Run(ctx context.Context, prog *Program, opts RunOptions) ([]WarpResult, error) {
	if prog == nil {
		return nil, fmt.Errorf("run: nil program")
	}
	if opts.Warps == 0 {
		opts.Warps = 1
	}
	cache := transcache.New(transcache.FromPrograms(map[string]*isa.Program{prog.Name: prog}))
	grid := cta.NewGrid(cache, cta.Config{
		Engine:        opts.Engine,
		Threads:       opts.Threads,
		MaxSteps:      opts.MaxSteps,
		MaxStackDepth: opts.MaxStackDepth,
		Trace:         opts.Trace,
	})
	return grid.Launch(ctx, prog.Name, opts.Warps)
}
