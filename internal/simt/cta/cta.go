// Package cta executes kernels on simulated warps.
//
// A CooperativeThreadArray is the executing unit around one reconvergence
// engine: it owns the per-thread register file, evaluates guard predicates
// into masks, applies instruction side effects and drives the engine one
// instruction at a time. A Grid launches several independent warps of one
// kernel in parallel.
package cta

import (
	"context"
	"errors"
	"fmt"

	"github.com/kolkov/reconvergence/internal/simt/isa"
	"github.com/kolkov/reconvergence/internal/simt/mask"
	"github.com/kolkov/reconvergence/internal/simt/reconverge"
	"github.com/kolkov/reconvergence/internal/simt/trace"
)

// ErrStepLimit is returned when a warp runs past Config.MaxSteps.
var ErrStepLimit = errors.New("step limit exceeded")

// checkEvery is how many instructions run between cancellation checks.
const checkEvery = 256

// Config configures a warp.
type Config struct {
	// Engine selects the reconvergence mechanism.
	Engine reconverge.Type

	// Threads is the warp width.
	// Default: 32.
	Threads int

	// MaxSteps bounds the instructions one warp may execute. Zero means
	// the default; negative means unbounded.
	// Default: 1,000,000.
	MaxSteps int

	// MaxStackDepth bounds the divergence stack; zero means one entry per
	// thread.
	MaxStackDepth int

	// Trace receives engine events, tagged with the warp id. Nil discards.
	Trace trace.Sink
}

// DefaultConfig returns the default warp configuration.
func DefaultConfig() Config {
	return Config{
		Engine:   reconverge.IPDOM,
		Threads:  32,
		MaxSteps: 1_000_000,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Threads == 0 {
		c.Threads = def.Threads
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.Trace == nil {
		c.Trace = trace.Discard
	}
	return c
}

// Result summarises one warp's run.
type Result struct {
	Warp int
	// Counters holds each thread's counter register at exit.
	Counters []int
	Stats    reconverge.Stats
}

// CooperativeThreadArray runs one warp of a kernel.
//
// It is not safe for concurrent use; a Grid gives every warp its own.
type CooperativeThreadArray struct {
	id       int
	prog     *isa.Program
	config   Config
	engine   *reconverge.Engine
	counters []int
}

// New creates warp id for prog. kernel supplies the control-flow metadata
// the engine needs; it may be nil for mechanisms that do not use it.
func New(id int, prog *isa.Program, kernel reconverge.Kernel, config Config) (*CooperativeThreadArray, error) {
	config = config.normalize()
	engine, err := reconverge.NewWithOptions(config.Engine, config.Threads, kernel, reconverge.Options{
		MaxStackDepth: config.MaxStackDepth,
		Sink:          warpSink{warp: id, next: config.Trace},
	})
	if err != nil {
		return nil, fmt.Errorf("warp %d: %w", id, err)
	}
	return &CooperativeThreadArray{
		id:       id,
		prog:     prog,
		config:   config,
		engine:   engine,
		counters: make([]int, config.Threads),
	}, nil
}

// ID returns the warp id.
func (c *CooperativeThreadArray) ID() int { return c.id }

// Engine returns the warp's reconvergence engine.
func (c *CooperativeThreadArray) Engine() *reconverge.Engine { return c.engine }

// Counters returns a copy of the counter registers.
func (c *CooperativeThreadArray) Counters() []int {
	return append([]int(nil), c.counters...)
}

// Reset prepares the warp for another launch.
func (c *CooperativeThreadArray) Reset() {
	c.engine.Initialize()
	for i := range c.counters {
		c.counters[i] = 0
	}
}

// guard evaluates in's guard predicate for the lanes of active.
func (c *CooperativeThreadArray) guard(in isa.Instruction, active mask.Mask) mask.Mask {
	if !in.Guarded() {
		return active
	}
	return mask.FromFunc(c.config.Threads, func(lane int) bool {
		return active.Has(lane) && in.Guard.Eval(lane, c.counters[lane])
	})
}

// Step executes the instruction at the selected context's PC. It returns
// false once the warp has terminated.
func (c *CooperativeThreadArray) Step() (bool, error) {
	ctx := c.engine.Context()
	in, ok := c.prog.At(ctx.PC)
	if !ok {
		return false, fmt.Errorf("warp %d: pc %d outside kernel %q", c.id, ctx.PC, c.prog.Name)
	}
	pred := c.guard(in, ctx.Active)

	var err error
	switch in.Op {
	case isa.OpBra:
		_, err = c.engine.EvalBra(in, pred, ctx.Active.Difference(pred))
	case isa.OpBar:
		err = c.engine.EvalBar(in)
	case isa.OpReconverge:
		err = c.engine.EvalReconverge(in)
	case isa.OpExit:
		err = c.engine.EvalExit(in, c.engine.EvalPredicate(in, pred))
	case isa.OpAdd:
		c.engine.EvalPredicate(in, pred).ForEach(func(lane int) {
			c.counters[lane] += in.Amount
		})
	}
	if err != nil {
		return false, fmt.Errorf("warp %d: %w", c.id, err)
	}

	more, err := c.engine.NextInstruction(in)
	if err != nil {
		return false, fmt.Errorf("warp %d: %w", c.id, err)
	}
	return more, nil
}

// Run executes the warp until every thread exits, an engine error, the step
// limit or cancellation of ctx.
func (c *CooperativeThreadArray) Run(ctx context.Context) (Result, error) {
	for steps := 0; ; steps++ {
		if c.config.MaxSteps > 0 && steps >= c.config.MaxSteps {
			return c.result(), fmt.Errorf("warp %d: %w after %d instructions", c.id, ErrStepLimit, steps)
		}
		if steps%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return c.result(), fmt.Errorf("warp %d: %w", c.id, err)
			}
		}
		more, err := c.Step()
		if err != nil {
			return c.result(), err
		}
		if !more {
			return c.result(), nil
		}
	}
}

func (c *CooperativeThreadArray) result() Result {
	return Result{Warp: c.id, Counters: c.Counters(), Stats: c.engine.Stats()}
}

// warpSink tags events with the emitting warp.
type warpSink struct {
	warp int
	next trace.Sink
}

func (s warpSink) Emit(ev trace.Event) {
	ev.Warp = s.warp
	s.next.Emit(ev)
}
