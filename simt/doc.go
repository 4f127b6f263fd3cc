// Package simt simulates SIMT branch divergence and reconvergence.
//
// A warp executes one instruction stream for many threads. When threads
// disagree on a branch the warp diverges: it runs each path with a subset
// of its threads active and must later reconverge them. This package
// assembles small kernels and runs them on warps under four reconvergence
// mechanisms, so their schedules, stack depths and failure modes can be
// compared.
//
// # Quick Start
//
//	prog, err := simt.Assemble("diamond", `
//	        @tid<2 bra taken
//	        nop
//	        bra join
//	taken:  add
//	join:   reconverge
//	        exit
//	`)
//	if err != nil {
//		log.Fatal(err)
//	}
//	opts := simt.DefaultRunOptions()
//	opts.Engine = simt.TFGen6
//	results, err := simt.Run(context.Background(), prog, opts)
//
// # API Overview
//
// The package provides functions for:
//   - Kernels: [Assemble], [AssembleFile], [Analyze]
//   - Engines: [NewEngine], [Engines], [ParseEngine], [DescribeEngine]
//   - Execution: [Run], [DefaultRunOptions]
//   - Version information: [GetInfo], [Version], [Compatible], [AtLeast]
//
// # Mechanisms
//
//	ipdom            children of a divergent branch join at its immediate
//	                 post-dominator; needs a reducible control-flow graph
//	barrier          no static joins; paths merge where the stack meets
//	                 and at barriers
//	tf-gen6          the lowest-PC threads run first; threads merge as
//	                 soon as their PCs coincide
//	tf-sorted-stack  post-dominator joins on a stack sorted by PC; paths
//	                 that meet before the join merge early
//
// # Kernel Syntax
//
// One instruction per line; ';' and '//' start comments:
//
//	.version 1.2
//	.kernel  loop
//	top:    add            ; c += 1 for active threads
//	        @c<tid bra top ; guarded, possibly divergent
//	        bar            ; wait for every live thread
//	        exit
//
// Guards compare tid, the per-thread counter c, tid%N, c%N or constants.
//
// # Errors
//
// Engine failures are fatal to one warp and carry the PC and active mask;
// match them with errors.Is against [ErrBarrierMismatch],
// [ErrStackOverflow], [ErrUnsupportedControlFlow],
// [ErrInvalidReconvergePoint] and [ErrInvalidBranchMask].
//
// # Examples
//
// See package-level examples in the documentation:
//   - [Example] - Run a divergent kernel
//   - [Example_engine] - Drive an engine by hand
//   - [Example_compare] - Compare mechanisms on one kernel
package simt
