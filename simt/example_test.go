package simt_test

import (
	"context"
	"fmt"

	"github.com/kolkov/reconvergence/simt"
)

const diamondSrc = `
.kernel diamond
        @tid<2 bra taken
        nop
        bra join
taken:  add
join:   reconverge
        exit
`

const loopSrc = `
.kernel loop
top:    add
        @c<tid bra top
        exit
`

// Example runs a divergent kernel on one 4-thread warp.
func Example() {
	prog, err := simt.Assemble("diamond", diamondSrc)
	if err != nil {
		fmt.Println(err)
		return
	}

	opts := simt.DefaultRunOptions()
	opts.Engine = simt.TFGen6
	opts.Threads = 4
	results, err := simt.Run(context.Background(), prog, opts)
	if err != nil {
		fmt.Println(err)
		return
	}

	r := results[0]
	fmt.Println("counters", r.Counters)
	fmt.Printf("divergences %d, reconvergences %d\n", r.Stats.Divergences, r.Stats.Reconvergences)

	// Output:
	// counters [1 1 0 0]
	// divergences 1, reconvergences 1
}

// Example_engine drives an engine by hand, supplying branch outcomes.
func Example_engine() {
	prog, _ := simt.Assemble("diamond", diamondSrc)
	g, _ := simt.Analyze(prog)
	e, err := simt.NewEngine(simt.IPDOM, 4, g)
	if err != nil {
		fmt.Println(err)
		return
	}

	bra, _ := prog.At(0)
	diverged, _ := e.EvalBra(bra, simt.MaskOf(0, 1), simt.MaskOf(2, 3))
	ctx := e.Context()
	fmt.Println(diverged, e.StackSize(), ctx.Active, ctx.PC)

	// Output:
	// true 2 {0,1} 3
}

// Example_compare runs one data-dependent loop under every mechanism.
func Example_compare() {
	prog, _ := simt.Assemble("loop", loopSrc)
	for _, t := range simt.Engines() {
		opts := simt.DefaultRunOptions()
		opts.Engine = t
		opts.Threads = 4
		results, err := simt.Run(context.Background(), prog, opts)
		if err != nil {
			fmt.Println(t, err)
			continue
		}
		s := results[0].Stats
		fmt.Printf("%s: %d divergences, %d reconvergences, max depth %d\n",
			t, s.Divergences, s.Reconvergences, s.MaxDepth)
	}

	// Output:
	// ipdom: 2 divergences, 1 reconvergences, max depth 3
	// barrier: 2 divergences, 2 reconvergences, max depth 2
	// tf-gen6: 2 divergences, 2 reconvergences, max depth 2
	// tf-sorted-stack: 2 divergences, 1 reconvergences, max depth 3
}
