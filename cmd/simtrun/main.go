// Package main implements the simtrun CLI tool.
//
// simtrun assembles a SIMT kernel, analyses its control flow and runs it
// on simulated warps under one of the reconvergence mechanisms:
//
//  1. Assemble the kernel source (.s)
//  2. Build the control-flow graph and post-dominator tree
//  3. Launch the requested warps, each with its own engine
//  4. Print per-warp results and, optionally, the event trace
//
// Usage:
//
//	simtrun run -engine tf-gen6 -threads 4 kernel.s
//	simtrun check kernel.s
//	simtrun engines
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/reconvergence/simt"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "run":
		runCommand(os.Args[2:])
	case "check":
		checkCommand(os.Args[2:])
	case "engines":
		enginesCommand()
	case "version", "--version", "-v":
		info := simt.GetInfo()
		fmt.Printf("simtrun version %s (ISA %s)\n", info.Version, info.ISAVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`simtrun - SIMT divergence/reconvergence simulator

USAGE:
    simtrun <command> [arguments]

COMMANDS:
    run        Run a kernel on simulated warps
    check      Print the kernel's control-flow analysis
    engines    List the reconvergence mechanisms
    version    Show version information
    help       Show this help message

RUN FLAGS:
    -engine NAME     Reconvergence mechanism (default ipdom)
    -threads N       Threads per warp (default 32)
    -warps N         Number of warps (default 1)
    -max-steps N     Instruction limit per warp (default 1000000)
    -max-depth N     Divergence stack bound (default: one per thread)
    -trace           Print the event trace
    -sample N        Print 1 in N trace events
    -counters        Print every thread's counter register

EXAMPLES:
    # Run a kernel with the default IPDOM mechanism
    simtrun run examples/kernels/diamond.s

    # Compare thread-frontier reconvergence on 4 threads, with trace
    simtrun run -engine tf-gen6 -threads 4 -trace examples/kernels/nested.s

    # Show basic blocks and immediate post-dominators
    simtrun check examples/kernels/loop.s

`)
}

// enginesCommand implements the 'simtrun engines' command.
func enginesCommand() {
	for _, t := range simt.Engines() {
		fmt.Printf("%-16s %s\n", t, simt.DescribeEngine(t))
	}
}
