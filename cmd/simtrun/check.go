// check.go implements the 'simtrun check' command.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kolkov/reconvergence/simt"
)

// checkCommand implements the 'simtrun check' command.
//
// It prints the basic blocks, their successors and immediate
// post-dominators, and the reconvergence point of every guarded branch.
// Irreducible kernels are reported but are not an error: only the IPDOM
// and sorted-stack mechanisms reject them.
//
// Example:
//
//	simtrun check kernel.s
func checkCommand(args []string) {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Error: check takes exactly one kernel file\n")
		os.Exit(1)
	}
	if err := checkKernel(args[0], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

//nolint:errcheck // Error handling omitted for report output formatting
func checkKernel(path string, w io.Writer) error {
	prog, err := simt.AssembleFile(path)
	if err != nil {
		return err
	}
	g, err := simt.Analyze(prog)
	if err != nil {
		return err
	}
	g.Dump(w)

	fmt.Fprintf(w, "\nbranches:\n")
	for _, in := range prog.Instructions {
		if !in.IsBranch() || !in.Guarded() {
			continue
		}
		pc, err := g.ReconvergencePC(in.PC)
		switch {
		case errors.Is(err, simt.ErrIrreducible):
			fmt.Fprintf(w, "  pc %-4d %-24s reconverge: unknown (irreducible)\n", in.PC, in)
		case err != nil:
			return err
		case pc == simt.EndPC:
			fmt.Fprintf(w, "  pc %-4d %-24s reconverge: exit\n", in.PC, in)
		default:
			fmt.Fprintf(w, "  pc %-4d %-24s reconverge: pc %d\n", in.PC, in, pc)
		}
	}
	return nil
}
