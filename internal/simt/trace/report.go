package trace

import (
	"fmt"
	"io"
	"strings"
)

// Report summarises the trace of one kernel launch.
type Report struct {
	// Kernel is the kernel name.
	Kernel string
	// Engine is the reconvergence mechanism name.
	Engine string
	// Threads is the warp width, used to render masks.
	Threads int
	// Events are the recorded events, possibly sampled.
	Events []Event
	// Totals counts every emitted event, sampled or not. Nil counts Events.
	Totals *Counter
	// SampleRate is the 1-in-N rate Events were sampled at; 0 or 1 means
	// unsampled.
	SampleRate uint64
}

func (r *Report) totals() *Counter {
	if r.Totals != nil {
		return r.Totals
	}
	c := &Counter{}
	for _, ev := range r.Events {
		c.Emit(ev)
	}
	return c
}

// MaxDepth returns the deepest divergence stack seen in the trace.
func (r *Report) MaxDepth() int {
	depth := 0
	for _, ev := range r.Events {
		depth = max(depth, ev.Depth)
	}
	return depth
}

// Format writes the report:
//
//	==================
//	TRACE: kernel diverge (ipdom, 4 threads)
//	  warp 0  pc 0     divergence       1100  depth 2
//	  warp 0  pc 4     reconvergence    1111  depth 1
//	  warp 0  pc 5     exit             1111  depth 0
//
//	Summary: 3 events, max depth 2
//	  divergence: 1, reconvergence: 1, exit: 1
//	==================
//
// A sampled report notes the rate in the header and counts every emitted
// event in the summary, e.g. "Summary: 6 events (3 shown), max depth 2".
//
//nolint:errcheck // Error handling omitted for report output formatting
func (r *Report) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "TRACE: kernel %s (%s, %d threads", r.Kernel, r.Engine, r.Threads)
	if r.SampleRate > 1 {
		fmt.Fprintf(w, ", sampled 1 in %d", r.SampleRate)
	}
	fmt.Fprintf(w, ")\n")

	for _, ev := range r.Events {
		fmt.Fprintf(w, "  warp %-2d pc %-5d %-16s %s  depth %d\n",
			ev.Warp, ev.PC, ev.Kind, ev.Active.Bits(r.Threads), ev.Depth)
	}
	if len(r.Events) == 0 {
		fmt.Fprintf(w, "  (no events)\n")
	}

	fmt.Fprintf(w, "\n")
	totals := r.totals()
	fmt.Fprintf(w, "Summary: %d events", totals.Total())
	if shown := uint64(len(r.Events)); shown != totals.Total() {
		fmt.Fprintf(w, " (%d shown)", shown)
	}
	fmt.Fprintf(w, ", max depth %d\n", r.MaxDepth())
	parts := make([]string, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		if n := totals.Count(k); n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", k, n))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(w, "==================\n")
}

// String returns the formatted report.
func (r *Report) String() string {
	var buf strings.Builder
	r.Format(&buf)
	return buf.String()
}
