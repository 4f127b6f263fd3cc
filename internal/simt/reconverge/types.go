package reconverge

import (
	"fmt"
	"strings"

	"github.com/kolkov/reconvergence/internal/simt/trace"
)

// Type selects a reconvergence mechanism.
type Type uint8

const (
	// IPDOM reconverges at the immediate post-dominator of each divergent
	// branch and schedules the divergence stack LIFO.
	IPDOM Type = iota
	// Barrier reconverges only at barriers (and where stacked paths meet).
	Barrier
	// TFGen6 is the dynamic thread-frontier mechanism: lowest PC first,
	// merge on PC coincidence.
	TFGen6
	// TFSortedStack keeps the IPDOM stack sorted by PC, lowest on top.
	TFSortedStack
	// Unknown is returned by ParseType on failure.
	Unknown
)

var typeNames = [...]string{
	IPDOM:         "ipdom",
	Barrier:       "barrier",
	TFGen6:        "tf-gen6",
	TFSortedStack: "tf-sorted-stack",
	Unknown:       "unknown",
}

// String returns the mechanism name accepted by ParseType.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Types lists the implemented mechanisms.
func Types() []Type { return []Type{IPDOM, Barrier, TFGen6, TFSortedStack} }

// ParseType parses a mechanism name, case-insensitively.
//
// Besides the String forms it accepts "tfgen6", "gen6", "sorted",
// "sortedstack" and "tf-sorted".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ipdom":
		return IPDOM, nil
	case "barrier":
		return Barrier, nil
	case "tf-gen6", "tfgen6", "gen6":
		return TFGen6, nil
	case "tf-sorted-stack", "tf-sorted", "sortedstack", "sorted":
		return TFSortedStack, nil
	}
	return Unknown, fmt.Errorf("unknown reconvergence mechanism %q (want ipdom, barrier, tf-gen6 or tf-sorted-stack)", s)
}

// State is the engine's run state.
type State uint8

const (
	// Running: some context can be selected.
	Running State = iota
	// BarrierWait: at least one context waits at a barrier.
	BarrierWait
	// Terminated: every thread exited.
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case BarrierWait:
		return "barrier-wait"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Kernel is the static control-flow metadata of the running kernel.
//
// *cfg.Graph implements it.
type Kernel interface {
	// EntryPC is the PC of the first instruction.
	EntryPC() int
	// ReconvergencePC returns where threads diverging at the branch at
	// branchPC reconverge, or divergence.Terminal for kernel exit.
	ReconvergencePC(branchPC int) (int, error)
	// IsReconvergencePoint reports whether pc is a reconvergence target.
	IsReconvergencePoint(pc int) bool
}

// Options configures an engine.
type Options struct {
	// MaxStackDepth bounds the number of pending contexts.
	// Default (0): the thread count, the natural bound.
	MaxStackDepth int

	// Sink receives trace events. Default: trace.Discard.
	Sink trace.Sink
}

// Stats counts engine activity since the last Initialize.
type Stats struct {
	Steps           uint64
	Divergences     uint64
	Reconvergences  uint64
	BarrierReleases uint64
	ExitedThreads   uint64
	MaxDepth        int
}
