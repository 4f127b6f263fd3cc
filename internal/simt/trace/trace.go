// Package trace carries the event stream produced by the reconvergence
// engines: branch divergence, barrier arrival and release, reconvergence and
// thread exit, each with the affected thread mask and the PC.
//
// Engines emit to a Sink. Recorder keeps events for reports and tests,
// Counter only tallies them, and Sampler forwards one event in N to keep
// long traces small.
package trace

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/reconvergence/internal/simt/mask"
)

// Kind identifies a trace event.
type Kind uint8

const (
	// Divergence is a branch that split the active mask.
	Divergence Kind = iota
	// BarrierArrival is a context reaching a barrier and waiting.
	BarrierArrival
	// BarrierRelease is a barrier whose obligated threads all arrived.
	BarrierRelease
	// Reconvergence is diverged contexts merging back into one.
	Reconvergence
	// Exit is threads leaving the kernel.
	Exit

	numKinds
)

// String returns the event name used in reports.
func (k Kind) String() string {
	switch k {
	case Divergence:
		return "divergence"
	case BarrierArrival:
		return "barrier-arrival"
	case BarrierRelease:
		return "barrier-release"
	case Reconvergence:
		return "reconvergence"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is one control-flow event.
type Event struct {
	Kind   Kind
	Active mask.Mask
	PC     int

	// Warp is the emitting warp, filled in by the executing unit.
	Warp int
	// Depth is the stack size after the event.
	Depth int
}

// Sink consumes events. Engines call Emit synchronously from the warp's
// driving loop; sinks shared between warps must be safe for concurrent use.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Recorder stores events in order of arrival.
//
// Thread Safety: safe for concurrent Emit from several warps.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends ev.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = r.events[:0]
	r.mu.Unlock()
}

// Counter tallies events by kind without storing them.
//
// Thread Safety: safe for concurrent use.
type Counter struct {
	counts [numKinds]uint64
}

// Emit counts ev.
func (c *Counter) Emit(ev Event) {
	if ev.Kind < numKinds {
		atomic.AddUint64(&c.counts[ev.Kind], 1)
	}
}

// Count returns the number of events of kind k.
func (c *Counter) Count(k Kind) uint64 {
	if k >= numKinds {
		return 0
	}
	return atomic.LoadUint64(&c.counts[k])
}

// Total returns the number of events of all kinds.
func (c *Counter) Total() uint64 {
	var n uint64
	for k := Kind(0); k < numKinds; k++ {
		n += c.Count(k)
	}
	return n
}

// Tee forwards every event to each sink in turn.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ev Event) {
		for _, s := range sinks {
			s.Emit(ev)
		}
	})
}
