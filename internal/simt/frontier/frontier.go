// Package frontier tracks the per-thread program counters of a warp.
//
// The thread-frontier reconvergence engine does not precompute where
// diverged threads meet. Instead it keeps the PC of every thread and always
// runs the threads with the lowest PC first; threads whose PCs then coincide
// are merged back into one context. PCVector is that per-thread PC table.
//
// Key operations:
//   - SetMask: move every thread of a context to a new PC
//   - Min: the frontier, i.e. the lowest PC among a set of threads
//   - Coincide: threads of a set sitting at a given PC
package frontier

import "github.com/kolkov/reconvergence/internal/simt/mask"

// Exited is the PC recorded for threads that left the kernel.
const Exited = 1<<31 - 1

// PCVector holds one program counter per thread lane.
//
// This is a fixed-size array (not a slice) so a vector lives inside the
// engine without separate allocation.
//
// Layout: [Lane0, Lane1, ..., Lane1023]
// Example: {0:4, 1:4, 2:9} means lanes 0 and 1 are at PC 4, lane 2 at PC 9.
type PCVector [mask.MaxThreads]int32

// Reset places lanes [0, threads) at pc and marks the rest Exited.
func (v *PCVector) Reset(threads, pc int) {
	for i := range v {
		if i < threads {
			v[i] = int32(pc) //nolint:gosec // G115: PCs are program indices
		} else {
			v[i] = Exited
		}
	}
}

// Get returns the PC of lane.
func (v *PCVector) Get(lane int) int { return int(v[lane]) }

// Set records pc for lane.
func (v *PCVector) Set(lane, pc int) {
	v[lane] = int32(pc) //nolint:gosec // G115: PCs are program indices
}

// SetMask records pc for every lane in m.
func (v *PCVector) SetMask(m mask.Mask, pc int) {
	m.ForEach(func(lane int) { v.Set(lane, pc) })
}

// Min returns the lowest PC among the lanes of m, or Exited when m is empty.
func (v *PCVector) Min(m mask.Mask) int {
	lowest := int32(Exited)
	m.ForEach(func(lane int) {
		if v[lane] < lowest {
			lowest = v[lane]
		}
	})
	return int(lowest)
}

// Coincide returns the lanes of m whose PC equals pc.
func (v *PCVector) Coincide(m mask.Mask, pc int) mask.Mask {
	var out mask.Mask
	m.ForEach(func(lane int) {
		if int(v[lane]) == pc {
			out = out.Set(lane)
		}
	})
	return out
}
