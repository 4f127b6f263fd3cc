// Package mask implements fixed-width thread masks for SIMT execution.
//
// A Mask is a bitset over thread lanes: bit i set means lane i participates
// in the operation the mask is attached to (an active set, a predicate, a
// branch outcome). Masks are immutable values; every operation returns a
// new Mask and never mutates its receiver.
//
// Key operations:
//   - Union / Intersect / Difference: set algebra used on every branch,
//     merge and exit
//   - Count: popcount, used for barrier arrival accounting
//   - Has / ForEach / Lanes: per-lane membership and iteration
//
// The backing store is a fixed-size array (not a slice) so masks can be
// copied, compared with == and stored in contexts without heap allocation.
package mask

import (
	"math/bits"
	"strings"
)

const (
	// MaxThreads is the widest warp/CTA a mask can describe.
	//
	// 1024 lanes covers the largest CTA shape supported by PTX targets.
	// Memory: 16 × 8 bytes = 128 bytes per Mask.
	MaxThreads = 1024

	wordBits = 64
	words    = MaxThreads / wordBits
)

// Mask is a fixed-width lane bitset.
//
// Layout: lane i lives in word i/64, bit i%64.
// The zero value is the empty mask.
type Mask struct {
	w [words]uint64
}

// Full returns a mask with lanes [0, n) set.
//
// n is clamped to [0, MaxThreads].
func Full(n int) Mask {
	var m Mask
	if n <= 0 {
		return m
	}
	if n > MaxThreads {
		n = MaxThreads
	}
	for i := 0; i < n/wordBits; i++ {
		m.w[i] = ^uint64(0)
	}
	if rem := n % wordBits; rem != 0 {
		m.w[n/wordBits] = (uint64(1) << rem) - 1
	}
	return m
}

// Of returns a mask with exactly the given lanes set.
// Lanes outside [0, MaxThreads) are ignored.
func Of(lanes ...int) Mask {
	var m Mask
	for _, l := range lanes {
		m = m.Set(l)
	}
	return m
}

// FromFunc returns the mask of lanes in [0, n) for which pred is true.
//
// This is how the executing unit turns per-thread register values into a
// predicate or branch-outcome mask.
func FromFunc(n int, pred func(lane int) bool) Mask {
	var m Mask
	if n > MaxThreads {
		n = MaxThreads
	}
	for l := 0; l < n; l++ {
		if pred(l) {
			m.w[l/wordBits] |= 1 << (uint(l) % wordBits)
		}
	}
	return m
}

// Set returns m with lane added.
func (m Mask) Set(lane int) Mask {
	if lane < 0 || lane >= MaxThreads {
		return m
	}
	m.w[lane/wordBits] |= 1 << (uint(lane) % wordBits)
	return m
}

// Clear returns m with lane removed.
func (m Mask) Clear(lane int) Mask {
	if lane < 0 || lane >= MaxThreads {
		return m
	}
	m.w[lane/wordBits] &^= 1 << (uint(lane) % wordBits)
	return m
}

// Has reports whether lane is a member of m.
func (m Mask) Has(lane int) bool {
	if lane < 0 || lane >= MaxThreads {
		return false
	}
	return m.w[lane/wordBits]&(1<<(uint(lane)%wordBits)) != 0
}

// Union returns m ∪ other.
func (m Mask) Union(other Mask) Mask {
	for i := range m.w {
		m.w[i] |= other.w[i]
	}
	return m
}

// Intersect returns m ∩ other.
func (m Mask) Intersect(other Mask) Mask {
	for i := range m.w {
		m.w[i] &= other.w[i]
	}
	return m
}

// Difference returns m \ other.
func (m Mask) Difference(other Mask) Mask {
	for i := range m.w {
		m.w[i] &^= other.w[i]
	}
	return m
}

// IsEmpty reports whether no lane is set.
func (m Mask) IsEmpty() bool {
	for _, w := range m.w {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of lanes set (popcount).
func (m Mask) Count() int {
	n := 0
	for _, w := range m.w {
		n += bits.OnesCount64(w)
	}
	return n
}

// Equal reports whether m and other contain the same lanes.
func (m Mask) Equal(other Mask) bool {
	return m.w == other.w
}

// SubsetOf reports whether every lane of m is also in other.
func (m Mask) SubsetOf(other Mask) bool {
	for i := range m.w {
		if m.w[i]&^other.w[i] != 0 {
			return false
		}
	}
	return true
}

// Disjoint reports whether m and other share no lane.
func (m Mask) Disjoint(other Mask) bool {
	for i := range m.w {
		if m.w[i]&other.w[i] != 0 {
			return false
		}
	}
	return true
}

// First returns the lowest lane set, or -1 for the empty mask.
func (m Mask) First() int {
	for i, w := range m.w {
		if w != 0 {
			return i*wordBits + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// ForEach calls fn for every lane in ascending order.
func (m Mask) ForEach(fn func(lane int)) {
	for i, w := range m.w {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(i*wordBits + tz)
			w &= w - 1
		}
	}
}

// Lanes returns the set lanes in ascending order.
func (m Mask) Lanes() []int {
	lanes := make([]int, 0, m.Count())
	m.ForEach(func(l int) { lanes = append(lanes, l) })
	return lanes
}

// String returns the lane list form, e.g. "{0,1,3}".
//
// Used in error messages and trace reports, not on the hot path.
func (m Mask) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	m.ForEach(func(l int) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(itoa(l))
	})
	b.WriteByte('}')
	return b.String()
}

// Bits renders lanes [0, n) lane-0-first, '1' for members: Of(0,2).Bits(4) == "1010".
func (m Mask) Bits(n int) string {
	if n > MaxThreads {
		n = MaxThreads
	}
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	for l := 0; l < n; l++ {
		if m.Has(l) {
			buf[l] = '1'
		} else {
			buf[l] = '0'
		}
	}
	return string(buf)
}

// itoa converts a non-negative int to its decimal string.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
