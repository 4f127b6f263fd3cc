package mask

import (
	"reflect"
	"testing"
)

// TestFull tests construction of full masks across word boundaries.
func TestFull(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"zero", 0, 0},
		{"negative", -3, 0},
		{"warp of 4", 4, 4},
		{"one word", 64, 64},
		{"word boundary plus one", 65, 65},
		{"warp of 32", 32, 32},
		{"max", MaxThreads, MaxThreads},
		{"clamped", MaxThreads + 10, MaxThreads},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Full(tt.n)
			if got := m.Count(); got != tt.want {
				t.Errorf("Full(%d).Count() = %d, want %d", tt.n, got, tt.want)
			}
			if tt.want > 0 && !m.Has(tt.want-1) {
				t.Errorf("Full(%d) missing lane %d", tt.n, tt.want-1)
			}
			if m.Has(tt.want) {
				t.Errorf("Full(%d) has lane %d", tt.n, tt.want)
			}
		})
	}
}

// TestAlgebra tests union, intersection and difference on small masks.
func TestAlgebra(t *testing.T) {
	a := Of(0, 1, 2)
	b := Of(2, 3)

	if got := a.Union(b); !got.Equal(Of(0, 1, 2, 3)) {
		t.Errorf("Union = %s, want {0,1,2,3}", got)
	}
	if got := a.Intersect(b); !got.Equal(Of(2)) {
		t.Errorf("Intersect = %s, want {2}", got)
	}
	if got := a.Difference(b); !got.Equal(Of(0, 1)) {
		t.Errorf("Difference = %s, want {0,1}", got)
	}
	if a.Disjoint(b) {
		t.Error("Disjoint({0,1,2}, {2,3}) = true, want false")
	}
	if !Of(0, 1).Disjoint(Of(2, 3)) {
		t.Error("Disjoint({0,1}, {2,3}) = false, want true")
	}
	if !Of(1).SubsetOf(a) {
		t.Error("SubsetOf({1}, {0,1,2}) = false, want true")
	}
	if b.SubsetOf(a) {
		t.Error("SubsetOf({2,3}, {0,1,2}) = true, want false")
	}

	// Receivers are values: operands must be unchanged.
	if !a.Equal(Of(0, 1, 2)) || !b.Equal(Of(2, 3)) {
		t.Errorf("operands mutated: a=%s b=%s", a, b)
	}
}

// TestSetClearHas tests per-lane updates, including out-of-range lanes.
func TestSetClearHas(t *testing.T) {
	var m Mask
	if !m.IsEmpty() {
		t.Fatal("zero Mask is not empty")
	}

	m = m.Set(5).Set(700)
	if !m.Has(5) || !m.Has(700) {
		t.Errorf("Set lanes missing: %s", m)
	}
	m = m.Clear(5)
	if m.Has(5) {
		t.Error("Clear(5) left lane 5 set")
	}

	// Out of range lanes are ignored.
	m2 := m.Set(-1).Set(MaxThreads)
	if !m2.Equal(m) {
		t.Errorf("out-of-range Set changed mask: %s", m2)
	}
	if m.Has(-1) || m.Has(MaxThreads) {
		t.Error("Has reported out-of-range lane")
	}
}

// TestIteration tests First, ForEach and Lanes ordering.
func TestIteration(t *testing.T) {
	m := Of(130, 3, 64, 0)

	if got := m.First(); got != 0 {
		t.Errorf("First() = %d, want 0", got)
	}
	if got := (Mask{}).First(); got != -1 {
		t.Errorf("empty First() = %d, want -1", got)
	}

	want := []int{0, 3, 64, 130}
	if got := m.Lanes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lanes() = %v, want %v", got, want)
	}

	var seen []int
	m.ForEach(func(l int) { seen = append(seen, l) })
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("ForEach order = %v, want %v", seen, want)
	}
}

// TestFromFunc tests predicate-driven construction.
func TestFromFunc(t *testing.T) {
	even := FromFunc(8, func(l int) bool { return l%2 == 0 })
	if !even.Equal(Of(0, 2, 4, 6)) {
		t.Errorf("FromFunc(even) = %s, want {0,2,4,6}", even)
	}
}

// TestString tests the textual renderings used in traces and errors.
func TestString(t *testing.T) {
	tests := []struct {
		m    Mask
		str  string
		bits string
	}{
		{Mask{}, "{}", "0000"},
		{Of(0, 1), "{0,1}", "1100"},
		{Of(2, 3), "{2,3}", "0011"},
		{Full(4), "{0,1,2,3}", "1111"},
	}

	for _, tt := range tests {
		if got := tt.m.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
		if got := tt.m.Bits(4); got != tt.bits {
			t.Errorf("Bits(4) = %q, want %q", got, tt.bits)
		}
	}

	if got := Of(1000).String(); got != "{1000}" {
		t.Errorf("String() = %q, want {1000}", got)
	}
}
