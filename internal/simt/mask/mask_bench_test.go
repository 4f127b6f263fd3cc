package mask

import "testing"

// BenchmarkUnion measures the merge operation used on every reconvergence.
func BenchmarkUnion(b *testing.B) {
	x := Full(MaxThreads / 2)
	y := Full(MaxThreads).Difference(x)

	b.ReportAllocs()
	b.ResetTimer()

	var m Mask
	for i := 0; i < b.N; i++ {
		m = x.Union(y)
	}
	_ = m
}

// BenchmarkCount measures popcount used for barrier arrival accounting.
func BenchmarkCount(b *testing.B) {
	m := FromFunc(MaxThreads, func(l int) bool { return l%3 == 0 })

	b.ReportAllocs()
	b.ResetTimer()

	n := 0
	for i := 0; i < b.N; i++ {
		n += m.Count()
	}
	_ = n
}
