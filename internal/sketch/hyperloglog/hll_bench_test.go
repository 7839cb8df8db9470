package hyperloglog

import (
	"crypto/rand"
	"fmt"
	"testing"
)

/*
 * Micro-benchmarks for the hybrid sketch.
 *
 * These benchmarks measure the raw cost of the sketch operations in
 * isolation. The interesting numbers are the sparse insertions, where every
 * Add may move the tail of the list or rewrite it, and the dense ones, which
 * touch a single packed register.
 *
 * Run with: go test -bench=. -benchmem ./internal/sketch/hyperloglog/
 */

/*
 * Generates a slice of random byte slices for use in benchmarks.
 * Each element is 16 bytes of cryptographically random data, which ensures
 * a uniform distribution of hash values across the register space.
 */
func generateRandomElements(count int) [][]byte {
	elements := make([][]byte, count)
	for i := 0; i < count; i++ {
		elements[i] = make([]byte, 16)
		_, _ = rand.Read(elements[i])
	}
	return elements
}

/*
 * Benchmarks Add while the sketch holds a fixed-width list of the widest
 * codes: a binary search and a tail move per insertion.
 */
func BenchmarkSketch_Add_SparseFixed(b *testing.B) {
	elements := generateRandomElements(b.N)

	b.ResetTimer()
	b.ReportAllocs()

	s := New()
	for i := 0; i < b.N; i++ {
		s.Add(elements[i%len(elements)])

		/* The default buffer holds 3072 fixed 32-bit codes. Reset well
		 * before that to stay in fixed mode. */
		if i%2000 == 1999 {
			s.Reset()
		}
	}
}

/*
 * Benchmarks Add while the list is gap coded at the minimal width: every
 * insertion decodes the stream up to its position and splices one gap.
 */
func BenchmarkSketch_Add_SparseGap(b *testing.B) {
	/*
	 * DESIGN
	 * ------
	 *
	 * We fill a sketch until it reaches the minimal width and keep a
	 * serialized copy of that state. The benchmark restores the copy
	 * whenever the sketch materializes, outside the timer.
	 */
	s := New()
	for _, elem := range generateRandomElements(1 << 16) {
		s.Add(elem)
		if s.Width() == s.Codec().MinimalWidth() {
			break
		}
	}
	if !s.IsSparse() {
		b.Skip("sketch materialized before reaching the minimal width")
	}
	snapshot := s.Serialize()
	elements := generateRandomElements(b.N)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		s.Add(elements[i])
		if !s.IsSparse() {
			b.StopTimer()
			s, _ = Deserialize(snapshot)
			b.StartTimer()
		}
	}
}

/*
 * Benchmarks Add in dense mode: one hash, one packed register read and at
 * most one write plus the summary update.
 */
func BenchmarkSketch_Add_Dense(b *testing.B) {
	s := New()
	for _, elem := range generateRandomElements(100000) {
		s.Add(elem)
	}
	if s.IsSparse() {
		b.Fatal("sketch should be dense after setup")
	}

	elements := generateRandomElements(b.N)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		s.Add(elements[i])
	}
}

/*
 * Benchmarks Count on a dense sketch. The summary is maintained on every
 * Add, so this is the cost of the Ertl formula alone.
 */
func BenchmarkSketch_Count_Dense(b *testing.B) {
	s := New()
	for _, elem := range generateRandomElements(100000) {
		s.Add(elem)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		s.Count()
	}
}

/*
 * Benchmarks Count on a sparse sketch, which walks the whole list.
 */
func BenchmarkSketch_Count_Sparse(b *testing.B) {
	s := New()
	for _, elem := range generateRandomElements(2000) {
		s.Add(elem)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		s.Count()
	}
}

/*
 * Benchmarks the union of two dense sketches through the pooled
 * accumulator.
 */
func BenchmarkUnion_Dense(b *testing.B) {
	x, y := New(), New()
	for _, elem := range generateRandomElements(100000) {
		x.Add(elem)
	}
	for _, elem := range generateRandomElements(100000) {
		y.Add(elem)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, _ = UnionCardinality(x, y)
	}
}

/*
 * Benchmarks the CachedCount fast path.
 */
func BenchmarkCachedCount(b *testing.B) {
	s := New()
	for _, elem := range generateRandomElements(100) {
		s.Add(elem)
	}
	data := s.Serialize()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		CachedCount(data)
	}
}

/*
 * Benchmarks Add with varying cardinalities to show the cost of every
 * representation change on the way.
 */
func BenchmarkSketch_Add_Scaling(b *testing.B) {
	cardinalities := []int{100, 1000, 10000, 100000}

	for _, card := range cardinalities {
		b.Run(fmt.Sprintf("cardinality_%d", card), func(b *testing.B) {
			elements := generateRandomElements(card)

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				s := New()
				for _, elem := range elements {
					s.Add(elem)
				}
			}
		})
	}
}
