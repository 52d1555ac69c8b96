package mpm

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/blas/blas32"
)

// Benchmark partial-grid reduction with a scalar loop
func BenchmarkReduceScalar(b *testing.B) {
	partials := benchPartials(4, 45)

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		dst := partials[0]
		for w := 1; w < len(partials); w++ {
			for i, v := range partials[w] {
				dst[i] += v
			}
		}
	}
}

// Benchmark partial-grid reduction with blas32
func BenchmarkReduceBLAS(b *testing.B) {
	partials := benchPartials(4, 45)

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		reducePartials(partials, len(partials))
	}
}

func benchPartials(workers, res int) [][]float32 {
	size := res * res * res * accStride
	partials := make([][]float32, workers)
	for w := range partials {
		partials[w] = make([]float32, size)
		for i := range partials[w] {
			partials[w][i] = float32(i%97) * 0.001
		}
	}
	return partials
}

func TestReducePartialsMatchesScalarSum(t *testing.T) {
	partials := benchPartials(3, 6)
	want := make([]float32, len(partials[0]))
	for _, p := range partials {
		for i, v := range p {
			want[i] += v
		}
	}

	reducePartials(partials, 3)
	got := blas32.Vector{N: len(partials[0]), Inc: 1, Data: partials[0]}
	for i := range want {
		if d := got.Data[i] - want[i]; d > 1e-6 || d < -1e-6 {
			t.Fatalf("index %d: got %v, want %v", i, got.Data[i], want[i])
		}
	}
}

func benchmarkStep(b *testing.B, workers int) {
	p := DefaultParams()
	p.Workers = workers
	s, err := New(p, rand.New(rand.NewSource(1)))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	s.Initialize(Lattice{Extents: [3]int{25, 16, 16}, Spacing: 0.5, VelocitySpread: 1})

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		s.StepDefault()
	}
}

func BenchmarkStepSerial(b *testing.B)   { benchmarkStep(b, 1) }
func BenchmarkStepParallel(b *testing.B) { benchmarkStep(b, 0) }
