package mpm

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestQuadraticWeightsSumToOne(t *testing.T) {
	diffs := []mgl32.Vec3{
		{0, 0, 0},
		{-0.5, -0.5, -0.5},
		{0.5, 0.5, 0.5},
		{-0.5, 0.25, 0.49},
		{0.1, -0.3, 0.2},
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		diffs = append(diffs, mgl32.Vec3{
			rng.Float32() - 0.5,
			rng.Float32() - 0.5,
			rng.Float32() - 0.5,
		})
	}

	for _, d := range diffs {
		w := QuadraticWeights(d)
		var sum float32
		for gx := 0; gx < 3; gx++ {
			for gy := 0; gy < 3; gy++ {
				for gz := 0; gz < 3; gz++ {
					sum += w[gx][0] * w[gy][1] * w[gz][2]
				}
			}
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "diff %v", d)
	}
}

func TestQuadraticWeightsCentred(t *testing.T) {
	w := QuadraticWeights(mgl32.Vec3{})
	for a := 0; a < 3; a++ {
		assert.InDelta(t, 0.125, w[0][a], 1e-7)
		assert.InDelta(t, 0.75, w[1][a], 1e-7)
		assert.InDelta(t, 0.125, w[2][a], 1e-7)
	}
}

func TestStencilMatchesGridIndexing(t *testing.T) {
	g := NewGrid(10)
	pos := mgl32.Vec3{4.3, 5.7, 2.5}

	var st stencil
	st.compute(pos, g.Res)

	var sum float32
	var firstMoment mgl32.Vec3
	for k := 0; k < stencilSize; k++ {
		x, y, z := g.Coords(st.index[k])
		assert.True(t, x >= 3 && x <= 5, "x=%d", x)
		assert.True(t, y >= 4 && y <= 6, "y=%d", y)
		assert.True(t, z >= 1 && z <= 3, "z=%d", z)

		want := mgl32.Vec3{float32(x) - pos[0] + 0.5, float32(y) - pos[1] + 0.5, float32(z) - pos[2] + 0.5}
		assert.InDelta(t, want[0], st.dist[k][0], 1e-6)
		assert.InDelta(t, want[1], st.dist[k][1], 1e-6)
		assert.InDelta(t, want[2], st.dist[k][2], 1e-6)

		sum += st.weight[k]
		firstMoment = firstMoment.Add(st.dist[k].Mul(st.weight[k]))
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	// The quadratic kernel reproduces linear functions, so the weighted
	// offsets cancel.
	for a := 0; a < 3; a++ {
		assert.InDelta(t, 0, firstMoment[a], 1e-5)
	}
}

func TestGridIndexRoundTrip(t *testing.T) {
	g := NewGrid(7)
	if g.Len() != 7*7*7 {
		t.Fatalf("expected %d cells, got %d", 7*7*7, g.Len())
	}
	for z := 0; z < g.Res; z++ {
		for y := 0; y < g.Res; y++ {
			for x := 0; x < g.Res; x++ {
				i := g.Index(x, y, z)
				if int(g.Cells[i].Index) != i {
					t.Fatalf("cell %d stores index %d", i, g.Cells[i].Index)
				}
				gx, gy, gz := g.Coords(i)
				if gx != x || gy != y || gz != z {
					t.Fatalf("Coords(%d) = (%d,%d,%d), want (%d,%d,%d)", i, gx, gy, gz, x, y, z)
				}
			}
		}
	}
}

func TestGridUpdateZeroesWallComponents(t *testing.T) {
	g := NewGrid(8)
	corner := g.Index(0, 3, 7)
	inner := g.Index(3, 3, 3)
	empty := g.Index(4, 4, 4)

	for _, i := range []int{corner, inner} {
		g.Cells[i].Mass = 2
		g.Cells[i].Vel = mgl32.Vec3{2, 4, 6}
	}
	g.updateRange(0, g.Len(), 0.5, -1)

	c := g.Cells[corner]
	assert.Equal(t, float32(0), c.Vel[0], "x wall")
	assert.InDelta(t, 2-0.5, c.Vel[1], 1e-6)
	assert.Equal(t, float32(0), c.Vel[2], "z wall")

	in := g.Cells[inner]
	assert.InDelta(t, 1, in.Vel[0], 1e-6)
	assert.InDelta(t, 1.5, in.Vel[1], 1e-6)
	assert.InDelta(t, 3, in.Vel[2], 1e-6)

	assert.Equal(t, mgl32.Vec3{}, g.Cells[empty].Vel)
}
