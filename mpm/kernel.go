package mpm

import "github.com/go-gl/mathgl/mgl32"

// stencilSize is the number of cells a particle touches (3x3x3).
const stencilSize = 27

// QuadraticWeights returns the per-axis quadratic B-spline weights for the
// lower, centre and upper neighbour of a particle whose offset from its
// containing cell centre is diff (each component in [-0.5, 0.5]).
func QuadraticWeights(diff mgl32.Vec3) [3]mgl32.Vec3 {
	var w [3]mgl32.Vec3
	for a := 0; a < 3; a++ {
		d := diff[a]
		lo := 0.5 - d
		hi := 0.5 + d
		w[0][a] = 0.5 * lo * lo
		w[1][a] = 0.75 - d*d
		w[2][a] = 0.5 * hi * hi
	}
	return w
}

// CellDiff returns the particle's offset from the centre of the cell that
// contains it, along with that cell's integer coordinates.
func CellDiff(pos mgl32.Vec3) (cell [3]int, diff mgl32.Vec3) {
	for a := 0; a < 3; a++ {
		cell[a] = int(pos[a])
		diff[a] = pos[a] - float32(cell[a]) - 0.5
	}
	return cell, diff
}

// stencil caches the 27 neighbour cells of one particle: flat index,
// combined interpolation weight and the vector from particle to cell centre.
type stencil struct {
	index  [stencilSize]int
	weight [stencilSize]float32
	dist   [stencilSize]mgl32.Vec3
}

// compute fills the stencil for a particle at pos on a grid of resolution res.
// No bounds checks: pos must satisfy the [1, res-2] clamp invariant.
func (s *stencil) compute(pos mgl32.Vec3, res int) {
	cell, diff := CellDiff(pos)
	w := QuadraticWeights(diff)
	res2 := res * res

	k := 0
	for gx := 0; gx < 3; gx++ {
		x := cell[0] + gx - 1
		for gy := 0; gy < 3; gy++ {
			y := cell[1] + gy - 1
			wxy := w[gx][0] * w[gy][1]
			for gz := 0; gz < 3; gz++ {
				z := cell[2] + gz - 1
				s.index[k] = x + y*res + z*res2
				s.weight[k] = wxy * w[gz][2]
				s.dist[k] = mgl32.Vec3{
					float32(x) - pos[0] + 0.5,
					float32(y) - pos[1] + 0.5,
					float32(z) - pos[2] + 0.5,
				}
				k++
			}
		}
	}
}
