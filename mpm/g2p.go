package mpm

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// apicScale rescales the gathered affine moment for the quadratic kernel.
const apicScale = 4

// gather pulls grid velocity back onto particles [i0, i1), rebuilds their
// affine field, integrates position and applies the wall clamp and the soft
// wall push.
func (s *Simulation) gather(i0, i1 int, dt float32) {
	res := s.grid.Res
	cells := s.grid.Cells
	damping := s.params.Damping
	wallMin, wallMax := s.params.WallMin, s.params.WallMax
	lo, hi := float32(1), float32(res-2)

	var st stencil
	for i := i0; i < i1; i++ {
		p := &s.particles[i]
		st.compute(p.Pos, res)

		var vel mgl32.Vec3
		var b mgl32.Mat3
		for k := 0; k < stencilSize; k++ {
			weighted := cells[st.index[k]].Vel.Mul(st.weight[k])
			b = b.Add(weighted.OuterProd3(st.dist[k]))
			vel = vel.Add(weighted)
		}

		p.C = b.Mul(apicScale)
		vel = vel.Mul(damping)

		pos := p.Pos.Add(vel.Mul(dt))
		for a := 0; a < 3; a++ {
			pos[a] = mgl32.Clamp(pos[a], lo, hi)
		}
		assertFinite(i, pos)
		p.Pos = pos

		next := pos.Add(vel)
		for a := 0; a < 3; a++ {
			if next[a] < wallMin {
				vel[a] += wallMin - next[a]
			}
			if next[a] > wallMax {
				vel[a] += wallMax - next[a]
			}
		}
		p.Vel = vel
	}
}

// assertFinite panics when integration produced a NaN or infinite position.
// The clamp cannot repair those, and the next scatter would index outside
// the grid.
func assertFinite(i int, pos mgl32.Vec3) {
	for a := 0; a < 3; a++ {
		v := float64(pos[a])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			panic(fmt.Sprintf("mpm: particle %d integrated to non-finite position %v", i, pos))
		}
	}
}
