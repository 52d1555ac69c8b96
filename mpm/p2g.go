package mpm

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// minPressure keeps the equation of state from producing strong attraction.
// Compression is left unclamped.
const minPressure = -0.1

// Pressure evaluates the Tait-style equation of state for a local density.
func (p Params) Pressure(density float32) float32 {
	ratio := float64(density / p.RestDensity)
	pressure := p.EOSStiffness * (float32(math.Pow(ratio, float64(p.EOSPower))) - 1)
	return max(minPressure, pressure)
}

// scatterMass deposits mass and APIC momentum of particles [i0, i1) into acc.
func (s *Simulation) scatterMass(acc []float32, i0, i1 int) {
	res := s.grid.Res
	mass := s.params.ParticleMass

	var st stencil
	for i := i0; i < i1; i++ {
		p := &s.particles[i]
		st.compute(p.Pos, res)

		for k := 0; k < stencilSize; k++ {
			q := p.C.Mul3x1(st.dist[k])
			contrib := st.weight[k] * mass

			j := st.index[k] * accStride
			acc[j] += contrib * (p.Vel[0] + q[0])
			acc[j+1] += contrib * (p.Vel[1] + q[1])
			acc[j+2] += contrib * (p.Vel[2] + q[2])
			acc[j+3] += contrib
		}
	}
}

// scatterStress reads the accumulated grid mass to estimate each particle's
// density, then deposits the pressure (and optional viscous) stress impulse
// into acc. Grid mass must be complete before this runs.
func (s *Simulation) scatterStress(acc []float32, i0, i1 int, dt float32) {
	res := s.grid.Res
	cells := s.grid.Cells
	params := &s.params

	var st stencil
	for i := i0; i < i1; i++ {
		p := &s.particles[i]
		st.compute(p.Pos, res)

		var density float32
		for k := 0; k < stencilSize; k++ {
			density += cells[st.index[k]].Mass * st.weight[k]
		}
		s.densities[i] = density

		volume := params.ParticleMass / density
		pressure := params.Pressure(density)
		stress := mgl32.Diag3(mgl32.Vec3{-pressure, -pressure, -pressure})
		if params.DynamicViscosity > 0 {
			stress = stress.Add(strainRate(p.C).Mul(params.DynamicViscosity))
		}

		term0 := stress.Mul(-volume * 4 * dt)

		for k := 0; k < stencilSize; k++ {
			momentum := term0.Mul(st.weight[k]).Mul3x1(st.dist[k])

			j := st.index[k] * accStride
			acc[j] += momentum[0]
			acc[j+1] += momentum[1]
			acc[j+2] += momentum[2]
		}
	}
}

// strainRate symmetrises the off-diagonal shear of the affine field:
// each off-diagonal pair is replaced by its sum, the diagonal is kept.
func strainRate(c mgl32.Mat3) mgl32.Mat3 {
	strain := c
	for r := 0; r < 3; r++ {
		for col := r + 1; col < 3; col++ {
			shear := c.At(r, col) + c.At(col, r)
			strain.Set(r, col, shear)
			strain.Set(col, r, shear)
		}
	}
	return strain
}
