// Package mpm implements an MLS-MPM (moving least squares material point
// method) fluid step: particles carrying an APIC affine velocity field are
// transferred to a regular grid, the grid is advanced, and velocities are
// gathered back onto the particles once per tick.
package mpm

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Particle is a single Lagrangian point mass.
type Particle struct {
	Pos mgl32.Vec3 // grid-space position, truncation gives the containing cell
	Vel mgl32.Vec3
	C   mgl32.Mat3 // affine velocity field, rebuilt by every gather pass
}

// Cell is one lattice point of the background grid.
// Vel holds momentum while particles scatter and velocity after the grid update.
type Cell struct {
	Vel   mgl32.Vec3
	Mass  float32
	Index uint32 // own flat index: x + y*R + z*R*R
}

// Vertex is the interleaved position/velocity record handed to renderers.
type Vertex struct {
	Pos [3]float32
	Vel [3]float32
}

// Params holds the physical and numerical constants of one simulation.
// A Simulation copies its Params at construction; they never change afterwards.
type Params struct {
	DT               float32
	Gravity          float32 // acceleration along +Y (negative pulls down)
	ParticleMass     float32
	RestDensity      float32
	EOSStiffness     float32
	EOSPower         float32
	DynamicViscosity float32 // 0 disables the viscous stress term
	Damping          float32 // velocity multiplier applied after each gather

	GridResolution int
	WallMin        float32 // soft wall margin, inside [1, R-2]
	WallMax        float32

	Workers int // 0 = GOMAXPROCS, 1 = run every pass inline
}

// DefaultParams returns the constants of the reference fluid scene.
func DefaultParams() Params {
	const res = 45
	return Params{
		DT:             0.3,
		Gravity:        -0.3,
		ParticleMass:   1.0,
		RestDensity:    6.0,
		EOSStiffness:   10.0,
		EOSPower:       4,
		Damping:        0.999,
		GridResolution: res,
		WallMin:        3,
		WallMax:        res - 4,
	}
}

// ErrInvalidParams is wrapped by every Validate failure.
var ErrInvalidParams = errors.New("mpm: invalid params")

// Validate reports constants that would make the step ill-defined.
func (p Params) Validate() error {
	switch {
	case p.DT <= 0:
		return fmt.Errorf("%w: dt must be positive, got %v", ErrInvalidParams, p.DT)
	case p.ParticleMass <= 0:
		return fmt.Errorf("%w: particle mass must be positive, got %v", ErrInvalidParams, p.ParticleMass)
	case p.RestDensity <= 0:
		return fmt.Errorf("%w: rest density must be positive, got %v", ErrInvalidParams, p.RestDensity)
	case p.GridResolution < 5:
		return fmt.Errorf("%w: grid resolution must be at least 5, got %d", ErrInvalidParams, p.GridResolution)
	case p.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidParams, p.Workers)
	}
	hi := float32(p.GridResolution - 2)
	if p.WallMin < 1 || p.WallMax > hi || p.WallMin >= p.WallMax {
		return fmt.Errorf("%w: wall margin [%v, %v] must lie inside [1, %v]", ErrInvalidParams, p.WallMin, p.WallMax, hi)
	}
	return nil
}

// Lattice describes a box of particles seeded on a regular lattice.
type Lattice struct {
	Extents        [3]int     // box size in grid cells per axis
	Spacing        float32    // distance between neighbouring particles
	Center         mgl32.Vec3 // zero means the grid centre
	VelocitySpread float32    // horizontal/depth velocity drawn from [-s, s]
}

// Count returns the number of particles the lattice produces.
func (l Lattice) Count() int {
	n := 1
	for _, e := range l.Extents {
		n *= l.pointsAlong(e)
	}
	return n
}

func (l Lattice) pointsAlong(extent int) int {
	if extent <= 0 || l.Spacing <= 0 {
		return 0
	}
	n := int(float32(extent) / l.Spacing)
	if float32(n)*l.Spacing < float32(extent) {
		n++
	}
	return n
}
