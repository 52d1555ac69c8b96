package mpm

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// Phase names reported to the phase hook, in pipeline order.
const (
	PhaseClear      = "clear"
	PhaseP2GMass    = "p2g_mass"
	PhaseP2GStress  = "p2g_stress"
	PhaseGridUpdate = "grid_update"
	PhaseG2P        = "g2p"
)

// Simulation owns the particle store and the grid.
// It is not safe for concurrent use; Step parallelises internally.
type Simulation struct {
	params Params
	rng    *rand.Rand

	grid      *Grid
	particles []Particle
	densities []float32
	snapshot  []Vertex

	// per-slot accumulation buffers, accStride floats per cell
	partials [][]float32
	pool     *workerPool

	lattices  []Lattice
	tick      int64
	phaseHook func(phase string)
}

// New validates params and allocates the grid. The grid is never resized.
func New(params Params, rng *rand.Rand) (*Simulation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	pool := newWorkerPool(params.Workers)
	s := &Simulation{
		params:   params,
		rng:      rng,
		grid:     NewGrid(params.GridResolution),
		pool:     pool,
		partials: make([][]float32, pool.numWorkers),
	}
	return s, nil
}

// Initialize discards all particles and seeds one per lattice point of every
// given lattice. Safe to call between any two steps.
func (s *Simulation) Initialize(lattices ...Lattice) {
	s.lattices = append(s.lattices[:0], lattices...)

	total := 0
	for _, l := range lattices {
		total += l.Count()
	}

	particles := make([]Particle, 0, total)
	for _, l := range lattices {
		particles = s.seedLattice(particles, l)
	}
	s.setParticles(particles)
}

// Reset re-seeds from the lattices passed to the last Initialize call.
func (s *Simulation) Reset() {
	s.Initialize(s.lattices...)
}

// Load replaces the particle store with a copy of particles.
// Positions are clamped into the valid range; non-finite values are rejected.
func (s *Simulation) Load(particles []Particle) error {
	for i := range particles {
		p := &particles[i]
		if !finiteVec(p.Pos) || !finiteVec(p.Vel) {
			return fmt.Errorf("loading particle %d: non-finite state pos=%v vel=%v", i, p.Pos, p.Vel)
		}
	}
	cp := make([]Particle, len(particles))
	copy(cp, particles)
	s.setParticles(cp)
	return nil
}

func (s *Simulation) setParticles(particles []Particle) {
	lo, hi := float32(1), float32(s.grid.Res-2)
	for i := range particles {
		for a := 0; a < 3; a++ {
			particles[i].Pos[a] = mgl32.Clamp(particles[i].Pos[a], lo, hi)
		}
	}
	s.particles = particles
	s.densities = make([]float32, len(particles))
	s.snapshot = s.snapshot[:0]
}

// seedLattice appends the particles of one lattice block.
func (s *Simulation) seedLattice(dst []Particle, l Lattice) []Particle {
	center := l.Center
	if center == (mgl32.Vec3{}) {
		half := float32(s.grid.Res) / 2
		center = mgl32.Vec3{half, half, half}
	}

	nx, ny, nz := l.pointsAlong(l.Extents[0]), l.pointsAlong(l.Extents[1]), l.pointsAlong(l.Extents[2])
	// centre the occupied span, not the nominal extent
	origin := mgl32.Vec3{
		center[0] - float32(nx-1)*l.Spacing/2,
		center[1] - float32(ny-1)*l.Spacing/2,
		center[2] - float32(nz-1)*l.Spacing/2,
	}
	spread := l.VelocitySpread

	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 0; k < nz; k++ {
				pos := origin.Add(mgl32.Vec3{float32(i), float32(j), float32(k)}.Mul(l.Spacing))
				var vel mgl32.Vec3
				if spread > 0 {
					vel[0] = (s.rng.Float32()*2 - 1) * spread
					vel[2] = (s.rng.Float32()*2 - 1) * spread
				}
				dst = append(dst, Particle{Pos: pos, Vel: vel})
			}
		}
	}
	return dst
}

// SetPhaseHook registers a callback invoked as each stage begins.
func (s *Simulation) SetPhaseHook(fn func(phase string)) {
	s.phaseHook = fn
}

func (s *Simulation) phase(name string) {
	if s.phaseHook != nil {
		s.phaseHook(name)
	}
}

// Step advances the simulation by one tick of length dt.
func (s *Simulation) Step(dt float32) {
	n := len(s.particles)
	cells := s.grid.Len()

	s.phase(PhaseClear)
	s.pool.run(cells, func(_, i0, i1 int) {
		s.grid.clearRange(i0, i1)
	})

	s.phase(PhaseP2GMass)
	s.scatter(n, func(acc []float32, i0, i1 int) {
		s.scatterMass(acc, i0, i1)
	})

	s.phase(PhaseP2GStress)
	s.scatter(n, func(acc []float32, i0, i1 int) {
		s.scatterStress(acc, i0, i1, dt)
	})

	s.phase(PhaseGridUpdate)
	gravity := s.params.Gravity
	s.pool.run(cells, func(_, i0, i1 int) {
		s.grid.updateRange(i0, i1, dt, gravity)
	})

	s.phase(PhaseG2P)
	s.pool.run(n, func(_, i0, i1 int) {
		s.gather(i0, i1, dt)
	})

	s.tick++
}

// StepDefault advances one tick using the configured time step.
func (s *Simulation) StepDefault() {
	s.Step(s.params.DT)
}

// scatter runs a particle-to-grid pass: every slot accumulates into its own
// zeroed buffer, the buffers are summed in slot order, and the sum is added
// to the cells.
func (s *Simulation) scatter(n int, fn func(acc []float32, i0, i1 int)) {
	if n == 0 {
		return
	}
	size := s.grid.Len() * accStride
	used := s.pool.chunks(n)
	for w := 0; w < used; w++ {
		if len(s.partials[w]) != size {
			s.partials[w] = make([]float32, size)
		}
	}

	s.pool.run(n, func(slot, i0, i1 int) {
		acc := s.partials[slot]
		clear(acc)
		fn(acc, i0, i1)
	})

	reducePartials(s.partials, used)
	total := s.partials[0]
	s.pool.run(s.grid.Len(), func(_, i0, i1 int) {
		s.grid.addRange(total, i0, i1)
	})
}

// ParticleSnapshot copies positions and velocities into a reused buffer.
// The returned slice is valid until the next call.
func (s *Simulation) ParticleSnapshot() []Vertex {
	if cap(s.snapshot) < len(s.particles) {
		s.snapshot = make([]Vertex, len(s.particles))
	}
	s.snapshot = s.snapshot[:len(s.particles)]
	for i := range s.particles {
		p := &s.particles[i]
		s.snapshot[i] = Vertex{Pos: p.Pos, Vel: p.Vel}
	}
	return s.snapshot
}

// Particles exposes the particle store. Callers must not retain it across
// Initialize or Load.
func (s *Simulation) Particles() []Particle {
	return s.particles
}

// Densities returns the per-particle density from the last stress pass.
func (s *Simulation) Densities() []float32 {
	return s.densities
}

// Grid exposes the cell lattice as left by the last step.
func (s *Simulation) Grid() *Grid {
	return s.grid
}

// Params returns the constants the simulation was built with.
func (s *Simulation) Params() Params {
	return s.params
}

// Lattices returns the blocks used by the last Initialize call.
func (s *Simulation) Lattices() []Lattice {
	return s.lattices
}

// Tick returns the number of completed steps.
func (s *Simulation) Tick() int64 {
	return s.tick
}

// SetTick overrides the step counter, used when restoring snapshots.
func (s *Simulation) SetTick(tick int64) {
	s.tick = tick
}

// KineticEnergy returns 0.5 * m * |v|^2 summed over particles.
func (s *Simulation) KineticEnergy() float64 {
	var e float64
	for i := range s.particles {
		v := s.particles[i].Vel
		e += float64(v.Dot(v))
	}
	return 0.5 * float64(s.params.ParticleMass) * e
}

// Momentum returns total particle momentum.
func (s *Simulation) Momentum() mgl32.Vec3 {
	var sum [3]float64
	for i := range s.particles {
		v := s.particles[i].Vel
		sum[0] += float64(v[0])
		sum[1] += float64(v[1])
		sum[2] += float64(v[2])
	}
	m := float64(s.params.ParticleMass)
	return mgl32.Vec3{float32(sum[0] * m), float32(sum[1] * m), float32(sum[2] * m)}
}

// Close stops the worker goroutines. The simulation may still be stepped;
// workers restart on demand.
func (s *Simulation) Close() {
	s.pool.stop()
}

func finiteVec(v mgl32.Vec3) bool {
	for a := 0; a < 3; a++ {
		f := float64(v[a])
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
