package mpm

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSim builds a small simulation (R=16) with the reference constants.
func newTestSim(t *testing.T, mutate func(p *Params)) *Simulation {
	t.Helper()
	p := DefaultParams()
	p.GridResolution = 16
	p.WallMin = 3
	p.WallMax = 12
	p.Workers = 1
	if mutate != nil {
		mutate(&p)
	}
	s, err := New(p, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// noForces disables stress, gravity and damping so transfers are pure PIC.
func noForces(p *Params) {
	p.EOSStiffness = 0
	p.Gravity = 0
	p.Damping = 1
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"zero dt", func(p *Params) { p.DT = 0 }},
		{"negative mass", func(p *Params) { p.ParticleMass = -1 }},
		{"zero rest density", func(p *Params) { p.RestDensity = 0 }},
		{"tiny grid", func(p *Params) { p.GridResolution = 4 }},
		{"wall below clamp", func(p *Params) { p.WallMin = 0.5 }},
		{"wall above clamp", func(p *Params) { p.WallMax = float32(p.GridResolution) }},
		{"inverted walls", func(p *Params) { p.WallMin, p.WallMax = 10, 5 }},
		{"negative workers", func(p *Params) { p.Workers = -2 }},
	}

	require.NoError(t, DefaultParams().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParams))

			_, err = New(p, nil)
			assert.Error(t, err)
		})
	}
}

func TestPressureClampsOnlyBelow(t *testing.T) {
	p := DefaultParams()

	assert.InDelta(t, minPressure, p.Pressure(0.01), 1e-6, "near-empty neighbourhood is clamped")
	assert.InDelta(t, 0, p.Pressure(p.RestDensity), 1e-5)
	// (2)^4 - 1 = 15, no upper clamp
	assert.InDelta(t, 150, p.Pressure(2*p.RestDensity), 1e-3)
	assert.Greater(t, p.Pressure(11*p.RestDensity), float32(1e5))
}

func TestInitializeSeedsLattice(t *testing.T) {
	s := newTestSim(t, nil)
	l := Lattice{Extents: [3]int{4, 4, 4}, Spacing: 1, VelocitySpread: 2}

	s.Initialize(l)
	require.Len(t, s.Particles(), 64)
	assert.Equal(t, 64, l.Count())

	var centroid mgl32.Vec3
	for _, p := range s.Particles() {
		assert.Equal(t, mgl32.Mat3{}, p.C)
		assert.Equal(t, float32(0), p.Vel[1], "vertical velocity starts at zero")
		assert.LessOrEqual(t, math.Abs(float64(p.Vel[0])), 2.0)
		assert.LessOrEqual(t, math.Abs(float64(p.Vel[2])), 2.0)
		for a := 0; a < 3; a++ {
			assert.GreaterOrEqual(t, p.Pos[a], float32(6.5))
			assert.LessOrEqual(t, p.Pos[a], float32(9.5))
		}
		centroid = centroid.Add(p.Pos)
	}
	centroid = centroid.Mul(1.0 / 64)
	for a := 0; a < 3; a++ {
		assert.InDelta(t, 8.0, centroid[a], 1e-5, "block centred in the grid on axis %d", a)
	}

	// Re-initializing mid-run replaces the store instead of appending.
	s.StepDefault()
	s.Initialize(l, Lattice{Extents: [3]int{2, 2, 2}, Spacing: 0.5, Center: mgl32.Vec3{4, 4, 4}})
	assert.Len(t, s.Particles(), 64+64)
	assert.Len(t, s.Densities(), 128)

	s.Reset()
	assert.Len(t, s.Particles(), 128)
}

func TestMassConservedWhenInterior(t *testing.T) {
	s := newTestSim(t, nil)
	s.Initialize(Lattice{Extents: [3]int{4, 4, 4}, Spacing: 0.5, VelocitySpread: 1})
	n := len(s.Particles())

	var massAfterScatter float64
	s.SetPhaseHook(func(phase string) {
		if phase == PhaseP2GStress {
			massAfterScatter = s.Grid().TotalMass()
		}
	})
	s.StepDefault()

	want := float64(n) * float64(s.Params().ParticleMass)
	assert.InDelta(t, want, massAfterScatter, 1e-3*want)
	// The grid update does not touch mass.
	assert.InDelta(t, want, s.Grid().TotalMass(), 1e-3*want)
}

func TestPICTransferWithoutAffineOrForces(t *testing.T) {
	s := newTestSim(t, noForces)
	rng := rand.New(rand.NewSource(3))

	particles := make([]Particle, 30)
	for i := range particles {
		particles[i] = Particle{
			Pos: mgl32.Vec3{7 + rng.Float32()*2, 7 + rng.Float32()*2, 7 + rng.Float32()*2},
			Vel: mgl32.Vec3{rng.Float32()*0.2 - 0.1, rng.Float32()*0.2 - 0.1, rng.Float32()*0.2 - 0.1},
		}
	}
	require.NoError(t, s.Load(particles))
	s.StepDefault()

	var st stencil
	for i, before := range particles {
		st.compute(before.Pos, s.Grid().Res)
		var want mgl32.Vec3
		for k := 0; k < stencilSize; k++ {
			want = want.Add(s.Grid().Cells[st.index[k]].Vel.Mul(st.weight[k]))
		}
		got := s.Particles()[i].Vel
		for a := 0; a < 3; a++ {
			assert.InDelta(t, want[a], got[a], 1e-5, "particle %d axis %d", i, a)
		}
	}
}

func TestSingleParticleKeepsVelocity(t *testing.T) {
	s := newTestSim(t, noForces)
	v := mgl32.Vec3{0.3, -0.2, 0.1}
	require.NoError(t, s.Load([]Particle{{Pos: mgl32.Vec3{8.2, 7.6, 8.9}, Vel: v}}))

	s.StepDefault()

	got := s.Particles()[0].Vel
	for a := 0; a < 3; a++ {
		assert.InDelta(t, v[a], got[a], 1e-5)
	}
	// A uniform velocity has no gradient.
	for _, c := range s.Particles()[0].C {
		assert.InDelta(t, 0, c, 1e-5)
	}
}

func TestPositionsStayClamped(t *testing.T) {
	s := newTestSim(t, nil)
	rng := rand.New(rand.NewSource(11))
	res := float32(s.Grid().Res)

	particles := make([]Particle, 200)
	for i := range particles {
		particles[i] = Particle{
			Pos: mgl32.Vec3{rng.Float32()*(res+20) - 10, rng.Float32()*(res+20) - 10, rng.Float32()*(res+20) - 10},
			Vel: mgl32.Vec3{rng.Float32()*100 - 50, rng.Float32()*100 - 50, rng.Float32()*100 - 50},
		}
	}
	require.NoError(t, s.Load(particles))

	for step := 0; step < 3; step++ {
		s.StepDefault()
		for i, p := range s.Particles() {
			for a := 0; a < 3; a++ {
				if p.Pos[a] < 1 || p.Pos[a] > res-2 {
					t.Fatalf("step %d particle %d axis %d at %v outside [1, %v]", step, i, a, p.Pos[a], res-2)
				}
			}
		}
	}
}

func TestLoadRejectsNonFinite(t *testing.T) {
	s := newTestSim(t, nil)
	nan := float32(math.NaN())
	err := s.Load([]Particle{{Pos: mgl32.Vec3{5, nan, 5}}})
	assert.Error(t, err)

	inf := float32(math.Inf(1))
	err = s.Load([]Particle{{Pos: mgl32.Vec3{5, 5, 5}, Vel: mgl32.Vec3{inf, 0, 0}}})
	assert.Error(t, err)
}

func TestSoftWallSlowsWithoutReversing(t *testing.T) {
	s := newTestSim(t, nil)
	before := mgl32.Vec3{-2, 0, 0}
	require.NoError(t, s.Load([]Particle{{Pos: mgl32.Vec3{s.Params().WallMin + 1.5, 8.5, 8.5}, Vel: before}}))

	s.StepDefault()

	after := s.Particles()[0].Vel
	assert.Less(t, after[0], float32(0), "velocity must still point into the wall")
	assert.Less(t, math.Abs(float64(after[0])), math.Abs(float64(before[0])))
}

func TestFallingBlockScenario(t *testing.T) {
	s := newTestSim(t, nil)
	s.Initialize(Lattice{Extents: [3]int{4, 4, 4}, Spacing: 1})
	res := float32(s.Grid().Res)

	s.Step(0.3)

	var meanVY float64
	for i, p := range s.Particles() {
		for a := 0; a < 3; a++ {
			f := float64(p.Pos[a])
			require.False(t, math.IsNaN(f) || math.IsInf(f, 0), "particle %d non-finite", i)
			assert.GreaterOrEqual(t, p.Pos[a], float32(0))
			assert.LessOrEqual(t, p.Pos[a], res-1)
		}
		meanVY += float64(p.Vel[1])
	}
	meanVY /= float64(len(s.Particles()))
	assert.Less(t, meanVY, 0.0, "particles should be falling")
	assert.Equal(t, int64(1), s.Tick())
}

func TestOpposingParticlesCancelOnGrid(t *testing.T) {
	s := newTestSim(t, func(p *Params) { p.EOSStiffness = 0 })
	a := Particle{Pos: mgl32.Vec3{8.3, 8.5, 8.5}, Vel: mgl32.Vec3{1, 0, 0}}
	b := Particle{Pos: mgl32.Vec3{8.7, 8.5, 8.5}, Vel: mgl32.Vec3{-1, 0, 0}}
	require.NoError(t, s.Load([]Particle{a, b}))

	s.StepDefault()

	var sa, sb stencil
	sa.compute(a.Pos, s.Grid().Res)
	sb.compute(b.Pos, s.Grid().Res)
	for k := 0; k < stencilSize; k++ {
		require.Equal(t, sa.index[k], sb.index[k], "particles share a neighbourhood")
		wa, wb := sa.weight[k], sb.weight[k]
		cell := s.Grid().Cells[sa.index[k]]

		want := (wa*a.Vel[0] + wb*b.Vel[0]) / (wa + wb)
		assert.InDelta(t, want, cell.Vel[0], 1e-5, "cell %d", sa.index[k])
		assert.Less(t, math.Abs(float64(cell.Vel[0])), 1.0, "velocities partially cancel")
		assert.InDelta(t, (wa+wb)*s.Params().ParticleMass, cell.Mass, 1e-6)
	}
}

func TestStepIsDeterministic(t *testing.T) {
	run := func(workers int) []Particle {
		s := newTestSim(t, func(p *Params) { p.Workers = workers })
		s.Initialize(Lattice{Extents: [3]int{6, 6, 6}, Spacing: 1, VelocitySpread: 1})
		for i := 0; i < 5; i++ {
			s.StepDefault()
		}
		out := make([]Particle, len(s.Particles()))
		copy(out, s.Particles())
		return out
	}

	first := run(4)
	second := run(4)
	require.Equal(t, first, second, "same worker count must be bit-identical")

	serial := run(1)
	require.Len(t, serial, len(first))
	for i := range serial {
		for a := 0; a < 3; a++ {
			assert.InDelta(t, serial[i].Pos[a], first[i].Pos[a], 1e-3)
			assert.InDelta(t, serial[i].Vel[a], first[i].Vel[a], 1e-3)
		}
	}
}

func TestViscosityTermStaysFinite(t *testing.T) {
	s := newTestSim(t, func(p *Params) { p.DynamicViscosity = 0.1 })
	s.Initialize(Lattice{Extents: [3]int{4, 4, 4}, Spacing: 0.5, VelocitySpread: 1})
	for i := 0; i < 10; i++ {
		s.StepDefault()
	}
	for _, p := range s.Particles() {
		assert.True(t, finiteVec(p.Pos))
		assert.True(t, finiteVec(p.Vel))
	}
}

func TestStrainRateSymmetrisesShear(t *testing.T) {
	var c mgl32.Mat3
	c.Set(0, 0, 1)
	c.Set(0, 1, 2)
	c.Set(1, 0, 3)
	c.Set(2, 1, -1)

	s := strainRate(c)
	assert.Equal(t, float32(1), s.At(0, 0))
	assert.Equal(t, float32(5), s.At(0, 1))
	assert.Equal(t, float32(5), s.At(1, 0))
	assert.Equal(t, float32(-1), s.At(1, 2))
	assert.Equal(t, float32(-1), s.At(2, 1))
}

func TestParticleSnapshotMirrorsStore(t *testing.T) {
	s := newTestSim(t, nil)
	s.Initialize(Lattice{Extents: [3]int{2, 3, 4}, Spacing: 1, VelocitySpread: 1})
	s.StepDefault()

	snap := s.ParticleSnapshot()
	require.Len(t, snap, 24)
	for i, p := range s.Particles() {
		assert.Equal(t, [3]float32(p.Pos), snap[i].Pos)
		assert.Equal(t, [3]float32(p.Vel), snap[i].Vel)
	}

	assert.InDelta(t, s.KineticEnergy(), kineticFromSnapshot(snap, s.Params().ParticleMass), 1e-4)
}

func kineticFromSnapshot(snap []Vertex, mass float32) float64 {
	var e float64
	for _, v := range snap {
		for a := 0; a < 3; a++ {
			e += float64(v.Vel[a]) * float64(v.Vel[a])
		}
	}
	return 0.5 * float64(mass) * e
}

func TestWorkerPanicReachesCaller(t *testing.T) {
	pool := newWorkerPool(4)
	defer pool.stop()

	assert.PanicsWithValue(t, "boom", func() {
		pool.run(1000, func(slot, start, end int) {
			if slot == 2 {
				panic("boom")
			}
		})
	})

	// the pool stays usable after a failed run
	var covered [4]int
	used := pool.run(1000, func(slot, start, end int) {
		covered[slot] = end - start
	})
	assert.Equal(t, 4, used)
	assert.Equal(t, 1000, covered[0]+covered[1]+covered[2]+covered[3])
}

func TestNonFinitePositionPanicsWithIndex(t *testing.T) {
	s := newTestSim(t, nil)
	// far enough apart that the stencils do not overlap
	require.NoError(t, s.Load([]Particle{
		{Pos: mgl32.Vec3{4.5, 4.5, 4.5}},
		{Pos: mgl32.Vec3{11.5, 11.5, 11.5}},
	}))
	nan := float32(math.NaN())
	s.Particles()[1].Vel = mgl32.Vec3{nan, nan, nan}

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		s.StepDefault()
	}()

	require.NotNil(t, recovered, "stepping a NaN velocity must panic")
	assert.Contains(t, fmt.Sprint(recovered), "particle 1 ")
}
