package telemetry

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/mpm/mpm"
)

// FluidState is the read-only view of a simulation the collector samples.
// *mpm.Simulation satisfies it.
type FluidState interface {
	Particles() []mpm.Particle
	Densities() []float32
	Grid() *mpm.Grid
	KineticEnergy() float64
	Momentum() mgl32.Vec3
}

// Collector accumulates events within time windows and produces WindowStats.
type Collector struct {
	windowDurationSec   float64
	windowDurationTicks int64
	dt                  float32

	windowStartTick int64
	resets          int

	// scratch buffers reused across flushes
	speeds    []float64
	densities []float64
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowDurationSec float64, dt float32) *Collector {
	ticksPerWindow := int64(math.Round(windowDurationSec / float64(dt)))
	if ticksPerWindow < 1 {
		ticksPerWindow = 1
	}

	return &Collector{
		windowDurationSec:   windowDurationSec,
		windowDurationTicks: ticksPerWindow,
		dt:                  dt,
	}
}

// RecordReset records a re-seed of the particle store.
func (c *Collector) RecordReset() {
	c.resets++
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// Restart moves the window start, used after restoring a snapshot.
func (c *Collector) Restart(tick int64) {
	c.windowStartTick = tick
	c.resets = 0
}

// Flush samples the fluid, produces a WindowStats and resets counters for
// the next window.
func (c *Collector) Flush(currentTick int64, fluid FluidState) WindowStats {
	particles := fluid.Particles()
	n := len(particles)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) * float64(c.dt),
		Particles:       n,
		Resets:          c.resets,
		KineticEnergy:   fluid.KineticEnergy(),
	}

	m := fluid.Momentum()
	stats.MomentumX, stats.MomentumY, stats.MomentumZ = float64(m[0]), float64(m[1]), float64(m[2])

	grid := fluid.Grid()
	stats.GridMass = grid.TotalMass()
	stats.ActiveCells = grid.ActiveCells()

	if n > 0 {
		c.speeds = c.speeds[:0]
		var centroid [3]float64
		var velY float64
		minH, maxH := math.Inf(1), math.Inf(-1)
		for i := range particles {
			p := &particles[i]
			c.speeds = append(c.speeds, float64(p.Vel.Len()))
			velY += float64(p.Vel[1])
			for a := 0; a < 3; a++ {
				centroid[a] += float64(p.Pos[a])
			}
			h := float64(p.Pos[1])
			minH = math.Min(minH, h)
			maxH = math.Max(maxH, h)
		}

		speed := Summarize(c.speeds)
		stats.SpeedMean = speed.Mean
		stats.SpeedMax = speed.Max
		stats.SpeedP10 = speed.P10
		stats.SpeedP50 = speed.P50
		stats.SpeedP90 = speed.P90

		inv := 1 / float64(n)
		stats.MeanVelY = velY * inv
		stats.CentroidX = centroid[0] * inv
		stats.CentroidY = centroid[1] * inv
		stats.CentroidZ = centroid[2] * inv
		stats.MinHeight = minH
		stats.MaxHeight = maxH
	}

	c.densities = c.densities[:0]
	for _, d := range fluid.Densities() {
		c.densities = append(c.densities, float64(d))
	}
	density := Summarize(c.densities)
	stats.DensityMean = density.Mean
	stats.DensityStd = density.Std
	stats.DensityP50 = density.P50

	c.windowStartTick = currentTick
	c.resets = 0

	return stats
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int64 {
	return c.windowDurationTicks
}
