package main

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/mpm/config"
	"github.com/pthm-cable/mpm/mpm"
	"github.com/pthm-cable/mpm/scene"
)

// Evaluator runs the configured scene and scores how far the settled fluid's
// density is from the rest density.
type Evaluator struct {
	base  *config.Config
	ticks int
	seeds []int64

	lastDensity float64
}

// NewEvaluator creates an evaluator that runs each candidate for ticks ticks
// per seed.
func NewEvaluator(base *config.Config, ticks int, seeds []int64) *Evaluator {
	if ticks < 4 {
		ticks = 4
	}
	return &Evaluator{base: base, ticks: ticks, seeds: seeds}
}

// StiffnessFromX maps the optimizer coordinate to an EOS stiffness.
// The search runs in log space so stiffness stays positive.
func StiffnessFromX(x float64) float64 {
	return math.Exp(x)
}

// Evaluate returns (meanDensity/restDensity - 1)², averaged over seeds.
func (e *Evaluator) Evaluate(stiffness float64) float64 {
	var loss, density float64
	for _, seed := range e.seeds {
		d, err := e.run(stiffness, seed)
		if err != nil || math.IsNaN(d) {
			return math.Inf(1)
		}
		rel := d/e.base.Simulation.RestDensity - 1
		loss += rel * rel
		density += d
	}
	n := float64(len(e.seeds))
	e.lastDensity = density / n
	return loss / n
}

// LastDensity returns the mean settled density of the last evaluation.
func (e *Evaluator) LastDensity() float64 {
	return e.lastDensity
}

// run simulates one seed and returns the mean particle density over the
// final quarter of the run.
func (e *Evaluator) run(stiffness float64, seed int64) (density float64, err error) {
	cfg := *e.base
	cfg.Simulation.EOSStiffness = stiffness

	sim, err := mpm.New(cfg.Params(), rand.New(rand.NewSource(seed)))
	if err != nil {
		return 0, err
	}
	defer sim.Close()

	sc, err := scene.FromConfig(&cfg)
	if err != nil {
		return 0, err
	}
	sc.Seed(sim)

	// An unstable stiffness can blow up integration.
	defer func() {
		if r := recover(); r != nil {
			density = math.NaN()
		}
	}()

	settle := e.ticks - e.ticks/4
	var means []float64
	buf := make([]float64, 0, len(sim.Particles()))
	for tick := 0; tick < e.ticks; tick++ {
		sim.StepDefault()
		if tick < settle {
			continue
		}
		buf = buf[:0]
		for _, d := range sim.Densities() {
			buf = append(buf, float64(d))
		}
		means = append(means, stat.Mean(buf, nil))
	}
	return stat.Mean(means, nil), nil
}
