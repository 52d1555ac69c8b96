// Package game runs the fluid simulation headlessly and wires it to
// telemetry, snapshots and the renderer stream.
package game

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/pthm-cable/mpm/config"
	"github.com/pthm-cable/mpm/mpm"
	"github.com/pthm-cable/mpm/scene"
	"github.com/pthm-cable/mpm/stream"
	"github.com/pthm-cable/mpm/telemetry"
)

// Options configures a run.
type Options struct {
	Seed           int64
	LogStats       bool
	StatsWindowSec float64 // 0 = use config
	SnapshotDir    string  // empty disables event snapshots
	OutputDir      string  // empty disables CSV output
	StepsPerUpdate int
	LoadSnapshot   string // resume from this snapshot file
	StreamAddr     string // overrides stream.addr when set

	// StatsCallback, if set, receives every flushed window.
	StatsCallback func(telemetry.WindowStats)
}

// Game owns one simulation and everything observing it.
type Game struct {
	cfg   *config.Config
	sim   *mpm.Simulation
	scene *scene.Scene

	rngSeed        int64
	stepsPerUpdate int

	// Telemetry
	collector     *telemetry.Collector
	perfCollector *telemetry.PerfCollector
	eventDetector *telemetry.EventDetector
	outputManager *telemetry.OutputManager
	logStats      bool
	snapshotDir   string
	statsCallback func(telemetry.WindowStats)

	// Renderer stream
	stream      *stream.Server
	streamEvery int64
}

// NewGameWithOptions builds the scene, seeds the simulation and opens the
// configured outputs.
func NewGameWithOptions(cfg *config.Config, opts Options) (*Game, error) {
	sim, err := mpm.New(cfg.Params(), rand.New(rand.NewSource(opts.Seed)))
	if err != nil {
		return nil, fmt.Errorf("creating simulation: %w", err)
	}

	sc, err := scene.FromConfig(cfg)
	if err != nil {
		sim.Close()
		return nil, fmt.Errorf("building scene: %w", err)
	}

	statsWindow := cfg.Telemetry.StatsWindow
	if opts.StatsWindowSec > 0 {
		statsWindow = opts.StatsWindowSec
	}
	steps := opts.StepsPerUpdate
	if steps < 1 {
		steps = 1
	}

	g := &Game{
		cfg:            cfg,
		sim:            sim,
		scene:          sc,
		rngSeed:        opts.Seed,
		stepsPerUpdate: steps,
		collector:      telemetry.NewCollector(statsWindow, cfg.Derived.DT32),
		perfCollector:  telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		eventDetector:  telemetry.NewEventDetector(cfg.Telemetry.EventHistorySize, telemetry.ThresholdsFromConfig(cfg)),
		logStats:       opts.LogStats,
		snapshotDir:    opts.SnapshotDir,
		statsCallback:  opts.StatsCallback,
		streamEvery:    int64(cfg.Stream.EveryTicks),
	}
	sim.SetPhaseHook(g.perfCollector.StartPhase)

	if opts.LoadSnapshot != "" {
		if err := g.restore(opts.LoadSnapshot); err != nil {
			g.Unload()
			return nil, err
		}
	} else {
		sc.Seed(sim)
	}
	g.perfCollector.SetParticleCount(len(sim.Particles()))

	om, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		g.Unload()
		return nil, fmt.Errorf("opening output: %w", err)
	}
	g.outputManager = om
	if err := om.WriteConfig(cfg); err != nil {
		g.Unload()
		return nil, fmt.Errorf("writing config: %w", err)
	}

	addr := cfg.Stream.Addr
	if opts.StreamAddr != "" {
		addr = opts.StreamAddr
	}
	if addr != "" {
		srv := stream.NewServer()
		if err := srv.Start(addr); err != nil {
			g.Unload()
			return nil, err
		}
		g.stream = srv
	}

	slog.Info("simulation ready",
		"particles", len(sim.Particles()),
		"grid", cfg.Grid.Resolution,
		"blocks", sc.Len(),
		"tick", sim.Tick(),
	)
	return g, nil
}

func (g *Game) restore(path string) error {
	snap, err := telemetry.LoadSnapshot(path)
	if err != nil {
		return err
	}
	if err := snap.Restore(g.sim); err != nil {
		return err
	}
	g.rngSeed = snap.RNGSeed
	g.collector.Restart(snap.Tick)
	slog.Info("snapshot restored", "path", path, "tick", snap.Tick, "particles", len(snap.Particles))
	return nil
}

// UpdateHeadless advances the simulation by StepsPerUpdate ticks.
func (g *Game) UpdateHeadless() {
	for i := 0; i < g.stepsPerUpdate; i++ {
		g.simulationStep()
	}
}

func (g *Game) simulationStep() {
	g.perfCollector.StartTick()

	g.sim.StepDefault()

	g.perfCollector.StartPhase(telemetry.PhaseTelemetry)
	g.flushTelemetry()

	if g.stream != nil && g.sim.Tick()%g.streamEvery == 0 {
		g.perfCollector.StartPhase(telemetry.PhaseStream)
		g.stream.Broadcast(g.sim.Tick(), g.sim.ParticleSnapshot())
	}

	g.perfCollector.EndTick()
}

// Reset re-seeds the particles from the scene, keeping the tick counter.
func (g *Game) Reset() {
	g.scene.Seed(g.sim)
	g.collector.RecordReset()
	g.perfCollector.SetParticleCount(len(g.sim.Particles()))
	slog.Info("simulation reset", "tick", g.sim.Tick(), "particles", len(g.sim.Particles()))
}

// Scene exposes the block scene; call Reset to apply edits.
func (g *Game) Scene() *scene.Scene {
	return g.scene
}

// Simulation exposes the underlying simulation.
func (g *Game) Simulation() *mpm.Simulation {
	return g.sim
}

// StreamAddr returns the renderer stream address, or "" when disabled.
func (g *Game) StreamAddr() string {
	if g.stream == nil {
		return ""
	}
	return g.stream.Addr()
}

// Unload releases resources.
func (g *Game) Unload() {
	if g.stream != nil {
		if err := g.stream.Close(); err != nil {
			slog.Error("failed to close stream", "error", err)
		}
	}
	if err := g.outputManager.Close(); err != nil {
		slog.Error("failed to close output", "error", err)
	}
	g.sim.Close()
}

// Tick returns the current simulation tick.
func (g *Game) Tick() int64 {
	return g.sim.Tick()
}
