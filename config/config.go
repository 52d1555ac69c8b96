// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/mpm/mpm"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Grid       GridConfig       `yaml:"grid"`
	Blocks     []BlockConfig    `yaml:"blocks"`
	Parallel   ParallelConfig   `yaml:"parallel"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Events     EventsConfig     `yaml:"events"`
	Stream     StreamConfig     `yaml:"stream"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds the physical constants of the fluid.
type SimulationConfig struct {
	DT               float64 `yaml:"dt"`
	Gravity          float64 `yaml:"gravity"` // Acceleration along +Y (negative pulls down)
	ParticleMass     float64 `yaml:"particle_mass"`
	RestDensity      float64 `yaml:"rest_density"`
	EOSStiffness     float64 `yaml:"eos_stiffness"`
	EOSPower         float64 `yaml:"eos_power"`
	DynamicViscosity float64 `yaml:"dynamic_viscosity"` // 0 disables the viscous term
	Damping          float64 `yaml:"damping"`           // Velocity multiplier per gather
}

// GridConfig holds background grid dimensions.
type GridConfig struct {
	Resolution int     `yaml:"resolution"`
	WallMin    float64 `yaml:"wall_min"` // Soft wall margin (0 = 3)
	WallMax    float64 `yaml:"wall_max"` // Soft wall margin (0 = resolution - 4)
}

// BlockConfig describes one box of particles seeded at startup and on reset.
type BlockConfig struct {
	Name           string     `yaml:"name"`
	Extents        [3]int     `yaml:"extents"`
	Spacing        float64    `yaml:"spacing"`
	Center         [3]float64 `yaml:"center"` // Zero means the grid centre
	VelocitySpread float64    `yaml:"velocity_spread"`
}

// ParallelConfig holds worker pool settings.
type ParallelConfig struct {
	Workers int `yaml:"workers"` // 0 = GOMAXPROCS, 1 = sequential
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"` // Window length in simulated seconds
	PerfCollectorWindow int     `yaml:"perf_collector_window"`
	EventHistorySize    int     `yaml:"event_history_size"`
}

// EventsConfig holds event detection thresholds.
type EventsConfig struct {
	Splash      SplashConfig      `yaml:"splash"`
	Settled     SettledConfig     `yaml:"settled"`
	Compression CompressionConfig `yaml:"compression"`
}

// SplashConfig holds splash detection parameters.
type SplashConfig struct {
	Multiplier float64 `yaml:"multiplier"` // Max speed vs rolling mean of max speed
	MinSpeed   float64 `yaml:"min_speed"`
}

// SettledConfig holds settled detection parameters.
type SettledConfig struct {
	MaxKineticPerParticle float64 `yaml:"max_kinetic_per_particle"`
	StableWindows         int     `yaml:"stable_windows"`
}

// CompressionConfig holds compression detection parameters.
type CompressionConfig struct {
	Multiplier float64 `yaml:"multiplier"` // Density p50 vs rest density
}

// StreamConfig holds the snapshot broadcaster settings.
type StreamConfig struct {
	Addr       string `yaml:"addr"` // Empty disables the stream
	EveryTicks int    `yaml:"every_ticks"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DT32         float32 // Simulation.DT as float32
	WallMin32    float32 // Effective soft wall minimum
	WallMax32    float32 // Effective soft wall maximum
	TicksPerSec  float64 // 1 / DT
	WindowTicks  int     // Telemetry.StatsWindow in ticks
	TotalSeeded  int     // Particle count produced by Blocks
	BlockLattice []mpm.Lattice
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file; a blocks list replaces
		// the default list wholesale.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	if err := cfg.Params().Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.DT32 = float32(c.Simulation.DT)
	if c.Simulation.DT > 0 {
		c.Derived.TicksPerSec = 1 / c.Simulation.DT
	}

	res := c.Grid.Resolution
	c.Derived.WallMin32 = float32(c.Grid.WallMin)
	if c.Grid.WallMin == 0 {
		c.Derived.WallMin32 = 3
	}
	c.Derived.WallMax32 = float32(c.Grid.WallMax)
	if c.Grid.WallMax == 0 {
		c.Derived.WallMax32 = float32(res - 4)
	}

	c.Derived.WindowTicks = int(c.Telemetry.StatsWindow*c.Derived.TicksPerSec + 0.5)
	if c.Derived.WindowTicks < 1 {
		c.Derived.WindowTicks = 1
	}
	if c.Stream.EveryTicks < 1 {
		c.Stream.EveryTicks = 1
	}

	c.Derived.BlockLattice = c.Derived.BlockLattice[:0]
	c.Derived.TotalSeeded = 0
	for _, b := range c.Blocks {
		l := b.Lattice()
		c.Derived.BlockLattice = append(c.Derived.BlockLattice, l)
		c.Derived.TotalSeeded += l.Count()
	}
}

// Lattice converts the block description into a seeding lattice.
func (b BlockConfig) Lattice() mpm.Lattice {
	return mpm.Lattice{
		Extents:        b.Extents,
		Spacing:        float32(b.Spacing),
		Center:         mgl32.Vec3{float32(b.Center[0]), float32(b.Center[1]), float32(b.Center[2])},
		VelocitySpread: float32(b.VelocitySpread),
	}
}

// Params builds the simulation constants from the loaded configuration.
func (c *Config) Params() mpm.Params {
	s := c.Simulation
	return mpm.Params{
		DT:               float32(s.DT),
		Gravity:          float32(s.Gravity),
		ParticleMass:     float32(s.ParticleMass),
		RestDensity:      float32(s.RestDensity),
		EOSStiffness:     float32(s.EOSStiffness),
		EOSPower:         float32(s.EOSPower),
		DynamicViscosity: float32(s.DynamicViscosity),
		Damping:          float32(s.Damping),
		GridResolution:   c.Grid.Resolution,
		WallMin:          c.Derived.WallMin32,
		WallMax:          c.Derived.WallMax32,
		Workers:          c.Parallel.Workers,
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
