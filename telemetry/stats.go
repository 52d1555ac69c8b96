package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartTick int64   `csv:"-"`
	WindowEndTick   int64   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	Particles int `csv:"particles"`
	Resets    int `csv:"resets"` // Re-seeds during the window

	// Speed distribution (sampled at window end)
	SpeedMean float64 `csv:"speed_mean"`
	SpeedMax  float64 `csv:"speed_max"`
	SpeedP10  float64 `csv:"speed_p10"`
	SpeedP50  float64 `csv:"speed_p50"`
	SpeedP90  float64 `csv:"speed_p90"`

	KineticEnergy float64 `csv:"kinetic_energy"`
	MomentumX     float64 `csv:"momentum_x"`
	MomentumY     float64 `csv:"momentum_y"`
	MomentumZ     float64 `csv:"momentum_z"`
	MeanVelY      float64 `csv:"mean_vel_y"`

	// Shape of the fluid body
	CentroidX float64 `csv:"centroid_x"`
	CentroidY float64 `csv:"centroid_y"`
	CentroidZ float64 `csv:"centroid_z"`
	MinHeight float64 `csv:"min_height"`
	MaxHeight float64 `csv:"max_height"`

	// Grid and density
	GridMass    float64 `csv:"grid_mass"`
	ActiveCells int     `csv:"active_cells"`
	DensityMean float64 `csv:"density_mean"`
	DensityStd  float64 `csv:"density_std"`
	DensityP50  float64 `csv:"density_p50"`
}

// Summary describes the distribution of a sample.
type Summary struct {
	Mean, Std     float64
	P10, P50, P90 float64
	Max           float64
}

// Summarize computes mean, standard deviation, maximum and the 10/50/90th
// percentiles. Returns the zero Summary for an empty sample.
func Summarize(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}

	var s Summary
	if n == 1 {
		s.Mean = values[0]
	} else {
		s.Mean, s.Std = stat.MeanStdDev(values, nil)
	}
	s.Max = floats.Max(values)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	s.P10 = stat.Quantile(0.10, stat.Empirical, sorted, nil)
	s.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("window_start", s.WindowStartTick),
		slog.Int64("window_end", s.WindowEndTick),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("particles", s.Particles),
		slog.Int("resets", s.Resets),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_max", s.SpeedMax),
		slog.Float64("speed_p50", s.SpeedP50),
		slog.Float64("kinetic_energy", s.KineticEnergy),
		slog.Float64("mean_vel_y", s.MeanVelY),
		slog.Float64("centroid_y", s.CentroidY),
		slog.Float64("min_height", s.MinHeight),
		slog.Float64("max_height", s.MaxHeight),
		slog.Float64("grid_mass", s.GridMass),
		slog.Int("active_cells", s.ActiveCells),
		slog.Float64("density_mean", s.DensityMean),
		slog.Float64("density_p50", s.DensityP50),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTimeSec,
		"particles", s.Particles,
		"resets", s.Resets,
		"speed_mean", s.SpeedMean,
		"speed_max", s.SpeedMax,
		"speed_p10", s.SpeedP10,
		"speed_p50", s.SpeedP50,
		"speed_p90", s.SpeedP90,
		"kinetic_energy", s.KineticEnergy,
		"momentum", []float64{s.MomentumX, s.MomentumY, s.MomentumZ},
		"mean_vel_y", s.MeanVelY,
		"centroid", []float64{s.CentroidX, s.CentroidY, s.CentroidZ},
		"min_height", s.MinHeight,
		"max_height", s.MaxHeight,
		"grid_mass", s.GridMass,
		"active_cells", s.ActiveCells,
		"density_mean", s.DensityMean,
		"density_std", s.DensityStd,
		"density_p50", s.DensityP50,
	)
}
