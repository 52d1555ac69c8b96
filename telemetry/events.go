// Package telemetry provides fluid statistics, event detection, performance
// tracking and snapshots.
package telemetry

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/mpm/config"
)

// EventType identifies the type of event.
type EventType string

const (
	EventSplash      EventType = "splash"
	EventSettled     EventType = "settled"
	EventCompression EventType = "compression"
)

// Event represents an automatically detected moment worth inspecting.
type Event struct {
	Type        EventType `csv:"type" json:"type"`
	Tick        int64     `csv:"tick" json:"tick"`
	Description string    `csv:"description" json:"description"`
}

// LogEvent logs the event using slog.
func (e Event) LogEvent() {
	slog.Info("event",
		"type", string(e.Type),
		"tick", e.Tick,
		"description", e.Description,
	)
}

// EventThresholds configures the detector.
type EventThresholds struct {
	SplashMultiplier          float64
	SplashMinSpeed            float64
	SettledKineticPerParticle float64
	SettledWindows            int
	CompressionMultiplier     float64
	RestDensity               float64
}

// ThresholdsFromConfig reads detector thresholds from the loaded config.
func ThresholdsFromConfig(cfg *config.Config) EventThresholds {
	ev := cfg.Events
	return EventThresholds{
		SplashMultiplier:          ev.Splash.Multiplier,
		SplashMinSpeed:            ev.Splash.MinSpeed,
		SettledKineticPerParticle: ev.Settled.MaxKineticPerParticle,
		SettledWindows:            ev.Settled.StableWindows,
		CompressionMultiplier:     ev.Compression.Multiplier,
		RestDensity:               cfg.Simulation.RestDensity,
	}
}

// EventDetector detects interesting moments in the simulation.
type EventDetector struct {
	thresholds EventThresholds

	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	settledWindows int
	compressed     bool
}

// NewEventDetector creates a detector with the given history size.
func NewEventDetector(historySize int, thresholds EventThresholds) *EventDetector {
	if historySize < 3 {
		historySize = 3
	}
	if thresholds.SettledWindows < 1 {
		thresholds.SettledWindows = 1
	}
	return &EventDetector{
		thresholds:  thresholds,
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered events.
func (d *EventDetector) Check(stats WindowStats) []Event {
	var events []Event

	if stats.Resets > 0 {
		// A re-seed starts a new experiment; earlier windows no longer apply.
		d.clearHistory()
	}

	if e := d.checkSplash(stats); e != nil {
		events = append(events, *e)
	}
	if e := d.checkSettled(stats); e != nil {
		events = append(events, *e)
	}
	if e := d.checkCompression(stats); e != nil {
		events = append(events, *e)
	}

	d.addToHistory(stats)
	return events
}

func (d *EventDetector) clearHistory() {
	d.historyIdx = 0
	d.historyFull = false
	d.settledWindows = 0
	d.compressed = false
}

func (d *EventDetector) addToHistory(stats WindowStats) {
	d.history[d.historyIdx] = stats
	d.historyIdx = (d.historyIdx + 1) % d.historySize
	if d.historyIdx == 0 {
		d.historyFull = true
	}
}

func (d *EventDetector) getHistory() []WindowStats {
	if d.historyFull {
		return d.history
	}
	return d.history[:d.historyIdx]
}

func (d *EventDetector) checkSplash(stats WindowStats) *Event {
	history := d.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.SpeedMax
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if stats.SpeedMax > avg*d.thresholds.SplashMultiplier && stats.SpeedMax >= d.thresholds.SplashMinSpeed {
		return &Event{
			Type:        EventSplash,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Max speed %.2f is %.1fx average (%.2f)", stats.SpeedMax, stats.SpeedMax/avg, avg),
		}
	}
	return nil
}

func (d *EventDetector) checkSettled(stats WindowStats) *Event {
	if stats.Particles == 0 {
		d.settledWindows = 0
		return nil
	}

	perParticle := stats.KineticEnergy / float64(stats.Particles)
	if perParticle < d.thresholds.SettledKineticPerParticle {
		d.settledWindows++
	} else {
		d.settledWindows = 0
	}

	// trigger exactly once per calm stretch
	if d.settledWindows == d.thresholds.SettledWindows {
		return &Event{
			Type:        EventSettled,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Kinetic energy %.4f per particle over %d windows", perParticle, d.settledWindows),
		}
	}
	return nil
}

func (d *EventDetector) checkCompression(stats WindowStats) *Event {
	limit := d.thresholds.CompressionMultiplier * d.thresholds.RestDensity
	over := limit > 0 && stats.DensityP50 > limit
	wasCompressed := d.compressed
	d.compressed = over

	if over && !wasCompressed {
		return &Event{
			Type:        EventCompression,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Median density %.2f exceeds %.2f", stats.DensityP50, limit),
		}
	}
	return nil
}
