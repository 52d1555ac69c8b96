package game

import (
	"log/slog"

	"github.com/pthm-cable/mpm/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles events.
func (g *Game) flushTelemetry() {
	tick := g.sim.Tick()
	if !g.collector.ShouldFlush(tick) {
		return
	}

	stats := g.collector.Flush(tick, g.sim)
	perfStats := g.perfCollector.Stats()

	if g.statsCallback != nil {
		g.statsCallback(stats)
	}

	if g.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if g.outputManager != nil {
		if err := g.outputManager.WriteTelemetry(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := g.outputManager.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}

	for _, ev := range g.eventDetector.Check(stats) {
		if g.logStats {
			ev.LogEvent()
		}

		if g.outputManager != nil {
			if err := g.outputManager.WriteEvent(ev); err != nil {
				slog.Error("failed to write event", "error", err)
			}
		}

		if g.snapshotDir != "" {
			g.saveSnapshot(&ev)
		}
	}
}

// SaveSnapshot writes the current state to the snapshot directory.
func (g *Game) SaveSnapshot() (string, error) {
	return g.writeSnapshot(nil)
}

// saveSnapshot creates and saves a snapshot tagged with an event.
func (g *Game) saveSnapshot(ev *telemetry.Event) {
	path, err := g.writeSnapshot(ev)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}
	slog.Info("snapshot saved", "path", path, "tick", g.sim.Tick())
}

func (g *Game) writeSnapshot(ev *telemetry.Event) (string, error) {
	snapshot := telemetry.NewSnapshot(g.sim, g.rngSeed)
	snapshot.Event = ev

	dir := g.snapshotDir
	if dir == "" {
		dir = "."
	}
	return telemetry.SaveSnapshot(snapshot, dir)
}
