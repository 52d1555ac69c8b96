package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pthm-cable/mpm/config"
	"github.com/pthm-cable/mpm/game"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in simulated seconds (0 = use config)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for event snapshot files")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	loadSnapshot := flag.String("load-snapshot", "", "Resume from a snapshot file")
	streamAddr := flag.String("stream", "", "Serve particle snapshots over websocket at this address (overrides config)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	stepsPerUpdate := flag.Int("steps-per-update", 1, "Simulation ticks per update call")
	resetEvery := flag.Int("reset-every", 0, "Re-seed the scene every N ticks (0 = never)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	opts := game.Options{
		Seed:           rngSeed,
		LogStats:       *logStats,
		StatsWindowSec: *statsWindow,
		SnapshotDir:    *snapshotDir,
		OutputDir:      *outputDir,
		StepsPerUpdate: *stepsPerUpdate,
		LoadSnapshot:   *loadSnapshot,
		StreamAddr:     *streamAddr,
	}

	g, err := game.NewGameWithOptions(cfg, opts)
	if err != nil {
		slog.Error("failed to start simulation", "error", err)
		os.Exit(1)
	}
	defer g.Unload()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting headless simulation",
		"seed", rngSeed,
		"particles", cfg.Derived.TotalSeeded,
		"max_ticks", *maxTicks,
		"steps_per_update", *stepsPerUpdate,
		"stream", g.StreamAddr(),
	)

	lastReset := g.Tick()
	for {
		select {
		case <-ctx.Done():
			slog.Info("interrupted", "tick", g.Tick())
			return
		default:
		}

		g.UpdateHeadless()

		if *resetEvery > 0 && g.Tick()-lastReset >= int64(*resetEvery) {
			g.Reset()
			lastReset = g.Tick()
		}

		if *maxTicks > 0 && g.Tick() >= int64(*maxTicks) {
			slog.Info("max ticks reached", "tick", g.Tick())
			return
		}
	}
}
