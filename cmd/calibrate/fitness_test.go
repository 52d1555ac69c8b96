package main

import (
	"math"
	"testing"

	"github.com/pthm-cable/mpm/config"
)

func tinyConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Grid.Resolution = 16
	cfg.Derived.WallMax32 = 12
	cfg.Parallel.Workers = 1
	cfg.Blocks = []config.BlockConfig{{Name: "cube", Extents: [3]int{3, 3, 3}, Spacing: 0.5}}
	return cfg
}

func TestEvaluatorScoresDensity(t *testing.T) {
	cfg := tinyConfig(t)
	e := NewEvaluator(cfg, 8, []int64{1, 2})

	loss := e.Evaluate(10)
	if math.IsInf(loss, 0) || math.IsNaN(loss) {
		t.Fatalf("loss = %v, want finite", loss)
	}
	if e.LastDensity() <= 0 {
		t.Errorf("density = %v, want > 0", e.LastDensity())
	}

	rel := e.LastDensity()/cfg.Simulation.RestDensity - 1
	if math.Abs(loss-rel*rel) > 0.5 {
		t.Errorf("loss %v inconsistent with mean density %v", loss, e.LastDensity())
	}
}

func TestEvaluatorRejectsInvalidParams(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.Simulation.DT = 0
	e := NewEvaluator(cfg, 8, []int64{1})
	if loss := e.Evaluate(10); !math.IsInf(loss, 1) {
		t.Errorf("loss = %v, want +Inf for invalid params", loss)
	}
}

func TestStiffnessFromXIsPositive(t *testing.T) {
	for _, x := range []float64{-10, 0, 3} {
		if StiffnessFromX(x) <= 0 {
			t.Errorf("StiffnessFromX(%v) = %v", x, StiffnessFromX(x))
		}
	}
	if math.Abs(StiffnessFromX(math.Log(10))-10) > 1e-9 {
		t.Error("log round trip failed")
	}
}
