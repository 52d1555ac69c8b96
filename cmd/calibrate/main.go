// Package main searches for the EOS stiffness at which a settled fluid block
// reaches its rest density.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/mpm/config"
)

// evalRecord is one row of calibrate_log.csv.
type evalRecord struct {
	Eval        int     `csv:"eval"`
	Stiffness   float64 `csv:"eos_stiffness"`
	MeanDensity float64 `csv:"mean_density"`
	Loss        float64 `csv:"loss"`
	ElapsedSec  float64 `csv:"elapsed_sec"`
}

func main() {
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	ticks := flag.Int("ticks", 200, "Simulation ticks per evaluation")
	seeds := flag.Int("seeds", 2, "Number of seeds per evaluation")
	maxEvals := flag.Int("max-evals", 40, "Maximum number of evaluations")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	baseCfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	evalSeeds := make([]int64, *seeds)
	for i := range evalSeeds {
		evalSeeds[i] = int64(i*1000 + 42)
	}
	evaluator := NewEvaluator(baseCfg, *ticks, evalSeeds)

	logPath := filepath.Join(*outputDir, "calibrate_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	evalCount := 0
	bestLoss := math.Inf(1)
	bestStiffness := baseCfg.Simulation.EOSStiffness
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			stiffness := StiffnessFromX(x[0])
			loss := evaluator.Evaluate(stiffness)
			evalCount++

			if loss < bestLoss {
				bestLoss = loss
				bestStiffness = stiffness
			}

			rec := []evalRecord{{
				Eval:        evalCount,
				Stiffness:   stiffness,
				MeanDensity: evaluator.LastDensity(),
				Loss:        loss,
				ElapsedSec:  time.Since(startTime).Seconds(),
			}}
			write := gocsv.MarshalWithoutHeaders
			if evalCount == 1 {
				write = gocsv.Marshal
			}
			if err := write(rec, logFile); err != nil {
				log.Printf("failed to log evaluation: %v", err)
			}

			fmt.Printf("Eval %d/%d: stiffness=%.4f density=%.3f loss=%.6f (best=%.6f)\n",
				evalCount, *maxEvals, stiffness, evaluator.LastDensity(), loss, bestLoss)
			return loss
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
		Concurrent:      0,
	}
	method := &optimize.NelderMead{}

	initX := []float64{math.Log(baseCfg.Simulation.EOSStiffness)}
	fmt.Printf("Calibrating eos_stiffness from %.4f, rest density %.2f, %d ticks x %d seeds\n",
		baseCfg.Simulation.EOSStiffness, baseCfg.Simulation.RestDensity, *ticks, *seeds)

	if _, err := optimize.Minimize(problem, initX, settings, method); err != nil {
		log.Printf("optimization ended: %v", err)
	}

	fmt.Printf("\nCalibration complete after %d evaluations in %s\n", evalCount, time.Since(startTime).Round(time.Second))
	fmt.Printf("Best eos_stiffness: %.6f (loss %.6f)\n", bestStiffness, bestLoss)

	bestCfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to reload config: %v", err)
	}
	bestCfg.Simulation.EOSStiffness = bestStiffness

	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		log.Printf("failed to write best config: %v", err)
	} else {
		fmt.Printf("Best config saved to: %s\n", configOutPath)
	}
}
