// Command simulator runs a water network scenario under the control
// engine: it loads the network and operational rules, generates the
// physical consistency controls, and steps the simulation while
// serving Prometheus metrics and websocket telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowworksio/hydronet-simulator/controls"
	"github.com/flowworksio/hydronet-simulator/core"
	"github.com/flowworksio/hydronet-simulator/internal/logging"
	"github.com/flowworksio/hydronet-simulator/internal/observability"
	"github.com/flowworksio/hydronet-simulator/internal/telemetry"
	"github.com/flowworksio/hydronet-simulator/rulelang"
	"github.com/flowworksio/hydronet-simulator/sim"
	"github.com/flowworksio/hydronet-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	scenarioPath := flag.String("scenario", "", "network scenario JSON (overrides config)")
	rulesPath := flag.String("rules", "", "operational rules file (overrides config)")
	duration := flag.Int64("duration", 0, "simulated seconds to run (overrides config)")
	step := flag.Int64("step", 0, "step size in simulated seconds (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "metrics/telemetry listen address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *scenarioPath, *rulesPath, *duration, *step, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, scenarioPath, rulesPath string, duration, step int64, metricsAddr string) error {
	cfg, err := LoadConfigFile(configPath)
	if err != nil {
		return err
	}
	if scenarioPath != "" {
		cfg.ScenarioPath = scenarioPath
	}
	if rulesPath != "" {
		cfg.RulesPath = rulesPath
	}
	if duration > 0 {
		cfg.Duration = duration
	}
	if step > 0 {
		cfg.Step = step
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewControlsCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// Model.
	wn := core.NewWaterNetwork()
	f, err := os.Open(cfg.ScenarioPath)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	scenario, err := core.LoadWaterScenario(wn, f)
	f.Close()
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	log.Info(ctx, "scenario loaded",
		logging.String("path", cfg.ScenarioPath),
		logging.Int("nodes", len(scenario.NodeIDs)),
		logging.Int("links", len(scenario.LinkIDs)))
	collector.SetNetworkCounts(len(scenario.NodeIDs), len(scenario.LinkIDs))

	start, err := cfg.Start()
	if err != nil {
		return err
	}
	clock := timectrl.NewStepClock(start)

	// Controls: generated consistency set first, then user rules.
	engine := controls.NewEngine(wn,
		controls.WithLogger(log.With(logging.String("component", "controls"))),
		controls.WithCollector(collector))

	generated, err := controls.GenerateConsistencyControls(wn)
	if err != nil {
		return fmt.Errorf("generate consistency controls: %w", err)
	}
	if err := engine.RegisterAll(generated); err != nil {
		return fmt.Errorf("register consistency controls: %w", err)
	}
	log.Info(ctx, "consistency controls registered", logging.Int("count", len(generated)))

	if cfg.RulesPath != "" {
		parser, err := rulelang.NewParser(wn, clock)
		if err != nil {
			return err
		}
		rf, err := os.Open(cfg.RulesPath)
		if err != nil {
			return fmt.Errorf("open rules: %w", err)
		}
		rules, err := parser.LoadControls(rf)
		rf.Close()
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		if err := engine.RegisterAll(rules); err != nil {
			return fmt.Errorf("register rules: %w", err)
		}
		log.Info(ctx, "operational rules registered",
			logging.String("path", cfg.RulesPath),
			logging.Int("count", len(rules)))
	}

	// Observability surface: /metrics and the telemetry websocket.
	hub := telemetry.NewHub(log.With(logging.String("component", "telemetry")))
	defer hub.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle(cfg.TelemetryPath, hub.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics server failed", logging.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info(ctx, "serving metrics and telemetry",
		logging.String("addr", cfg.MetricsAddr),
		logging.String("telemetry_path", cfg.TelemetryPath))

	runner, err := sim.NewStepRunner(wn, clock, engine, core.NewSimpleSolver(),
		sim.WithRunnerLogger(log.With(logging.String("component", "sim"))),
		sim.WithRunnerCollector(collector),
		sim.WithPublisher(hub))
	if err != nil {
		return err
	}

	log.Info(ctx, "simulation starting",
		logging.Int64("duration_s", cfg.Duration),
		logging.Int64("step_s", cfg.Step))
	if err := runner.Run(ctx, cfg.Duration, cfg.Step); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	log.Info(ctx, "simulation finished",
		logging.Int64("sim_time_s", clock.Now()),
		logging.Int64("steps", runner.Steps()))
	return nil
}
