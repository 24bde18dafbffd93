package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/coverage-simulator/core"
	"github.com/signalsfoundry/coverage-simulator/internal/logging"
	"github.com/signalsfoundry/coverage-simulator/internal/observability"
	"github.com/signalsfoundry/coverage-simulator/timectrl"
)

type options struct {
	scenario    string
	duration    time.Duration
	tick        time.Duration
	scale       float64
	accelerated bool
	smallMap    bool
	reportEvery time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.scenario, "scenario", "configs/scenario.yaml", "path to a YAML scenario file")
	flag.DurationVar(&opts.duration, "duration", 24*time.Hour, "total simulated duration (0 runs until interrupted)")
	flag.DurationVar(&opts.tick, "tick", time.Minute, "simulated time advanced per host tick")
	flag.Float64Var(&opts.scale, "scale", 1, "multiplier applied to -tick in real-time mode")
	flag.BoolVar(&opts.accelerated, "accelerated", true, "run in accelerated mode (vs real-time)")
	flag.BoolVar(&opts.smallMap, "small-map", false, "use the reduced 256x128 grid")
	flag.DurationVar(&opts.reportEvery, "report-every", time.Hour, "simulated interval between coverage summaries")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tracingCfg, err := observability.TracingConfigFromEnv()
	if err != nil {
		log.Error(ctx, "invalid tracing configuration", logging.Err(err))
		os.Exit(1)
	}
	tracingCfg.Attributes = map[string]string{"coverage.scenario": opts.scenario}
	shutdown, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, 5*time.Second, log)

	var collector *observability.CoverageCollector
	if *metricsAddr != "" {
		collector, err = observability.NewCoverageCollector(nil)
		if err != nil {
			log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
			os.Exit(1)
		}
		metricsSrv := serveMetrics(*metricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	report, err := run(ctx, opts, log, collector)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "simulation complete", summaryFields(report)...)
}

// run loads the scenario and drives the engine from a time controller until
// the duration elapses or ctx is cancelled. It returns the last report.
func run(ctx context.Context, opts options, log logging.Logger, collector *observability.CoverageCollector) (*core.CoverageReport, error) {
	sc, err := core.LoadScenarioFile(opts.scenario)
	if err != nil {
		return nil, err
	}
	cfg := sc.Engine
	if opts.smallMap {
		small := core.SmallMapConfig()
		cfg.GridWidth, cfg.GridHeight = small.GridWidth, small.GridHeight
	}
	start := sc.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}

	mode := timectrl.RealTime
	if opts.accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(start, opts.tick, mode)
	tc.Scale = opts.scale

	earth := core.NewEarthEphemeris()
	engineOpts := []core.EngineOption{
		core.WithLogger(log),
		core.WithTracer(otel.Tracer("coverage-simulator")),
		core.WithCoverageConfig(sc.Coverage),
	}
	if collector != nil {
		engineOpts = append(engineOpts, core.WithMetricsRecorder(collector))
	}
	engine, err := core.NewSimulationEngine(earth, tc, cfg, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	defer engine.Close()
	if err := sc.Apply(earth, engine); err != nil {
		return nil, err
	}

	log.Info(ctx, "loaded scenario",
		logging.String("path", opts.scenario),
		logging.Int("platforms", len(sc.Platforms)),
		logging.String("product", sc.Coverage.Product.String()),
		logging.String("map_type", sc.Coverage.MapType.String()),
		logging.Int("grid_width", cfg.GridWidth),
		logging.Int("grid_height", cfg.GridHeight),
	)

	var (
		last       *core.CoverageReport
		lastReport = -opts.reportEvery.Seconds()
	)
	engine.RegisterTickListener(func(r *core.CoverageReport) {
		last = r
		if opts.reportEvery > 0 && r.At-lastReport >= opts.reportEvery.Seconds() {
			lastReport = r.At
			log.Info(ctx, "coverage", summaryFields(r)...)
		}
	})

	tc.AddListener(func(time.Time) {
		if err := engine.Update(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug(ctx, "coverage update deferred", logging.Err(err))
		}
	})

	log.Info(ctx, "starting simulation",
		logging.Duration("duration", opts.duration),
		logging.Duration("tick", opts.tick),
		logging.String("mode", mode.String()),
		logging.Time("start", start),
	)
	<-tc.Run(ctx, opts.duration)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return last, nil
}

func summaryFields(r *core.CoverageReport) []logging.Field {
	if !r.Available() {
		return []logging.Field{logging.Bool("available", false)}
	}
	unit := "m"
	if r.Config.MapType == core.FreshnessMap {
		unit = "s"
	}
	parts := make([]string, len(r.Thresholds))
	for i, th := range r.Thresholds {
		f, _ := r.Fraction(i)
		parts[i] = fmt.Sprintf("%g%s=%.1f%%", th, unit, 100*f)
	}
	return []logging.Field{
		logging.Float64("sim_seconds", r.At),
		logging.Int("map_cells", r.MapCells()),
		logging.String("fractions", strings.Join(parts, " ")),
	}
}

func serveMetrics(addr string, collector *observability.CoverageCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
