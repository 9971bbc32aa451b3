// Command lucent enhances a noisy speech recording through a remote
// inference backend and writes the cleaned result as a WAV file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucentaudio/lucent/internal/config"
	"github.com/lucentaudio/lucent/internal/health"
	"github.com/lucentaudio/lucent/internal/observe"
	"github.com/lucentaudio/lucent/internal/pipeline"
	"github.com/lucentaudio/lucent/pkg/engine"
	"github.com/lucentaudio/lucent/pkg/engine/mock"
	"github.com/lucentaudio/lucent/pkg/engine/realtime"
	"github.com/lucentaudio/lucent/pkg/engine/rest"
	"github.com/lucentaudio/lucent/pkg/wavio"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (optional)")
	inputPath := flag.String("input", "", "path to the noisy input WAV file")
	outputPath := flag.String("output", "", "path for the enhanced output WAV file")
	flag.String("engine", "", "engine name, overrides engine.name (rest, realtime, mock)")
	flag.String("endpoint", "", "backend URL, overrides engine.endpoint")
	flag.Bool("agc", false, "enable gain normalization, overrides processing.enable_agc")
	flag.String("log-level", "", "log verbosity, overrides server.log_level")
	flag.Parse()

	if *inputPath == "" || *outputPath == "" {
		fmt.Fprintln(os.Stderr, "lucent: both -input and -output are required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	// The file is optional; flags given on the command line win over it.
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lucent: %v\n", err)
		return 1
	}
	applyFlagOverrides(cfg, flag.CommandLine)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "lucent: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	if !fromFile {
		slog.Info("no config file found, using defaults", "path", *configPath)
	}
	slog.Info("lucent starting",
		"version", version,
		"config", *configPath,
		"engine", cfg.Engine.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObs, err := observe.Setup(ctx, observe.Options{
		ServiceName:    "lucent",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObs(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine ────────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg, cfg)

	eng, err := reg.Create(ctx, cfg.Engine)
	if err != nil {
		slog.Error("failed to create engine", "err", err, "engine", cfg.Engine.Name)
		return 1
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("engine close error", "err", err)
		}
	}()
	slog.Info("engine created", "name", cfg.Engine.Name, "endpoint", cfg.Engine.Endpoint)

	// ── Metrics and health endpoints ──────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.Server.MetricsAddr, eng)
	}

	// ── Warm-up ───────────────────────────────────────────────────────────────
	if cfg.Engine.WarmUp {
		if w, ok := eng.(engine.Warmer); ok {
			warmCtx, cancel := context.WithTimeout(ctx, cfg.Engine.RequestTimeout.Std())
			if err := w.WarmUp(warmCtx, cfg.Audio.SegmentSize); err != nil {
				slog.Warn("engine warm-up failed, continuing anyway", "err", err)
			} else {
				slog.Info("engine warmed up", "segment_size", cfg.Audio.SegmentSize)
			}
			cancel()
		}
	}

	// ── Input ─────────────────────────────────────────────────────────────────
	samples, rate, err := wavio.ReadMono(*inputPath)
	if err != nil {
		slog.Error("failed to read input", "err", err, "path", *inputPath)
		return 1
	}
	if rate != cfg.Audio.SampleRate {
		slog.Info("resampling input", "from", rate, "to", cfg.Audio.SampleRate)
		samples = wavio.Resample(samples, rate, cfg.Audio.SampleRate)
	}

	printStartupSummary(cfg, *inputPath, len(samples))

	// ── Enhancement run ───────────────────────────────────────────────────────
	runner := pipeline.New(eng, pipeline.Config{
		SegmentSize:    cfg.Audio.SegmentSize,
		OverlapRatio:   cfg.Audio.OverlapRatio,
		Workers:        cfg.Engine.InferenceThreads,
		MaxRetries:     cfg.Engine.MaxRetries,
		RequestTimeout: cfg.Engine.RequestTimeout.Std(),
		OnFailure:      failurePolicy(cfg.Processing.OnFailure),
		EngineName:     cfg.Engine.Name,
		EnableAGC:      cfg.Processing.EnableAGC,
		AGCTargetLevel: cfg.Processing.AGCTargetLevel,
	}, pipeline.WithLogger(logger))

	out, stats, err := runner.Run(ctx, samples)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("run cancelled, output discarded")
			return 1
		}
		slog.Error("enhancement failed", "err", err)
		return 1
	}

	// ── Output ────────────────────────────────────────────────────────────────
	if err := wavio.WriteMono(*outputPath, out, cfg.Audio.SampleRate); err != nil {
		slog.Error("failed to write output", "err", err, "path", *outputPath)
		return 1
	}

	printRunReport(stats, len(samples), cfg.Audio.SampleRate, *outputPath)
	return 0
}

// ── Configuration ─────────────────────────────────────────────────────────────

// loadConfig reads the YAML config at path. A missing file is not an error;
// the defaults are used and fromFile is false.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// applyFlagOverrides copies the override flags that were explicitly set on
// the command line into cfg. Unset flags leave the file (or default) values
// alone, so precedence is flags over file over defaults.
func applyFlagOverrides(cfg *config.Config, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "engine":
			cfg.Engine.Name = f.Value.String()
		case "endpoint":
			cfg.Engine.Endpoint = f.Value.String()
		case "agc":
			cfg.Processing.EnableAGC = f.Value.String() == "true"
		case "log-level":
			cfg.Server.LogLevel = config.LogLevel(f.Value.String())
		}
	})
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires the engine factories that ship with Lucent
// into reg. The audio section of cfg is captured because the REST client
// needs the sample rate for its request encoding.
func registerBuiltinEngines(reg *config.Registry, cfg *config.Config) {
	reg.Register("rest", func(ctx context.Context, ec config.EngineConfig) (engine.Engine, error) {
		return rest.New(ec.Endpoint, rest.WithSampleRate(cfg.Audio.SampleRate))
	})

	reg.Register("realtime", func(ctx context.Context, ec config.EngineConfig) (engine.Engine, error) {
		var opts []realtime.Option
		if ec.APIKey != "" {
			opts = append(opts, realtime.WithAuthToken(ec.APIKey))
		}
		opts = append(opts, realtime.WithLogger(slog.Default()))
		return realtime.Dial(ctx, ec.Endpoint, opts...)
	})

	// mock passes audio through unchanged; useful for wiring tests and
	// demos without a model server.
	reg.Register("mock", func(ctx context.Context, ec config.EngineConfig) (engine.Engine, error) {
		return &mock.Engine{}, nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered engine", "name", name)
	}
}

func failurePolicy(p config.FailurePolicy) pipeline.FailurePolicy {
	if p == config.FailDegrade {
		return pipeline.Degrade
	}
	return pipeline.Abort
}

// ── Metrics server ────────────────────────────────────────────────────────────

// startMetricsServer serves /metrics, /healthz and /readyz on addr until ctx
// is cancelled. Readiness probes the engine when it supports pinging.
func startMetricsServer(ctx context.Context, addr string, eng engine.Engine) {
	var probe health.Probe
	if p, ok := eng.(interface{ Ping(context.Context) error }); ok {
		probe = p.Ping
	}

	mux := http.NewServeMux()
	health.New(probe).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Instrument(observe.DefaultMetrics(), mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// ── Reports ───────────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, inputPath string, samples int) {
	audioSeconds := float64(samples) / float64(cfg.Audio.SampleRate)
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Lucent — run summary         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Engine", cfg.Engine.Name)
	printField("Endpoint", cfg.Engine.Endpoint)
	printField("Input", inputPath)
	printField("Audio", fmt.Sprintf("%.1fs @ %d Hz", audioSeconds, cfg.Audio.SampleRate))
	printField("Segment", fmt.Sprintf("%d / %.0f%% overlap", cfg.Audio.SegmentSize, cfg.Audio.OverlapRatio*100))
	printField("Workers", fmt.Sprintf("%d", cfg.Engine.InferenceThreads))
	if cfg.Processing.EnableAGC {
		printField("AGC", fmt.Sprintf("target %.2f", cfg.Processing.AGCTargetLevel))
	} else {
		printField("AGC", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRunReport(stats *pipeline.RunStats, samples, sampleRate int, outputPath string) {
	slog.Info("enhancement complete",
		"output", outputPath,
		"segments", stats.SegmentsTotal(),
		"retried", stats.SegmentsRetried(),
		"degraded", len(stats.DegradedSegments()),
		"avg_segment", stats.AverageSegmentDuration().Round(time.Millisecond),
		"total", stats.TotalDuration().Round(time.Millisecond),
		"rtf", fmt.Sprintf("%.3f", stats.RealTimeFactor(samples, sampleRate)),
	)
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
