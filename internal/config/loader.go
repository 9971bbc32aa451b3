package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidEngineNames lists the engine names shipped with the binary. Used by
// [Validate] to warn about likely typos without rejecting third-party
// registrations.
var ValidEngineNames = []string{"rest", "realtime", "mock"}

// maxRetryLimit caps engine.max_retries; anything larger points at a
// misconfigured value rather than a real retry budget.
const maxRetryLimit = 10

// Load reads the YAML configuration file at path, layered over [Default],
// and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine
	if cfg.Engine.Name == "" {
		errs = append(errs, errors.New("engine.name is required"))
	} else if !slices.Contains(ValidEngineNames, cfg.Engine.Name) {
		slog.Warn("unknown engine name — may be a typo or third-party engine",
			"name", cfg.Engine.Name,
			"known", ValidEngineNames,
		)
	}
	if cfg.Engine.Endpoint == "" {
		errs = append(errs, errors.New("engine.endpoint is required"))
	}
	if cfg.Engine.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.request_timeout %v must be positive", cfg.Engine.RequestTimeout.Std()))
	}
	if cfg.Engine.MaxRetries < 0 || cfg.Engine.MaxRetries > maxRetryLimit {
		errs = append(errs, fmt.Errorf("engine.max_retries %d is out of range [0, %d]", cfg.Engine.MaxRetries, maxRetryLimit))
	}
	if cfg.Engine.InferenceThreads < 1 {
		errs = append(errs, fmt.Errorf("engine.inference_threads %d must be at least 1", cfg.Engine.InferenceThreads))
	} else if limit := 2 * runtime.NumCPU(); cfg.Engine.InferenceThreads > limit {
		errs = append(errs, fmt.Errorf("engine.inference_threads %d exceeds twice the CPU count (%d)", cfg.Engine.InferenceThreads, limit))
	}

	// Audio
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 48000]", cfg.Audio.SampleRate))
	}
	if cfg.Audio.SegmentSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.segment_size %d must be positive", cfg.Audio.SegmentSize))
	} else if cfg.Audio.SegmentSize%2 != 0 {
		errs = append(errs, fmt.Errorf("audio.segment_size %d must be even", cfg.Audio.SegmentSize))
	}
	if cfg.Audio.OverlapRatio < 0 || cfg.Audio.OverlapRatio >= 1 {
		errs = append(errs, fmt.Errorf("audio.overlap_ratio %g is out of range [0, 1)", cfg.Audio.OverlapRatio))
	}

	// Processing
	if cfg.Processing.EnableAGC {
		if cfg.Processing.AGCTargetLevel <= 0 || cfg.Processing.AGCTargetLevel > 1 {
			errs = append(errs, fmt.Errorf("processing.agc_target_level %g is out of range (0, 1]", cfg.Processing.AGCTargetLevel))
		}
	}
	if cfg.Processing.OnFailure != "" && !cfg.Processing.OnFailure.IsValid() {
		errs = append(errs, fmt.Errorf("processing.on_failure %q is invalid; valid values: abort, degrade", cfg.Processing.OnFailure))
	}

	return errors.Join(errs...)
}
