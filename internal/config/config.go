// Package config provides the configuration schema, loader, and engine
// registry for the Lucent enhancement pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so values like "30s" or "1m30s" work in the
// YAML schema.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the Lucent CLI.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// FailurePolicy selects how the pipeline reacts when a segment exhausts its
// retry budget.
type FailurePolicy string

const (
	// FailAbort stops the whole run on the first exhausted segment.
	FailAbort FailurePolicy = "abort"

	// FailDegrade passes the raw, unenhanced segment through and keeps
	// going, recording which segments were degraded.
	FailDegrade FailurePolicy = "degrade"
)

// IsValid reports whether f is a recognised failure policy.
func (f FailurePolicy) IsValid() bool {
	return f == FailAbort || f == FailDegrade
}

// Config is the root configuration structure for Lucent.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	Audio      AudioConfig      `yaml:"audio"`
	Processing ProcessingConfig `yaml:"processing"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics and health
	// endpoints listen on (e.g., ":9309"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// EngineConfig selects and configures the inference backend. The Name field
// is used to look up the constructor in the [Registry].
type EngineConfig struct {
	// Name selects the registered engine implementation (e.g., "rest",
	// "realtime").
	Name string `yaml:"name"`

	// Endpoint is the backend URL. Scheme depends on the engine: http(s)
	// for rest, ws(s) for realtime.
	Endpoint string `yaml:"endpoint"`

	// APIKey is the authentication token for the backend, if any.
	APIKey string `yaml:"api_key"`

	// RequestTimeout bounds a single inference call, not the whole
	// segment including retries.
	RequestTimeout Duration `yaml:"request_timeout"`

	// MaxRetries is the number of additional attempts after a failed
	// inference call. Zero disables retries entirely.
	MaxRetries int `yaml:"max_retries"`

	// InferenceThreads is the number of segments processed in parallel.
	InferenceThreads int `yaml:"inference_threads"`

	// WarmUp runs one silent segment through the backend before real
	// processing starts.
	WarmUp bool `yaml:"warm_up"`
}

// AudioConfig holds the windowing parameters.
type AudioConfig struct {
	// SampleRate is the processing rate in Hz. Input at a different rate
	// is resampled before segmentation.
	SampleRate int `yaml:"sample_rate"`

	// SegmentSize is the fixed model input length in samples.
	SegmentSize int `yaml:"segment_size"`

	// OverlapRatio is the fraction of each segment shared with its
	// neighbours, in [0, 1).
	OverlapRatio float64 `yaml:"overlap_ratio"`
}

// ProcessingConfig holds post-processing and failure handling settings.
type ProcessingConfig struct {
	// EnableAGC applies automatic gain normalization to the final output.
	EnableAGC bool `yaml:"enable_agc"`

	// AGCTargetLevel is the RMS level the output is nudged toward, in
	// (0, 1]. Only used when EnableAGC is true.
	AGCTargetLevel float64 `yaml:"agc_target_level"`

	// OnFailure selects the reaction to an exhausted segment.
	OnFailure FailurePolicy `yaml:"on_failure"`
}

// Default returns the configuration used when no file and no flags override
// a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Engine: EngineConfig{
			Name:             "rest",
			Endpoint:         "http://localhost:8310",
			RequestTimeout:   Duration(30 * time.Second),
			MaxRetries:       3,
			InferenceThreads: 4,
			WarmUp:           true,
		},
		Audio: AudioConfig{
			SampleRate:   16000,
			SegmentSize:  16000,
			OverlapRatio: 0.1,
		},
		Processing: ProcessingConfig{
			EnableAGC:      false,
			AGCTargetLevel: 0.2,
			OnFailure:      FailAbort,
		},
	}
}
