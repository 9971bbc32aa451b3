// Package pipeline coordinates a full enhancement run: it windows the input
// stream into overlapping segments, fans them out to a bounded pool of
// inference workers, merges the results back in order, and applies the
// configured post-processing.
//
// Workers may finish out of order; a single merge stage buffers early
// arrivals in a min-heap and feeds the reconstructor strictly by segment
// index, so the weighted overlap-add stays deterministic regardless of
// scheduling.
package pipeline

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucentaudio/lucent/internal/observe"
	"github.com/lucentaudio/lucent/internal/resilience"
	"github.com/lucentaudio/lucent/pkg/dsp"
	"github.com/lucentaudio/lucent/pkg/engine"
)

// FailurePolicy selects the reaction to a segment that exhausted its retry
// budget.
type FailurePolicy int

const (
	// Abort stops the run on the first exhausted segment.
	Abort FailurePolicy = iota

	// Degrade merges the raw, unenhanced segment and keeps going.
	Degrade
)

// Config holds the per-runner processing parameters. The zero value is not
// usable; fill every field or go through [New]'s defaulting.
type Config struct {
	// SegmentSize is the fixed model input length in samples.
	SegmentSize int

	// OverlapRatio is the fraction of each segment shared with its
	// neighbours, in [0, 1).
	OverlapRatio float64

	// Workers is the number of segments enhanced in parallel.
	Workers int

	// MaxRetries is the number of additional attempts after a failed
	// inference call.
	MaxRetries int

	// RequestTimeout bounds a single inference call.
	RequestTimeout time.Duration

	// OnFailure selects the exhaustion reaction.
	OnFailure FailurePolicy

	// EngineName labels the backend in metrics and logs.
	EngineName string

	// EnableAGC applies gain normalization to the final output.
	EnableAGC bool

	// AGCTargetLevel is the RMS level normalization aims for.
	AGCTargetLevel float64
}

// Runner drives enhancement runs against one engine. A Runner may be reused
// for several streams, but each Run call owns its accumulator and statistics;
// nothing is shared between runs.
type Runner struct {
	engine  engine.Engine
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics
}

// Option is a functional option for configuring a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner. Zero Workers defaults to 1; a zero RequestTimeout
// defaults to 30 seconds. Windowing parameters are validated on each Run,
// not here, so a Runner can be built before the stream is known.
func New(eng engine.Engine, cfg Config, opts ...Option) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.EngineName == "" {
		cfg.EngineName = "engine"
	}
	r := &Runner{engine: eng, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run enhances one stream and returns the reconstructed output together with
// the run statistics. On error the partial statistics are still returned so
// callers can report how far the run got; the output is nil and the
// accumulated audio is discarded. Cancelling ctx stops the run between
// segments.
func (r *Runner) Run(ctx context.Context, samples []float32) ([]float32, *RunStats, error) {
	plan, err := dsp.NewPlan(len(samples), r.cfg.SegmentSize, r.cfg.OverlapRatio)
	if err != nil {
		return nil, nil, err
	}
	stats := newRunStats(plan.Count())
	if plan.Count() == 0 {
		return []float32{}, stats, nil
	}

	r.metrics.ActiveRuns.Add(ctx, 1)
	defer r.metrics.ActiveRuns.Add(ctx, -1)

	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	r.logger.Info("starting enhancement run",
		"samples", len(samples),
		"segments", plan.Count(),
		"segment_size", r.cfg.SegmentSize,
		"overlap", plan.OverlapWidth(),
		"workers", r.cfg.Workers,
	)

	frames := dsp.NewFrameBuffer(samples, r.cfg.SegmentSize)
	acc := dsp.NewAccumulator(plan)
	gw := &gateway{
		engine:     r.engine,
		engineName: r.cfg.EngineName,
		timeout:    r.cfg.RequestTimeout,
		maxRetries: r.cfg.MaxRetries,
		breaker:    resilience.New(resilience.Config{Engine: r.cfg.EngineName}),
		metrics:    r.metrics,
		stats:      stats,
	}

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	// Feed segment specs to the workers.
	tasks := make(chan dsp.SegmentSpec)
	g.Go(func() error {
		defer close(tasks)
		for _, spec := range plan.Segments() {
			select {
			case tasks <- spec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Worker pool: fetch and infer in parallel.
	results := make(chan segmentResult, r.cfg.Workers)
	var pool errgroup.Group
	for range r.cfg.Workers {
		pool.Go(func() error {
			for spec := range tasks {
				res, err := r.processSegment(gctx, gw, frames, spec, stats)
				if err != nil {
					return err
				}
				select {
				case results <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(results)
		return pool.Wait()
	})

	// Merge stage: reorder by index, feed the accumulator.
	g.Go(func() error {
		pending := &resultHeap{}
		next := 0
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case res, ok := <-results:
				if !ok {
					if next != plan.Count() {
						return errors.New("pipeline: workers stopped before all segments were merged")
					}
					return nil
				}
				heap.Push(pending, res)
				for pending.Len() > 0 && (*pending)[0].index == next {
					head := heap.Pop(pending).(segmentResult)
					if err := r.merge(gctx, acc, plan.Spec(head.index), head, stats); err != nil {
						return err
					}
					next++
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		stats.totalDuration = time.Since(started)
		return nil, stats, err
	}

	out, err := acc.Finalize()
	if err != nil {
		stats.totalDuration = time.Since(started)
		return nil, stats, err
	}

	if r.cfg.EnableAGC {
		gain := dsp.Normalize(out, r.cfg.AGCTargetLevel)
		r.logger.Debug("applied gain normalization", "gain", gain, "target", r.cfg.AGCTargetLevel)
	}

	stats.totalDuration = time.Since(started)
	r.metrics.RunDuration.Record(ctx, stats.totalDuration.Seconds())
	r.logger.Info("enhancement run finished",
		"duration", stats.totalDuration,
		"segments", stats.SegmentsTotal(),
		"retried", stats.SegmentsRetried(),
		"failed", stats.SegmentsFailed(),
	)
	return out, stats, nil
}

// processSegment runs fetch and inference for one segment. An exhausted
// segment either aborts the run or is flagged for raw passthrough, depending
// on the failure policy; fatal errors always abort.
func (r *Runner) processSegment(ctx context.Context, gw *gateway, frames *dsp.FrameBuffer, spec dsp.SegmentSpec, stats *RunStats) (segmentResult, error) {
	r.metrics.InFlightSegments.Add(ctx, 1)
	defer r.metrics.InFlightSegments.Add(ctx, -1)

	started := time.Now()
	frame, err := frames.Frame(spec)
	if err != nil {
		return segmentResult{}, err
	}

	enhanced, err := gw.enhance(ctx, frame)
	elapsed := time.Since(started)
	stats.recordDuration(spec.Index, elapsed)

	if err != nil {
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) && r.cfg.OnFailure == Degrade {
			r.logger.Warn("segment degraded to raw passthrough",
				"segment", spec.Index,
				"attempts", exhausted.Attempts,
				"error", exhausted.Err,
			)
			return segmentResult{
				index:    spec.Index,
				raw:      frame.Samples,
				padding:  frame.Padding,
				degraded: true,
				duration: elapsed.Seconds(),
			}, nil
		}
		return segmentResult{}, err
	}

	return segmentResult{
		index:    spec.Index,
		enhanced: enhanced,
		padding:  frame.Padding,
		duration: elapsed.Seconds(),
	}, nil
}

// merge feeds one result into the accumulator and records its metrics.
func (r *Runner) merge(ctx context.Context, acc *dsp.Accumulator, spec dsp.SegmentSpec, res segmentResult, stats *RunStats) error {
	samples := res.enhanced
	status := "enhanced"
	if res.degraded {
		samples = res.raw
		status = "degraded"
		stats.markDegraded(res.index)
	}
	if err := acc.Merge(spec, samples); err != nil {
		return err
	}
	r.metrics.RecordSegment(ctx, status, res.duration)
	return nil
}
