package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucentaudio/lucent/internal/observe"
	"github.com/lucentaudio/lucent/internal/resilience"
	"github.com/lucentaudio/lucent/pkg/dsp"
	"github.com/lucentaudio/lucent/pkg/engine"
)

// retryDelay is the pause between inference attempts on the same segment.
const retryDelay = 100 * time.Millisecond

// ExhaustedError reports a segment whose transient failures outlasted the
// retry budget. The degrade failure policy converts it into a raw passthrough
// for that segment; the abort policy fails the run with it.
type ExhaustedError struct {
	// Segment is the index of the failing segment.
	Segment int

	// Attempts is the total number of inference calls made.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pipeline: segment %d: inference failed after %d attempts: %v", e.Segment, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// FatalError reports a non-retryable engine failure: a rejected request, a
// protocol violation, or an output shape mismatch. It always aborts the run
// regardless of failure policy.
type FatalError struct {
	// Segment is the index of the failing segment.
	Segment int

	// Err describes the failure.
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pipeline: segment %d: %v", e.Segment, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// gateway wraps the engine with per-call timeouts, a bounded retry loop, and
// result shape validation. One gateway serves all workers of a run; it holds
// no per-call state.
type gateway struct {
	engine     engine.Engine
	engineName string
	timeout    time.Duration
	maxRetries int
	breaker    *resilience.Breaker
	metrics    *observe.Metrics
	stats      *RunStats
}

// enhance runs inference for one frame, retrying transient failures until
// the budget is spent. A successful call whose output length differs from the
// input is a shape mismatch and fails fatally.
func (g *gateway) enhance(ctx context.Context, frame dsp.Frame) ([]float32, error) {
	var lastErr error
	retried := false

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			if !retried {
				retried = true
				g.stats.markRetried()
				g.metrics.SegmentsRetried.Add(ctx, 1)
			}
			g.metrics.InferenceRetries.Add(ctx, 1)
			observe.Logger(ctx).Warn("retrying segment",
				"segment", frame.Index,
				"attempt", attempt,
				"max_retries", g.maxRetries,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		started := time.Now()
		var enhanced []float32
		err := g.breaker.Execute(func() error {
			var callErr error
			enhanced, callErr = g.engine.Enhance(callCtx, frame.Samples)
			return callErr
		})
		g.metrics.InferenceDuration.Record(ctx, time.Since(started).Seconds())
		cancel()

		if err == nil {
			if len(enhanced) != len(frame.Samples) {
				g.metrics.RecordEngineError(ctx, g.engineName, "shape_mismatch")
				return nil, &FatalError{
					Segment: frame.Index,
					Err:     fmt.Errorf("engine returned %d samples for a %d sample segment", len(enhanced), len(frame.Samples)),
				}
			}
			g.metrics.RecordEngineRequest(ctx, g.engineName, "ok")
			return enhanced, nil
		}

		// The run being cancelled is not an engine failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		g.metrics.RecordEngineRequest(ctx, g.engineName, "error")
		// An open breaker counts as transient: the backend may recover
		// within the retry budget.
		if !engine.IsRetryable(err) && !errors.Is(err, resilience.ErrEngineUnavailable) {
			g.metrics.RecordEngineError(ctx, g.engineName, "fatal")
			return nil, &FatalError{Segment: frame.Index, Err: err}
		}
		g.metrics.RecordEngineError(ctx, g.engineName, "transient")
		lastErr = err
	}

	g.stats.markFailed()
	return nil, &ExhaustedError{
		Segment:  frame.Index,
		Attempts: g.maxRetries + 1,
		Err:      lastErr,
	}
}
