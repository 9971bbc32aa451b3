// Package mock provides a scriptable test double for the engine package.
//
// Use Engine to control exactly what each Enhance call returns: a transform
// of the input, a scripted error sequence, or a shape-mismatched buffer.
// Call records are kept so tests can assert how the pipeline drove the
// engine.
//
// Example:
//
//	eng := &mock.Engine{
//	    EnhanceErrs: []error{engine.MarkRetryable(errTimeout), nil},
//	}
//	// First call fails transiently, second succeeds.
package mock

import (
	"context"
	"sync"

	"github.com/lucentaudio/lucent/pkg/engine"
)

// EnhanceCall records a single invocation of Engine.Enhance.
type EnhanceCall struct {
	// Samples is a copy of the segment passed to Enhance.
	Samples []float32
}

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	mu sync.Mutex

	// Transform, if non-nil, produces the returned samples from the
	// input. If nil, Enhance echoes the input back unchanged.
	Transform func(samples []float32) []float32

	// EnhanceErrs is consumed one entry per call; a nil entry means the
	// call succeeds. Once exhausted, calls succeed.
	EnhanceErrs []error

	// EnhanceErr, if non-nil, is returned by every Enhance call after
	// EnhanceErrs is exhausted.
	EnhanceErr error

	// OutputLength, if non-zero, overrides the length of the returned
	// buffer to simulate a shape mismatch.
	OutputLength int

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// EnhanceCalls records every call to Enhance in order.
	EnhanceCalls []EnhanceCall

	// WarmUpCallCount is the number of times WarmUp was called.
	WarmUpCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Enhance records the call, consumes the next scripted error, and returns
// the transformed (default: echoed) samples.
func (e *Engine) Enhance(ctx context.Context, samples []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make([]float32, len(samples))
	copy(cp, samples)
	e.EnhanceCalls = append(e.EnhanceCalls, EnhanceCall{Samples: cp})

	if len(e.EnhanceErrs) > 0 {
		err := e.EnhanceErrs[0]
		e.EnhanceErrs = e.EnhanceErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if e.EnhanceErr != nil {
		return nil, e.EnhanceErr
	}

	out := cp
	if e.Transform != nil {
		out = e.Transform(cp)
	}
	if e.OutputLength != 0 {
		out = make([]float32, e.OutputLength)
	}
	return out, nil
}

// WarmUp records the call and succeeds.
func (e *Engine) WarmUp(ctx context.Context, segmentSize int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.WarmUpCallCount++
	return nil
}

// Close records the call and returns CloseErr.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// EnhanceCallCount returns the number of Enhance calls. Thread-safe.
func (e *Engine) EnhanceCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.EnhanceCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EnhanceCalls = nil
	e.WarmUpCallCount = 0
	e.CloseCallCount = 0
}

// Ensure Engine implements the engine interfaces at compile time.
var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Warmer = (*Engine)(nil)
)
