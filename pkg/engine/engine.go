// Package engine defines the contract between the enhancement pipeline and
// the inference backends that actually denoise audio. The pipeline treats a
// backend as a black box: fixed-size float32 segments in, equally sized
// segments out.
//
// Implementations live in subpackages (rest, realtime, mock) and are
// constructed through the configuration registry.
package engine

import (
	"context"
	"errors"
)

// Engine enhances one audio segment per call. Enhance must return a buffer
// of exactly the input length; the pipeline treats any other length as a
// fatal shape mismatch. Implementations must be safe for concurrent Enhance
// calls, as the pipeline fans segments out across workers.
type Engine interface {
	// Enhance denoises the given segment. The input slice is owned by the
	// caller and must not be retained; the returned slice is owned by the
	// pipeline.
	Enhance(ctx context.Context, samples []float32) ([]float32, error)

	// Close releases the backend connection. Enhance must not be called
	// after Close.
	Close() error
}

// Warmer is implemented by engines that benefit from a throwaway inference
// pass before real traffic, so that model loading and connection setup do
// not land on the first segment's latency.
type Warmer interface {
	WarmUp(ctx context.Context, segmentSize int) error
}

// ErrClosed is returned by Enhance after the engine has been closed.
var ErrClosed = errors.New("engine: closed")

// retryable wraps an error to mark the failed call as worth repeating.
type retryable struct {
	err error
}

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// MarkRetryable wraps err so that [IsRetryable] reports true for it.
// Engines use it for transient conditions such as timeouts, connection
// resets, and backend overload responses. A nil err returns nil.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryable{err: err}
}

// IsRetryable reports whether err (or anything it wraps) was marked
// retryable by an engine, or is a deadline expiry from a per-call timeout.
func IsRetryable(err error) bool {
	var r *retryable
	if errors.As(err, &r) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
