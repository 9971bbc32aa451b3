package dsp

import "fmt"

// Frame is an independent, fixed-length copy of one segment's samples, ready
// for inference. Samples never aliases the source stream, so the engine and
// the pipeline workers can hold frames concurrently without coordination.
type Frame struct {
	// Index mirrors the segment index from the plan.
	Index int

	// Samples has exactly the model input length. Trailing synthetic
	// zeros are counted in Padding.
	Samples []float32

	// Padding is the number of trailing zero samples appended to reach
	// the model input length. Only the final segment can be padded.
	Padding int
}

// FrameBuffer extracts padded segment copies from an immutable sample
// stream. The buffer itself holds only a reference to the stream and is safe
// for concurrent Frame calls.
type FrameBuffer struct {
	samples     []float32
	segmentSize int
}

// NewFrameBuffer wraps the stream. The stream must not be mutated while the
// buffer is in use.
func NewFrameBuffer(samples []float32, segmentSize int) *FrameBuffer {
	return &FrameBuffer{samples: samples, segmentSize: segmentSize}
}

// Frame copies the samples described by spec into a fresh buffer of the
// model input length, zero-padding the tail when the segment covers less
// than a full window.
func (b *FrameBuffer) Frame(spec SegmentSpec) (Frame, error) {
	if spec.Start < 0 || spec.Start+spec.Length > len(b.samples) {
		return Frame{}, fmt.Errorf("dsp: segment %d spans [%d, %d) outside stream of %d samples",
			spec.Index, spec.Start, spec.Start+spec.Length, len(b.samples))
	}
	if spec.Length > b.segmentSize {
		return Frame{}, fmt.Errorf("dsp: segment %d length %d exceeds segment size %d",
			spec.Index, spec.Length, b.segmentSize)
	}
	out := make([]float32, b.segmentSize)
	copy(out, b.samples[spec.Start:spec.Start+spec.Length])
	return Frame{
		Index:   spec.Index,
		Samples: out,
		Padding: b.segmentSize - spec.Length,
	}, nil
}
