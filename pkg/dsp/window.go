// Package dsp implements the sample-level building blocks of the enhancement
// pipeline: segment planning over a stream, padded frame extraction, weighted
// overlap-add reconstruction, and output gain normalization.
//
// All functions operate on mono float32 samples in the range [-1, 1]. Nothing
// in this package performs I/O or touches the inference engine; it is pure
// arithmetic so that the pipeline coordinator can be tested against it
// deterministically.
package dsp

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

// ErrInvalidConfig is returned when windowing parameters cannot describe a
// valid segmentation (zero segment size, overlap ratio outside [0, 1)).
var ErrInvalidConfig = errors.New("dsp: invalid configuration")

// SegmentSpec describes one window over the input stream. Start and Length
// are in samples and always refer to real stream content; the final segment
// may have Length < segment size and is zero-padded by [FrameBuffer].
type SegmentSpec struct {
	// Index is the zero-based position of the segment in the plan.
	Index int

	// Start is the offset of the first sample in the stream.
	Start int

	// Length is the number of real stream samples the segment covers.
	Length int

	// OverlapFront is the number of leading samples shared with the
	// previous segment. Zero for the first segment.
	OverlapFront int

	// OverlapBack is the number of trailing samples shared with the next
	// segment. Zero for the last segment.
	OverlapBack int
}

// FadeEnvelope holds the complementary raised-cosine crossfade ramps used to
// blend adjacent segments. Rise goes 0 to 1, Fall is its complement, and
// Rise[k]+Fall[k] == 1 exactly for every k, which keeps the accumulated
// weight flat at 1 across interior overlaps. The envelope is computed once
// per plan and shared read-only.
type FadeEnvelope struct {
	Rise []float32
	Fall []float32
}

// NewFadeEnvelope computes a raised-cosine envelope of the given width.
// Width zero yields empty ramps (no overlap configured).
func NewFadeEnvelope(width int) *FadeEnvelope {
	env := &FadeEnvelope{
		Rise: make([]float32, width),
		Fall: make([]float32, width),
	}
	denom := float64(width - 1)
	if denom < 1 {
		denom = 1
	}
	for k := 0; k < width; k++ {
		fall := float32(0.5 * (1 + math.Cos(math.Pi*float64(k)/denom)))
		env.Fall[k] = fall
		env.Rise[k] = 1 - fall
	}
	return env
}

// Width returns the number of samples the envelope spans.
func (e *FadeEnvelope) Width() int { return len(e.Rise) }

// Plan is the windowing policy for one stream: a deterministic sequence of
// overlapping [SegmentSpec] values plus the shared [FadeEnvelope]. Plans are
// immutable after construction and safe for concurrent reads.
type Plan struct {
	streamLen    int
	segmentSize  int
	overlapWidth int
	hop          int
	count        int
	envelope     *FadeEnvelope
}

// NewPlan validates the windowing parameters and computes the segment
// sequence for a stream of streamLen samples. The hop between segment starts
// is segmentSize - floor(segmentSize*overlapRatio), so a ratio below 1
// always advances. A trailing start that would add no new stream samples
// (everything before the end already covered by its predecessor) is not
// emitted; as a result the last segment always carries more fresh samples
// than the overlap width.
func NewPlan(streamLen, segmentSize int, overlapRatio float64) (*Plan, error) {
	if segmentSize <= 0 {
		return nil, fmt.Errorf("%w: segment size must be positive, got %d", ErrInvalidConfig, segmentSize)
	}
	if overlapRatio < 0 || overlapRatio >= 1 {
		return nil, fmt.Errorf("%w: overlap ratio must be in [0, 1), got %g", ErrInvalidConfig, overlapRatio)
	}
	if streamLen < 0 {
		return nil, fmt.Errorf("%w: negative stream length %d", ErrInvalidConfig, streamLen)
	}

	p := &Plan{
		streamLen:    streamLen,
		segmentSize:  segmentSize,
		overlapWidth: int(float64(segmentSize) * overlapRatio),
		envelope:     nil,
	}
	p.hop = segmentSize - p.overlapWidth
	p.envelope = NewFadeEnvelope(p.overlapWidth)

	if streamLen > 0 {
		p.count = 1
		// Starts k*hop for k >= 1 are emitted while they still begin
		// before streamLen - overlapWidth.
		if rem := streamLen - p.overlapWidth; rem > p.hop {
			p.count += (rem - 1) / p.hop
		}
	}
	return p, nil
}

// Count returns the number of segments the plan emits.
func (p *Plan) Count() int { return p.count }

// SegmentSize returns the fixed model input size in samples.
func (p *Plan) SegmentSize() int { return p.segmentSize }

// OverlapWidth returns the crossfade width in samples.
func (p *Plan) OverlapWidth() int { return p.overlapWidth }

// Hop returns the distance between consecutive segment starts.
func (p *Plan) Hop() int { return p.hop }

// StreamLen returns the stream length the plan was built for.
func (p *Plan) StreamLen() int { return p.streamLen }

// Envelope returns the shared crossfade envelope.
func (p *Plan) Envelope() *FadeEnvelope { return p.envelope }

// Spec returns the segment at the given index. Panics if the index is out of
// range; callers iterate indices obtained from the plan itself.
func (p *Plan) Spec(index int) SegmentSpec {
	if index < 0 || index >= p.count {
		panic(fmt.Sprintf("dsp: segment index %d out of range [0,%d)", index, p.count))
	}
	start := index * p.hop
	spec := SegmentSpec{
		Index:  index,
		Start:  start,
		Length: min(p.segmentSize, p.streamLen-start),
	}
	if index > 0 {
		spec.OverlapFront = p.overlapWidth
	}
	if index < p.count-1 {
		spec.OverlapBack = p.overlapWidth
	}
	return spec
}

// Segments returns the segment sequence in strictly increasing start order.
// The sequence is lazy and restartable; ranging over it twice yields the
// same specs.
func (p *Plan) Segments() iter.Seq2[int, SegmentSpec] {
	return func(yield func(int, SegmentSpec) bool) {
		for i := 0; i < p.count; i++ {
			if !yield(i, p.Spec(i)) {
				return
			}
		}
	}
}
