package dsp

import (
	"errors"
	"fmt"
)

// ErrFinalized is returned by Merge after Finalize has been called.
var ErrFinalized = errors.New("dsp: accumulator already finalized")

// GapError reports a stream position that no segment contributed weight to
// during reconstruction. A well-formed plan never produces one; seeing it
// means segments were skipped or merged against a mismatched plan.
type GapError struct {
	// Sample is the first uncovered stream position.
	Sample int
}

func (e *GapError) Error() string {
	return fmt.Sprintf("dsp: no segment covered sample %d during reconstruction", e.Sample)
}

// Accumulator reconstructs the output stream from enhanced segments by
// weighted overlap-add. Merge must be called once per segment in strictly
// increasing index order; Finalize then divides the accumulated samples by
// the accumulated weight. Not safe for concurrent use.
type Accumulator struct {
	acc    []float32
	weight []float32
	env    *FadeEnvelope
	next   int
	out    []float32
	done   bool
}

// NewAccumulator prepares sample and weight buffers sized to the plan's
// stream and shares the plan's fade envelope.
func NewAccumulator(p *Plan) *Accumulator {
	return &Accumulator{
		acc:    make([]float32, p.streamLen),
		weight: make([]float32, p.streamLen),
		env:    p.envelope,
	}
}

// Merge accumulates one enhanced segment. enhanced must hold at least
// spec.Length samples; anything beyond that (the padded tail) is discarded.
// The first spec.OverlapFront samples ramp up, the last spec.OverlapBack
// samples ramp down, everything between carries full weight.
func (a *Accumulator) Merge(spec SegmentSpec, enhanced []float32) error {
	if a.done {
		return ErrFinalized
	}
	if spec.Index != a.next {
		return fmt.Errorf("dsp: segment %d merged out of order, expected %d", spec.Index, a.next)
	}
	if len(enhanced) < spec.Length {
		return fmt.Errorf("dsp: segment %d has %d samples, need %d", spec.Index, len(enhanced), spec.Length)
	}
	fallFrom := spec.Length - spec.OverlapBack
	for i := 0; i < spec.Length; i++ {
		w := float32(1)
		switch {
		case i < spec.OverlapFront:
			w = a.env.Rise[i]
		case i >= fallFrom:
			w = a.env.Fall[i-fallFrom]
		}
		pos := spec.Start + i
		a.acc[pos] += w * enhanced[i]
		a.weight[pos] += w
	}
	a.next++
	return nil
}

// Finalize divides the accumulated samples by their weights and returns the
// reconstructed stream. Finalize is idempotent; repeated calls return the
// same slice. A zero weight anywhere yields a [*GapError].
func (a *Accumulator) Finalize() ([]float32, error) {
	if a.done {
		return a.out, nil
	}
	out := make([]float32, len(a.acc))
	for i, w := range a.weight {
		if w <= 0 {
			return nil, &GapError{Sample: i}
		}
		out[i] = a.acc[i] / w
	}
	a.out = out
	a.done = true
	return out, nil
}
