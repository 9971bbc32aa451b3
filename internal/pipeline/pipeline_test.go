package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lucentaudio/lucent/pkg/dsp"
	"github.com/lucentaudio/lucent/pkg/engine"
	"github.com/lucentaudio/lucent/pkg/engine/mock"
)

func sineStream(n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*float64(i)/480))
	}
	return out
}

func assertNear(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if diff := math.Abs(float64(got[i]) - float64(want[i])); diff > tol {
			t.Fatalf("sample %d: got %v, want %v (diff %v)", i, got[i], want[i], diff)
		}
	}
}

func testConfig() Config {
	return Config{
		SegmentSize:    16000,
		OverlapRatio:   0.1,
		Workers:        4,
		MaxRetries:     3,
		RequestTimeout: 5 * time.Second,
		EngineName:     "mock",
	}
}

func TestRun_Identity(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{}
	runner := New(eng, testConfig())

	in := sineStream(32000, 0.5)
	out, stats, err := runner.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertNear(t, out, in, 1e-5)

	if got := stats.SegmentsTotal(); got != 3 {
		t.Errorf("SegmentsTotal() = %d, want 3", got)
	}
	if got := stats.SegmentsRetried(); got != 0 {
		t.Errorf("SegmentsRetried() = %d, want 0", got)
	}
	if got := eng.EnhanceCallCount(); got != 3 {
		t.Errorf("engine called %d times, want 3", got)
	}
	if stats.TotalDuration() <= 0 {
		t.Error("TotalDuration() should be positive after a run")
	}
	if got := len(stats.PerSegmentDurations()); got != 3 {
		t.Errorf("PerSegmentDurations() has %d entries, want 3", got)
	}
	if stats.AverageSegmentDuration() <= 0 {
		t.Error("AverageSegmentDuration() should be positive")
	}
	if rtf := stats.RealTimeFactor(len(in), 16000); rtf <= 0 {
		t.Errorf("RealTimeFactor() = %v, want > 0", rtf)
	}
}

func TestRun_AppliesTransform(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{
		Transform: func(samples []float32) []float32 {
			out := make([]float32, len(samples))
			for i, s := range samples {
				out[i] = s / 2
			}
			return out
		},
	}
	runner := New(eng, testConfig())

	in := sineStream(20000, 0.8)
	out, _, err := runner.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := make([]float32, len(in))
	for i, s := range in {
		want[i] = s / 2
	}
	assertNear(t, out, want, 1e-5)
}

func TestRun_ShortStreamPadded(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{}
	runner := New(eng, testConfig())

	in := sineStream(5000, 0.5)
	out, stats, err := runner.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.SegmentsTotal() != 1 {
		t.Fatalf("SegmentsTotal() = %d, want 1", stats.SegmentsTotal())
	}
	// The engine must see a full padded segment, the output only the
	// original samples.
	if got := len(eng.EnhanceCalls[0].Samples); got != 16000 {
		t.Errorf("engine received %d samples, want 16000", got)
	}
	assertNear(t, out, in, 1e-5)
}

func TestRun_EmptyStream(t *testing.T) {
	t.Parallel()

	runner := New(&mock.Engine{}, testConfig())
	out, stats, err := runner.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output length = %d, want 0", len(out))
	}
	if stats.SegmentsTotal() != 0 {
		t.Errorf("SegmentsTotal() = %d, want 0", stats.SegmentsTotal())
	}
}

func TestRun_InvalidWindowing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OverlapRatio = 1.0
	runner := New(&mock.Engine{}, cfg)

	_, _, err := runner.Run(context.Background(), sineStream(32000, 0.5))
	if !errors.Is(err, dsp.ErrInvalidConfig) {
		t.Fatalf("Run() error = %v, want ErrInvalidConfig", err)
	}
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	errTimeout := engine.MarkRetryable(errors.New("upstream timeout"))
	eng := &mock.Engine{
		EnhanceErrs: []error{errTimeout, errTimeout},
	}
	cfg := testConfig()
	cfg.Workers = 1
	runner := New(eng, cfg)

	in := sineStream(32000, 0.5)
	out, stats, err := runner.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertNear(t, out, in, 1e-5)

	// Segment 0 needed two retries but counts as a single retried segment.
	if got := stats.SegmentsRetried(); got != 1 {
		t.Errorf("SegmentsRetried() = %d, want 1", got)
	}
	if got := stats.SegmentsFailed(); got != 0 {
		t.Errorf("SegmentsFailed() = %d, want 0", got)
	}
	if got := eng.EnhanceCallCount(); got != 5 {
		t.Errorf("engine called %d times, want 5", got)
	}
}

func TestRun_ExhaustedAborts(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{
		EnhanceErr: engine.MarkRetryable(errors.New("service overloaded")),
	}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.MaxRetries = 2
	runner := New(eng, cfg)

	out, stats, err := runner.Run(context.Background(), sineStream(32000, 0.5))
	if out != nil {
		t.Error("output should be nil on abort")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Run() error = %v, want ExhaustedError", err)
	}
	if exhausted.Segment != 0 {
		t.Errorf("Segment = %d, want 0", exhausted.Segment)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if got := stats.SegmentsFailed(); got != 1 {
		t.Errorf("SegmentsFailed() = %d, want 1", got)
	}
}

func TestRun_DegradePolicy(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{
		EnhanceErr: engine.MarkRetryable(errors.New("service overloaded")),
	}
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.OnFailure = Degrade
	runner := New(eng, cfg)

	in := sineStream(32000, 0.5)
	out, stats, err := runner.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Every segment fell back to the raw input, so the reconstruction
	// reproduces the stream.
	assertNear(t, out, in, 1e-5)

	degraded := stats.DegradedSegments()
	if len(degraded) != 3 {
		t.Fatalf("DegradedSegments() = %v, want 3 entries", degraded)
	}
	for i, idx := range degraded {
		if idx != i {
			t.Errorf("DegradedSegments()[%d] = %d, want %d", i, idx, i)
		}
	}
	if got := stats.SegmentsFailed(); got != 3 {
		t.Errorf("SegmentsFailed() = %d, want 3", got)
	}
}

func TestRun_ShapeMismatchIsFatal(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{OutputLength: 100}
	cfg := testConfig()
	cfg.OnFailure = Degrade // must not save a fatal error
	runner := New(eng, cfg)

	out, _, err := runner.Run(context.Background(), sineStream(32000, 0.5))
	if out != nil {
		t.Error("output should be nil on abort")
	}
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Run() error = %v, want FatalError", err)
	}
}

func TestRun_NonRetryableIsFatal(t *testing.T) {
	t.Parallel()

	errRejected := errors.New("model rejected input")
	eng := &mock.Engine{EnhanceErrs: []error{errRejected}}
	cfg := testConfig()
	cfg.Workers = 1
	runner := New(eng, cfg)

	_, _, err := runner.Run(context.Background(), sineStream(32000, 0.5))
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Run() error = %v, want FatalError", err)
	}
	if fatal.Segment != 0 {
		t.Errorf("Segment = %d, want 0", fatal.Segment)
	}
	if !errors.Is(err, errRejected) {
		t.Error("FatalError should wrap the engine error")
	}
	// A single attempt, no retries.
	if got := eng.EnhanceCallCount(); got < 1 {
		t.Errorf("engine called %d times, want at least 1", got)
	}
}

func TestRun_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	eng := &mock.Engine{
		Transform: func(samples []float32) []float32 {
			once.Do(cancel)
			return samples
		},
	}
	cfg := testConfig()
	cfg.Workers = 1
	runner := New(eng, cfg)

	out, stats, err := runner.Run(ctx, sineStream(32000, 0.5))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if out != nil {
		t.Error("output should be discarded on cancellation")
	}
	if stats == nil {
		t.Fatal("stats should be returned even on cancellation")
	}
}

// staggerEngine delays the segment starting at sample zero so later segments
// finish first and the merge stage has to reorder.
type staggerEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *staggerEngine) Enhance(ctx context.Context, samples []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if samples[0] == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	out := make([]float32, len(samples))
	copy(out, samples)
	return out, nil
}

func (e *staggerEngine) Close() error { return nil }

func TestRun_OutOfOrderCompletion(t *testing.T) {
	t.Parallel()

	eng := &staggerEngine{}
	runner := New(eng, testConfig())

	in := sineStream(48000, 0.5)
	// Force a nonzero first sample everywhere except segment 0.
	for i := 1; i < len(in); i++ {
		if in[i] == 0 {
			in[i] = 1e-4
		}
	}

	out, stats, err := runner.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertNear(t, out, in, 1e-5)
	if got := stats.SegmentsTotal(); got != 4 {
		t.Errorf("SegmentsTotal() = %d, want 4", got)
	}
}

func TestRun_AGCNormalizesOutput(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EnableAGC = true
	cfg.AGCTargetLevel = 0.3
	runner := New(&mock.Engine{}, cfg)

	out, _, err := runner.Run(context.Background(), sineStream(32000, 0.05))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var sum float64
	for _, s := range out {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(out)))
	if math.Abs(rms-0.3) > 0.03 {
		t.Errorf("output RMS = %v, want about 0.3", rms)
	}
	for i, s := range out {
		if s > 1 || s < -1 {
			t.Fatalf("sample %d = %v outside [-1, 1]", i, s)
		}
	}
}
