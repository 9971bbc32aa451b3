package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunStats accumulates counters for one stream run. Counter fields are
// updated by concurrent workers through atomics; duration fields are written
// by the coordinator after the workers are done.
type RunStats struct {
	segmentsTotal   int64
	segmentsRetried atomic.Int64
	segmentsFailed  atomic.Int64

	// perSegment is indexed by segment; each worker writes only its own
	// slot, so no locking is needed.
	perSegment []time.Duration

	mu       sync.Mutex
	degraded []int

	totalDuration time.Duration
}

func newRunStats(segments int) *RunStats {
	return &RunStats{
		segmentsTotal: int64(segments),
		perSegment:    make([]time.Duration, segments),
	}
}

func (s *RunStats) markRetried() { s.segmentsRetried.Add(1) }
func (s *RunStats) markFailed()  { s.segmentsFailed.Add(1) }

func (s *RunStats) recordDuration(index int, d time.Duration) {
	s.perSegment[index] = d
}

func (s *RunStats) markDegraded(index int) {
	s.mu.Lock()
	s.degraded = append(s.degraded, index)
	s.mu.Unlock()
}

// SegmentsTotal returns the number of segments the plan produced.
func (s *RunStats) SegmentsTotal() int { return int(s.segmentsTotal) }

// SegmentsRetried returns how many segments needed at least one retry.
// A segment that retries several times still counts once.
func (s *RunStats) SegmentsRetried() int { return int(s.segmentsRetried.Load()) }

// SegmentsFailed returns how many segments exhausted their retry budget.
func (s *RunStats) SegmentsFailed() int { return int(s.segmentsFailed.Load()) }

// DegradedSegments returns the indices of segments that fell back to raw
// audio under the degrade failure policy, in merge order.
func (s *RunStats) DegradedSegments() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.degraded))
	copy(out, s.degraded)
	return out
}

// TotalDuration returns wall-clock time for the whole run. Zero until the
// run finishes.
func (s *RunStats) TotalDuration() time.Duration { return s.totalDuration }

// PerSegmentDurations returns each segment's processing time, indexed by
// segment. Entries for unprocessed segments are zero.
func (s *RunStats) PerSegmentDurations() []time.Duration {
	out := make([]time.Duration, len(s.perSegment))
	copy(out, s.perSegment)
	return out
}

// AverageSegmentDuration returns the mean over segments that were actually
// processed.
func (s *RunStats) AverageSegmentDuration() time.Duration {
	var sum time.Duration
	var n int
	for _, d := range s.perSegment {
		if d > 0 {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// RealTimeFactor returns processing time divided by audio duration for the
// given stream length and sample rate. Values below 1 mean faster than
// real time. Returns 0 when the audio duration is unknown.
func (s *RunStats) RealTimeFactor(streamLen, sampleRate int) float64 {
	if streamLen <= 0 || sampleRate <= 0 {
		return 0
	}
	audioSeconds := float64(streamLen) / float64(sampleRate)
	return s.totalDuration.Seconds() / audioSeconds
}
