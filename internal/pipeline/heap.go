package pipeline

// segmentResult carries one finished segment from a worker to the merge
// stage. Exactly one of enhanced or degraded is meaningful: when degraded is
// true the raw frame samples are merged instead of model output.
type segmentResult struct {
	index    int
	enhanced []float32
	raw      []float32
	padding  int
	degraded bool
	duration float64 // seconds spent on the segment, retries included
}

// resultHeap implements [container/heap.Interface] as a min-heap ordered by
// segment index. Workers finish out of order; the merge stage parks early
// arrivals here until their turn comes.
type resultHeap []segmentResult

func (h resultHeap) Len() int { return len(h) }

// Less reports whether element i should be dequeued before element j. The
// lowest segment index wins.
func (h resultHeap) Less(i, j int) bool { return h[i].index < h[j].index }

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(segmentResult))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
