package reactor

import "time"

// fireEntry is one upcoming scheduled fire, ordered by instant. seq ties an
// entry to the jobRuntime generation that created it: a reload or an
// out-of-order re-arm bumps jobRuntime.seq, which makes any older entry
// still sitting in the heap silently discarded when popped (see
// (*Reactor).drainDueFires).
type fireEntry struct {
	at      time.Time
	jobName string
	seq     int
	index   int
}

// fireHeap is a container/heap.Interface of fireEntry ordered by at,
// grounded on spec §4.5/SPEC_FULL.md's "container/heap-based priority queue
// of (due_time, *Run)" — here specialized to (due_time, job name) since the
// Run itself isn't constructed until the fire is actually processed.
type fireHeap []*fireEntry

func (h fireHeap) Len() int            { return len(h) }
func (h fireHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h fireHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *fireHeap) Push(x interface{}) {
	e := x.(*fireEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *fireHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
