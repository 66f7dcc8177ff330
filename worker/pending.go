package worker

import "container/heap"

// pendingItem holds a submitted task waiting for a free slot. seq
// preserves arrival order between tasks of equal priority.
type pendingItem struct {
	task Task
	seq  uint64
}

// pendingHeap orders tasks by priority (highest first), then arrival.
type pendingHeap []pendingItem

var _ heap.Interface = (*pendingHeap)(nil)

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	pi, pj := h[i].task.Info().Priority, h[j].task.Info().Priority
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(pendingItem)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = pendingItem{}
	*h = old[:n-1]
	return it
}
