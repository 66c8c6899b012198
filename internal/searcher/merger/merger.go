// Package merger keeps the best k hits out of one or more result lists.
package merger

import (
	"container/heap"

	"github.com/kueri-lab/trecpipe/internal/searcher/query"
)

// Less orders hits best first: higher score, then smaller external id.
func Less(a, b query.Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Merge returns at most limit hits from all lists, best first. A
// non-positive limit keeps everything.
func Merge(lists [][]query.Hit, limit int) []query.Hit {
	h := &hitHeap{}
	heap.Init(h)
	for _, hits := range lists {
		for _, hit := range hits {
			if limit > 0 && h.Len() == limit {
				// Replace the current worst only when hit beats it.
				if !Less(hit, (*h)[0]) {
					continue
				}
				(*h)[0] = hit
				heap.Fix(h, 0)
				continue
			}
			heap.Push(h, hit)
		}
	}
	result := make([]query.Hit, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(query.Hit)
	}
	return result
}

// hitHeap is a min-heap on Less: the root is the worst retained hit.
type hitHeap []query.Hit

func (h hitHeap) Len() int { return len(h) }

func (h hitHeap) Less(i, j int) bool { return Less(h[j], h[i]) }

func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x interface{}) {
	*h = append(*h, x.(query.Hit))
}

func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
