// Package topn implements a fixed-capacity min-heap accumulator for
// top-N similarity search results.
package topn

import (
	"container/heap"
	"sort"
)

// Entry is one scored candidate.
type Entry struct {
	Key   string
	Score float32
}

// Set accumulates the N highest-scoring entries seen via Add.
type Set struct {
	capacity int
	h        minHeap
}

// New returns a Set that retains at most capacity entries.
func New(capacity int) *Set {
	return &Set{capacity: capacity}
}

// Add offers a candidate. If the set has not yet reached capacity, the
// candidate is kept unconditionally. Once full, it replaces the current
// lowest-scoring entry only if it scores strictly higher.
func (s *Set) Add(key string, score float32) {
	if s.capacity <= 0 {
		return
	}
	if len(s.h) < s.capacity {
		heap.Push(&s.h, Entry{Key: key, Score: score})
		return
	}
	if score > s.h[0].Score {
		s.h[0] = Entry{Key: key, Score: score}
		heap.Fix(&s.h, 0)
	}
}

// Entries returns a copy of the retained entries sorted highest score
// first. Ties are broken by heap position, which is unspecified.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.h))
	copy(out, s.h)
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Len returns the number of entries currently retained.
func (s *Set) Len() int {
	return len(s.h)
}

// minHeap orders Entry by ascending score, so the root is always the
// current lowest-scoring retained candidate.
type minHeap []Entry

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(Entry)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
