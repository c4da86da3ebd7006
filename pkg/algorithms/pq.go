package algorithms

import (
	"container/heap"

	"golang.org/x/exp/constraints"
)

// PriorityQueue is a min-queue keyed by an ordered priority. Entries with
// equal priority pop in insertion order, which keeps searches deterministic.
type PriorityQueue[T any, P constraints.Ordered] struct {
	h   pqHeap[T, P]
	seq uint64
}

type pqEntry[T any, P constraints.Ordered] struct {
	value    T
	priority P
	seq      uint64
}

type pqHeap[T any, P constraints.Ordered] []pqEntry[T, P]

func (h pqHeap[T, P]) Len() int { return len(h) }

func (h pqHeap[T, P]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h pqHeap[T, P]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pqHeap[T, P]) Push(x any) { *h = append(*h, x.(pqEntry[T, P])) }

func (h *pqHeap[T, P]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Push adds value with the given priority.
func (q *PriorityQueue[T, P]) Push(value T, priority P) {
	q.seq++
	heap.Push(&q.h, pqEntry[T, P]{value: value, priority: priority, seq: q.seq})
}

// Pop removes the entry with the smallest priority. ok is false when empty.
func (q *PriorityQueue[T, P]) Pop() (value T, priority P, ok bool) {
	if len(q.h) == 0 {
		return value, priority, false
	}
	e := heap.Pop(&q.h).(pqEntry[T, P])
	return e.value, e.priority, true
}

// Len returns the number of queued entries, including stale ones.
func (q *PriorityQueue[T, P]) Len() int { return len(q.h) }
