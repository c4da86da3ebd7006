package occupancy

import (
	"maps"
	"slices"
)

// WaitQueue records which trains were denied each resource, in arrival
// order. It is not synchronised; the Manager guards it.
type WaitQueue struct {
	queues map[Resource][]string
}

// NewWaitQueue creates an empty queue set.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{queues: make(map[Resource][]string)}
}

// Enqueue appends trainID behind r unless it is already queued there.
func (q *WaitQueue) Enqueue(r Resource, trainID string) {
	if slices.Contains(q.queues[r], trainID) {
		return
	}
	q.queues[r] = append(q.queues[r], trainID)
}

// Remove takes trainID out of the queues for rs.
func (q *WaitQueue) Remove(trainID string, rs ...Resource) {
	for _, r := range rs {
		q.drop(r, trainID)
	}
}

// RemoveTrain takes trainID out of every queue.
func (q *WaitQueue) RemoveTrain(trainID string) {
	for r := range q.queues {
		q.drop(r, trainID)
	}
}

func (q *WaitQueue) drop(r Resource, trainID string) {
	waiters := slices.DeleteFunc(q.queues[r], func(w string) bool { return w == trainID })
	if len(waiters) == 0 {
		delete(q.queues, r)
		return
	}
	q.queues[r] = waiters
}

// Waiters returns the queue for r.
func (q *WaitQueue) Waiters(r Resource) []string { return slices.Clone(q.queues[r]) }

// Waiting returns the union of the queues for rs without duplicates,
// preserving the order trains are first met.
func (q *WaitQueue) Waiting(rs ...Resource) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rs {
		for _, w := range q.queues[r] {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	return out
}

// Len returns the total number of queue entries.
func (q *WaitQueue) Len() int {
	n := 0
	for _, ws := range q.queues {
		n += len(ws)
	}
	return n
}

// Snapshot returns a deep copy of all queues.
func (q *WaitQueue) Snapshot() map[Resource][]string {
	out := maps.Clone(q.queues)
	for r, ws := range out {
		out[r] = slices.Clone(ws)
	}
	return out
}
