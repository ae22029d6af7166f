// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package capacity

import (
	"container/heap"
	"sync"
)

// defaultQueueCap bounds the pending queue. The contract leaves the
// bound to the implementation; overflow surfaces as ErrNoCapacity.
const defaultQueueCap = 10000

// requestHeap orders by priority descending, then created_at ascending.
type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x interface{}) { *h = append(*h, x.(*Request)) }

func (h *requestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a bounded max-priority queue of pending requests.
type Queue struct {
	mu    sync.Mutex
	items requestHeap
	cap   int
}

// NewQueue creates a queue bounded at capacity; capacity <= 0 applies
// the default bound.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCap
	}
	return &Queue{cap: capacity}
}

// Enqueue adds a request; a full queue reports ErrNoCapacity.
func (q *Queue) Enqueue(req *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		return ErrNoCapacity
	}
	heap.Push(&q.items, req)
	return nil
}

// Dequeue pops the highest-priority request, oldest first on ties.
func (q *Queue) Dequeue() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*Request), true
}

// Len reports the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
