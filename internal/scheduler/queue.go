package scheduler

import (
	"container/heap"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// queueItem is one queued task reference. The queue holds snapshots of the
// ordering fields only; the store remains the source of truth for the task.
type queueItem struct {
	id         string
	priority   models.Priority
	enqueuedAt time.Time
	index      int
}

// taskQueue is a priority queue of task IDs. Lower priority values dispatch
// first; ties within a priority dispatch in FIFO order of enqueue time.
// Not safe for concurrent use; the scheduler serializes access under its mutex.
type taskQueue struct {
	items []*queueItem
	byID  map[string]*queueItem
}

func newTaskQueue() *taskQueue {
	return &taskQueue{byID: make(map[string]*queueItem)}
}

// Push adds a task to the queue. A task already queued is left untouched.
func (q *taskQueue) Push(t *models.Task) {
	if _, ok := q.byID[t.ID]; ok {
		return
	}
	item := &queueItem{id: t.ID, priority: t.Priority, enqueuedAt: t.EnqueuedAt}
	q.byID[t.ID] = item
	heap.Push((*queueHeap)(q), item)
}

// Pop removes and returns the ID of the highest-priority task, or "" when empty.
func (q *taskQueue) Pop() string {
	if len(q.items) == 0 {
		return ""
	}
	item := heap.Pop((*queueHeap)(q)).(*queueItem)
	delete(q.byID, item.id)
	return item.id
}

// Remove drops a task from the queue if present. Returns true if it was queued.
func (q *taskQueue) Remove(id string) bool {
	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove((*queueHeap)(q), item.index)
	delete(q.byID, id)
	return true
}

// Reprioritize updates a queued task's priority in place and restores heap
// order. A task not currently queued is ignored.
func (q *taskQueue) Reprioritize(id string, priority models.Priority) {
	item, ok := q.byID[id]
	if !ok {
		return
	}
	item.priority = priority
	heap.Fix((*queueHeap)(q), item.index)
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int { return len(q.items) }

// Contains reports whether the task is currently queued.
func (q *taskQueue) Contains(id string) bool {
	_, ok := q.byID[id]
	return ok
}

// queueHeap adapts taskQueue to container/heap.
type queueHeap taskQueue

func (h *queueHeap) Len() int { return len(h.items) }

func (h *queueHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.enqueuedAt.Before(b.enqueuedAt)
}

func (h *queueHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *queueHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *queueHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	h.items = old[:n-1]
	return item
}
