package scheduler

import (
	"testing"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
)

func queuedTask(id string, p models.Priority, enqueued time.Time) *models.Task {
	return &models.Task{ID: id, Priority: p, EnqueuedAt: enqueued}
}

func TestQueuePriorityOrder(t *testing.T) {
	q := newTaskQueue()
	base := time.Now()

	q.Push(queuedTask("low", models.PriorityLow, base))
	q.Push(queuedTask("critical", models.PriorityCritical, base))
	q.Push(queuedTask("normal", models.PriorityNormal, base))
	q.Push(queuedTask("high", models.PriorityHigh, base))

	want := []string{"critical", "high", "normal", "low"}
	for _, expected := range want {
		if got := q.Pop(); got != expected {
			t.Errorf("Pop() = %q, want %q", got, expected)
		}
	}
	if got := q.Pop(); got != "" {
		t.Errorf("Pop() on empty queue = %q, want empty", got)
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := newTaskQueue()
	base := time.Now()

	q.Push(queuedTask("second", models.PriorityNormal, base.Add(time.Millisecond)))
	q.Push(queuedTask("first", models.PriorityNormal, base))
	q.Push(queuedTask("third", models.PriorityNormal, base.Add(2*time.Millisecond)))

	for _, expected := range []string{"first", "second", "third"} {
		if got := q.Pop(); got != expected {
			t.Errorf("Pop() = %q, want %q", got, expected)
		}
	}
}

func TestQueueDuplicatePushIgnored(t *testing.T) {
	q := newTaskQueue()
	base := time.Now()

	q.Push(queuedTask("a", models.PriorityNormal, base))
	q.Push(queuedTask("a", models.PriorityCritical, base))

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}

func TestQueueRemove(t *testing.T) {
	q := newTaskQueue()
	base := time.Now()

	q.Push(queuedTask("a", models.PriorityNormal, base))
	q.Push(queuedTask("b", models.PriorityNormal, base.Add(time.Millisecond)))

	if !q.Remove("a") {
		t.Error("Remove(a) = false, want true")
	}
	if q.Remove("missing") {
		t.Error("Remove(missing) = true, want false")
	}
	if got := q.Pop(); got != "b" {
		t.Errorf("Pop() = %q, want b", got)
	}
}

func TestQueueReprioritize(t *testing.T) {
	q := newTaskQueue()
	base := time.Now()

	q.Push(queuedTask("a", models.PriorityNormal, base))
	q.Push(queuedTask("b", models.PriorityNormal, base.Add(time.Millisecond)))

	q.Reprioritize("b", models.PriorityCritical)

	if got := q.Pop(); got != "b" {
		t.Errorf("Pop() after reprioritize = %q, want b", got)
	}
}
