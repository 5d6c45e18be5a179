package automation

import (
	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

// MetricProvider resolves named gauges for metric threshold conditions.
type MetricProvider interface {
	// Gauge returns the metric's current value, or false if unknown.
	Gauge(name string) (float64, bool)
}

// Metric names resolvable by StoreMetrics.
const (
	MetricActiveTasks    = "active_tasks"
	MetricQueuedTasks    = "queued_tasks"
	MetricWaitingTasks   = "waiting_tasks"
	MetricRunningTasks   = "running_tasks"
	MetricFailedTasks    = "failed_tasks"
	MetricFailedTaskRate = "failed_task_rate"
)

// StoreMetrics derives gauges from the task store and scheduler occupancy.
type StoreMetrics struct {
	store *store.Store
	sched *scheduler.Scheduler
}

// NewStoreMetrics creates a MetricProvider over the given store and scheduler.
func NewStoreMetrics(st *store.Store, sched *scheduler.Scheduler) *StoreMetrics {
	return &StoreMetrics{store: st, sched: sched}
}

// Gauge resolves one of the well-known metric names.
func (m *StoreMetrics) Gauge(name string) (float64, bool) {
	switch name {
	case MetricActiveTasks:
		return float64(m.store.ActiveTaskCount()), true
	case MetricQueuedTasks:
		return float64(m.sched.Snapshot().Queued), true
	case MetricWaitingTasks:
		return float64(m.store.CountByStatus()[models.TaskStatusWaiting]), true
	case MetricRunningTasks:
		return float64(m.store.CountByStatus()[models.TaskStatusRunning]), true
	case MetricFailedTasks:
		return float64(m.store.CountByStatus()[models.TaskStatusFailed]), true
	case MetricFailedTaskRate:
		return m.store.FailedTaskRate(), true
	default:
		return 0, false
	}
}
