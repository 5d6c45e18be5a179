package store

import (
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// RunningTasks returns snapshots of every task currently in running status.
func (s *Store) RunningTasks() []*models.Task {
	return s.tasksWhere(func(t *models.Task) bool {
		return t.Status == models.TaskStatusRunning
	})
}

// TasksByStatus returns snapshots of every live task in the given status.
func (s *Store) TasksByStatus(status models.TaskStatus) []*models.Task {
	return s.tasksWhere(func(t *models.Task) bool {
		return t.Status == status
	})
}

// TasksMatching returns snapshots of live tasks the filter accepts.
func (s *Store) TasksMatching(filter models.TaskFilter) []*models.Task {
	return s.tasksWhere(filter.Matches)
}

func (s *Store) tasksWhere(pred func(*models.Task) bool) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, t := range s.tasks {
		if t.SupersededBy == "" && pred(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// CountByStatus tallies live tasks per status.
func (s *Store) CountByStatus() map[models.TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.TaskStatus]int)
	for _, t := range s.tasks {
		if t.SupersededBy == "" {
			counts[t.Status]++
		}
	}
	return counts
}

// ActiveTaskCount returns the number of live tasks that are not yet terminal.
func (s *Store) ActiveTaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.tasks {
		if t.SupersededBy == "" && !t.Status.Terminal() {
			count++
		}
	}
	return count
}

// FailedTaskRate returns the fraction of terminal live tasks that failed.
// Returns 0 when no task has reached a terminal state yet.
func (s *Store) FailedTaskRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terminal, failed := 0, 0
	for _, t := range s.tasks {
		if t.SupersededBy != "" || !t.Status.Terminal() {
			continue
		}
		terminal++
		if t.Status == models.TaskStatusFailed {
			failed++
		}
	}
	if terminal == 0 {
		return 0
	}
	return float64(failed) / float64(terminal)
}

// HealthCounts returns the completed and running task counts used by the
// workflow health check (success rate = completed / (completed + running)).
func (s *Store) HealthCounts() (completed, running int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		if t.SupersededBy != "" {
			continue
		}
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusRunning:
			running++
		}
	}
	return completed, running
}

// ReprioritizeTasks bulk-updates the priority of non-terminal tasks matching
// the filter. Returns the IDs of the tasks that changed, so the scheduler can
// reorder its queue entries.
func (s *Store) ReprioritizeTasks(filter models.TaskFilter, priority models.Priority) ([]string, error) {
	if !priority.Valid() {
		return nil, models.NewValidationError("invalid priority %d", priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, t := range s.tasks {
		if t.SupersededBy != "" || t.Status.Terminal() || !filter.Matches(t) || t.Priority == priority {
			continue
		}
		t.Priority = priority
		if err := s.sink.UpdateTask(t); err != nil {
			return changed, err
		}
		changed = append(changed, t.ID)
	}
	return changed, nil
}

// RaiseRunningTimeouts multiplies the timeout of every running task by the
// given factor, capped at max. Returns the number of tasks adjusted. Used by
// the workflow health check as a backpressure mitigation.
func (s *Store) RaiseRunningTimeouts(factor float64, max time.Duration) (int, error) {
	maxSeconds := int(max.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()

	adjusted := 0
	for _, t := range s.tasks {
		if t.SupersededBy != "" || t.Status != models.TaskStatusRunning || t.TimeoutSeconds <= 0 {
			continue
		}
		raised := int(float64(t.TimeoutSeconds) * factor)
		if raised > maxSeconds {
			raised = maxSeconds
		}
		if raised <= t.TimeoutSeconds {
			continue
		}
		t.TimeoutSeconds = raised
		if err := s.sink.UpdateTask(t); err != nil {
			return adjusted, err
		}
		adjusted++
	}
	return adjusted, nil
}

// StuckTasks returns snapshots of running tasks whose execution has exceeded
// their timeout as of now.
func (s *Store) StuckTasks(now time.Time) []*models.Task {
	return s.tasksWhere(func(t *models.Task) bool {
		return t.TimedOut(now)
	})
}

// AgentPerformanceSnapshot returns a copy of every agent's aggregates.
func (s *Store) AgentPerformanceSnapshot() []*models.AgentPerformance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AgentPerformance, 0, len(s.perf))
	for _, p := range s.perf {
		c := *p
		out = append(out, &c)
	}
	return out
}

// Purge removes terminal tasks and executions older than the retention
// windows, both from the sink and from memory. Returns the purge counts.
func (s *Store) Purge(retention models.RetentionPolicy) (tasks, executions int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tasks, err = s.sink.PurgeCompletedTasks(retention.CompletedTasks)
	if err != nil {
		return 0, 0, err
	}
	executions, err = s.sink.PurgeCompletedExecutions(retention.CompletedExecutions)
	if err != nil {
		return tasks, 0, err
	}

	// Keep tasks of non-terminal executions in memory: the aggregate
	// recompute derives from the live task set.
	taskCutoff := now.Add(-retention.CompletedTasks)
	for id, t := range s.tasks {
		if !t.Status.Terminal() || t.CompletedAt == nil || !t.CompletedAt.Before(taskCutoff) {
			continue
		}
		if e, ok := s.executions[t.ExecutionID]; ok && !e.Status.Terminal() {
			continue
		}
		delete(s.tasks, id)
	}
	execCutoff := now.Add(-retention.CompletedExecutions)
	for id, e := range s.executions {
		if e.Status.Terminal() && e.CompletedAt != nil && e.CompletedAt.Before(execCutoff) {
			delete(s.executions, id)
		}
	}
	return tasks, executions, nil
}
