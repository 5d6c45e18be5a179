package store

import (
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// MarkTaskRunning transitions a queued task to running and stamps its start
// time. Returns a snapshot of the task as handed to the executor.
func (s *Store) MarkTaskRunning(id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status.Terminal() {
		return nil, ErrStaleEpoch
	}

	now := s.now()
	t.Status = models.TaskStatusRunning
	t.StartedAt = &now
	if err := s.sink.UpdateTask(t); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// PromoteTask moves a waiting task to pending once its dependencies are met.
func (s *Store) PromoteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status != models.TaskStatusWaiting {
		return nil
	}
	t.Status = models.TaskStatusPending
	return s.sink.UpdateTask(t)
}

// CompleteTask records a successful executor result. The epoch must match the
// task's current epoch or the result is discarded with ErrStaleEpoch; results
// for already-terminal tasks are ignored, making the terminal transition
// idempotent. Updates per-agent aggregates and the owning execution.
func (s *Store) CompleteTask(id string, epoch int, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status.Terminal() {
		return nil
	}
	if epoch != t.Epoch {
		return ErrStaleEpoch
	}

	now := s.now()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
	t.Result = result
	t.Error = ""
	if err := s.sink.UpdateTask(t); err != nil {
		return err
	}

	if t.AgentID != "" && t.StartedAt != nil {
		s.recordAgentOutcomeLocked(t.AgentID, true, now.Sub(*t.StartedAt), now)
	}
	return s.recordTransitionLocked(t)
}

// FailTask records an executor failure. If the task has retries remaining it
// moves to retrying with an incremented retry count; otherwise it fails
// terminally and the owning execution aggregate is updated. Returns a
// snapshot of the task after the transition so the caller can decide between
// backoff re-enqueue and healing.
func (s *Store) FailTask(id string, epoch int, errMsg string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status.Terminal() {
		return t.Clone(), nil
	}
	if epoch != t.Epoch {
		return nil, ErrStaleEpoch
	}

	t.Error = errMsg
	if t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = models.TaskStatusRetrying
		if err := s.sink.UpdateTask(t); err != nil {
			return nil, err
		}
		return t.Clone(), nil
	}

	now := s.now()
	t.Status = models.TaskStatusFailed
	t.CompletedAt = &now
	if err := s.sink.UpdateTask(t); err != nil {
		return nil, err
	}

	if t.AgentID != "" {
		s.recordAgentOutcomeLocked(t.AgentID, false, 0, now)
	}
	if err := s.recordTransitionLocked(t); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// CancelTask moves a non-terminal task to cancelled. Safe to call on terminal
// tasks; the transition happens at most once.
func (s *Store) CancelTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status.Terminal() {
		return nil
	}

	now := s.now()
	t.Status = models.TaskStatusCancelled
	t.CompletedAt = &now
	if err := s.sink.UpdateTask(t); err != nil {
		return err
	}
	return s.recordTransitionLocked(t)
}

// PauseTask suspends a queued task. Running tasks cannot be paused.
func (s *Store) PauseTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	switch t.Status {
	case models.TaskStatusPending, models.TaskStatusWaiting, models.TaskStatusRetrying:
		t.Status = models.TaskStatusPaused
		return s.sink.UpdateTask(t)
	default:
		return nil
	}
}

// RequeueRetry moves a retrying task back to pending once its backoff delay
// has elapsed, bumping its enqueue time so FIFO ties reflect the re-enqueue.
func (s *Store) RequeueRetry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status != models.TaskStatusRetrying {
		return nil
	}
	t.Status = models.TaskStatusPending
	t.EnqueuedAt = s.now()
	t.StartedAt = nil
	return s.sink.UpdateTask(t)
}

// RequeueOrphaned returns a running task to pending. Used at startup for
// tasks that were in flight when the previous process exited: their executor
// is gone and no result will ever arrive.
func (s *Store) RequeueOrphaned(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status != models.TaskStatusRunning {
		return nil
	}
	t.Status = models.TaskStatusPending
	t.StartedAt = nil
	t.EnqueuedAt = s.now()
	return s.sink.UpdateTask(t)
}

// ResumeTask returns a paused task to pending.
func (s *Store) ResumeTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status != models.TaskStatusPaused {
		return nil
	}
	t.Status = models.TaskStatusPending
	return s.sink.UpdateTask(t)
}

// AdoptHealedTask installs a healed clone produced by the healing loop. The
// original task is marked superseded (and cancelled if still non-terminal, as
// with stuck tasks) so it no longer counts against the execution aggregate;
// the clone takes over the original's template slot.
func (s *Store) AdoptHealedTask(healed *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orig, ok := s.tasks[healed.HealedFrom]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: healed.HealedFrom}
	}
	if orig.SupersededBy != "" {
		// Already healed once; never spawn a second clone for the same attempt.
		return ErrStaleEpoch
	}

	now := s.now()
	orig.SupersededBy = healed.ID
	if !orig.Status.Terminal() {
		orig.Status = models.TaskStatusCancelled
		orig.CompletedAt = &now
	}
	if err := s.sink.UpdateTask(orig); err != nil {
		return err
	}

	healed.EnqueuedAt = now
	if err := s.sink.CreateTask(healed); err != nil {
		return err
	}
	s.tasks[healed.ID] = healed

	// Dependents of the original now depend on the clone.
	for _, sibling := range s.tasks {
		if sibling.ExecutionID != healed.ExecutionID || sibling.ID == healed.ID {
			continue
		}
		rewired := false
		for i, dep := range sibling.DependsOn {
			if dep == orig.ID {
				sibling.DependsOn[i] = healed.ID
				rewired = true
			}
		}
		if rewired {
			if err := s.sink.UpdateTask(sibling); err != nil {
				return err
			}
		}
	}
	return s.recordTransitionLocked(healed)
}

// recordAgentOutcomeLocked folds one terminal outcome into the agent's
// aggregates and persists them. Caller must hold s.mu.
func (s *Store) recordAgentOutcomeLocked(agentID string, success bool, elapsed time.Duration, now time.Time) {
	p, ok := s.perf[agentID]
	if !ok {
		p = &models.AgentPerformance{AgentID: agentID}
		s.perf[agentID] = p
	}
	if success {
		p.RecordSuccess(elapsed, now)
	} else {
		p.RecordFailure(now)
	}
	// Aggregate persistence is best effort; the authoritative copy is in memory.
	_ = s.sink.UpsertAgentPerformance(p)
}

// RecordTaskTransition recomputes the owning execution's aggregate after a
// task status change. Idempotent: recomputation is derived entirely from the
// current task set.
func (s *Store) RecordTaskTransition(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: taskID}
	}
	return s.recordTransitionLocked(t)
}

// recordTransitionLocked recomputes and persists the execution aggregate for
// the task's execution. Caller must hold s.mu.
func (s *Store) recordTransitionLocked(t *models.Task) error {
	e, ok := s.executions[t.ExecutionID]
	if !ok {
		return &models.NotFoundError{Kind: "execution", ID: t.ExecutionID}
	}
	w, ok := s.workflows[e.WorkflowID]
	if !ok {
		return &models.NotFoundError{Kind: "workflow", ID: e.WorkflowID}
	}

	// Group the execution's live (non-superseded) tasks by template.
	byTemplate := make(map[string][]*models.Task, len(w.Templates))
	var current, completed, failed []string
	results := make(map[string]map[string]any)
	firstError := ""
	for _, task := range s.tasks {
		if task.ExecutionID != e.ID || task.SupersededBy != "" {
			continue
		}
		byTemplate[task.TemplateName] = append(byTemplate[task.TemplateName], task)
		switch task.Status {
		case models.TaskStatusCompleted:
			completed = append(completed, task.ID)
			if task.Result != nil {
				results[task.ID] = task.Result
			}
		case models.TaskStatusFailed, models.TaskStatusCancelled:
			failed = append(failed, task.ID)
			if firstError == "" && task.Error != "" {
				firstError = task.Error
			}
		default:
			current = append(current, task.ID)
		}
	}

	// A template is satisfied when some live task of it completed; the
	// execution fails only when every template's live tasks are terminal
	// and at least one template never completed.
	allSatisfied := true
	allTerminal := true
	for _, tpl := range w.Templates {
		tasks := byTemplate[tpl.Name]
		satisfied := false
		terminal := len(tasks) > 0
		for _, task := range tasks {
			if task.Status == models.TaskStatusCompleted {
				satisfied = true
			}
			if !task.Status.Terminal() {
				terminal = false
			}
		}
		if !satisfied {
			allSatisfied = false
		}
		if !terminal {
			allTerminal = false
		}
	}

	e.CurrentTasks = current
	e.CompletedTasks = completed
	e.FailedTasks = failed
	e.Results = results
	switch {
	case allSatisfied && len(failed) == 0:
		e.Status = models.ExecutionStatusCompleted
		e.Error = ""
	case allTerminal:
		e.Status = models.ExecutionStatusFailed
		e.Error = firstError
	default:
		e.Status = models.ExecutionStatusRunning
	}
	if e.Status.Terminal() {
		if e.CompletedAt == nil {
			now := s.now()
			e.CompletedAt = &now
		}
	} else {
		e.CompletedAt = nil
	}

	return s.sink.UpdateExecution(e)
}
