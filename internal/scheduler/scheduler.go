// Package scheduler dispatches queued tasks to an executor under a bounded
// concurrency cap. Tasks are ordered by priority with FIFO ties, parked
// behind unmet dependencies, retried with exponential backoff, and handed to
// the healing loop when their retry budget is exhausted.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

// EventKind labels a task lifecycle event emitted by the scheduler.
type EventKind string

const (
	EventDispatched EventKind = "dispatched"
	EventCompleted  EventKind = "completed"
	EventRetrying   EventKind = "retrying"
	EventFailed     EventKind = "failed"
	EventCancelled  EventKind = "cancelled"
	EventHealed     EventKind = "healed"
)

// Config contains the scheduler's tunable limits.
type Config struct {
	// MaxConcurrent caps the number of tasks running at once.
	MaxConcurrent int
	// MinConcurrent is the floor the health check may shrink the cap to.
	MinConcurrent int
	// PollInterval is the fallback dispatch tick when no event arrives.
	PollInterval time.Duration
	// RetryBaseDelay is the backoff unit; attempt n waits base * 2^n.
	RetryBaseDelay time.Duration
}

// Scheduler owns the dispatch queue and the in-flight attempt set. All
// mutable fields are guarded by mu; the store serializes task state itself.
type Scheduler struct {
	store    *store.Store
	executor Executor
	cfg      Config

	mu sync.Mutex
	// queue holds pending task IDs ordered by priority then enqueue time.
	queue *taskQueue
	// gate parks waiting tasks behind their unmet dependencies.
	gate *dependencyGate
	// capacity is the current concurrency cap, adjustable at runtime.
	capacity int
	// running maps in-flight task IDs to the cancel func of their attempt.
	running map[string]context.CancelFunc
	// retryTimers maps retrying task IDs to their pending backoff timers.
	retryTimers map[string]*time.Timer
	stopped     bool

	// exhausted is invoked when a task fails with no retries remaining.
	// It returns true when it took over the task (healing); otherwise the
	// scheduler cascades cancellation to the task's dependents.
	exhausted func(*models.Task) bool
	// onEvent receives lifecycle events, if set.
	onEvent func(EventKind, *models.Task)
	// debugf is the trace logger, no-op unless set.
	debugf func(format string, args ...any)

	// trigger wakes the dispatch loop; buffered so kicks never block.
	trigger chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler dispatching store tasks to the executor.
func New(st *store.Store, executor Executor, cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MinConcurrent <= 0 {
		cfg.MinConcurrent = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Scheduler{
		store:       st,
		executor:    executor,
		cfg:         cfg,
		queue:       newTaskQueue(),
		gate:        newDependencyGate(),
		capacity:    cfg.MaxConcurrent,
		running:     make(map[string]context.CancelFunc),
		retryTimers: make(map[string]*time.Timer),
		trigger:     make(chan struct{}, 1),
		debugf:      func(string, ...any) {},
	}
}

// SetExhaustedHandler installs the healing hook for terminally failed tasks.
func (s *Scheduler) SetExhaustedHandler(fn func(*models.Task) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhausted = fn
}

// SetEventHook installs a lifecycle event callback. Must not block.
func (s *Scheduler) SetEventHook(fn func(EventKind, *models.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// SetLogger installs the trace logger.
func (s *Scheduler) SetLogger(debugf func(format string, args ...any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debugf = debugf
}

// Run drives the dispatch loop until ctx is cancelled. It wakes on the
// trigger channel when state changes and on a fallback tick otherwise, then
// drains the queue into free slots. Blocks until in-flight attempts return.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			s.wg.Wait()
			return
		case <-s.trigger:
		case <-ticker.C:
		}
		s.dispatch(ctx)
	}
}

// shutdown stops pending retry timers so no re-enqueue fires after Run returns.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, id)
	}
}

// kick wakes the dispatch loop without blocking.
func (s *Scheduler) kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Admit registers freshly instantiated tasks: tasks with met dependencies go
// to the queue, the rest are parked in the gate until completions release them.
func (s *Scheduler) Admit(tasks []*models.Task) {
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusPending:
			s.enqueue(t)
		case models.TaskStatusWaiting:
			s.admitWaiting(t)
		}
	}
	s.kick()
}

// admitWaiting parks a task behind its unmet dependencies. The dependency
// check and the gate registration happen under one lock acquisition: a
// dependency completing after the check must pass through releaseDependents,
// which takes the same lock and then finds the registered waiter, so a
// completion can never fall between the check and the registration.
func (s *Scheduler) admitWaiting(t *models.Task) {
	s.mu.Lock()
	unmet := make([]string, 0, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		depTask, err := s.store.GetTask(dep)
		if err != nil || depTask.Status != models.TaskStatusCompleted {
			unmet = append(unmet, dep)
		}
	}
	if len(unmet) > 0 {
		s.gate.Register(t.ID, unmet)
		s.mu.Unlock()
		s.debugf("[scheduler] parked task %s behind %d dependencies", t.ID, len(unmet))
		return
	}
	s.mu.Unlock()
	s.promote(t.ID)
}

// Recover re-admits non-terminal tasks found in the store at startup.
// Orphaned running tasks are returned to the queue: their executor died with
// the previous process and no result will arrive.
func (s *Scheduler) Recover() error {
	for _, t := range s.store.TasksByStatus(models.TaskStatusRunning) {
		if err := s.store.RequeueOrphaned(t.ID); err != nil {
			return err
		}
		s.debugf("[scheduler] requeued orphaned running task %s", t.ID)
	}
	for _, t := range s.store.TasksByStatus(models.TaskStatusRetrying) {
		if err := s.store.RequeueRetry(t.ID); err != nil {
			return err
		}
	}
	for _, t := range s.store.TasksByStatus(models.TaskStatusPending) {
		s.enqueue(t)
	}
	for _, t := range s.store.TasksByStatus(models.TaskStatusWaiting) {
		s.admitWaiting(t)
	}
	s.kick()
	return nil
}

func (s *Scheduler) enqueue(t *models.Task) {
	s.mu.Lock()
	s.queue.Push(t)
	s.mu.Unlock()
}

// promote moves a waiting task to pending and queues it.
func (s *Scheduler) promote(id string) {
	if err := s.store.PromoteTask(id); err != nil {
		s.debugf("[scheduler] promote %s: %v", id, err)
		return
	}
	t, err := s.store.GetTask(id)
	if err != nil {
		return
	}
	s.enqueue(t)
}

// dispatch fills free slots from the queue, highest priority first.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopped || len(s.running) >= s.capacity || s.queue.Len() == 0 {
			s.mu.Unlock()
			return
		}
		id := s.queue.Pop()
		// Reserve the slot before releasing the lock.
		s.running[id] = nil
		s.mu.Unlock()

		snap, err := s.store.MarkTaskRunning(id)
		if err != nil {
			// Cancelled or superseded while queued; give the slot back.
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
			s.debugf("[scheduler] skipping queued task %s: %v", id, err)
			continue
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.running[id] = cancel
		s.mu.Unlock()

		s.emit(EventDispatched, snap)
		s.debugf("[scheduler] dispatched task %s (priority %s, epoch %d)", id, snap.Priority, snap.Epoch)

		s.wg.Add(1)
		go s.execute(attemptCtx, cancel, snap)
	}
}

// execute runs one attempt and applies the outcome to the store.
func (s *Scheduler) execute(ctx context.Context, cancel context.CancelFunc, task *models.Task) {
	defer s.wg.Done()
	defer cancel()

	result, err := s.executor.Execute(ctx, task)

	s.mu.Lock()
	delete(s.running, task.ID)
	s.mu.Unlock()

	if err == nil {
		s.finishCompleted(task, result)
	} else {
		s.finishFailed(task, err)
	}
	s.kick()
}

func (s *Scheduler) finishCompleted(task *models.Task, result map[string]any) {
	if err := s.store.CompleteTask(task.ID, task.Epoch, result); err != nil {
		s.debugf("[scheduler] discarding result for task %s: %v", task.ID, err)
		return
	}
	s.emit(EventCompleted, task)
	s.releaseDependents(task.ID)
}

// releaseDependents promotes tasks whose last unmet dependency just completed.
func (s *Scheduler) releaseDependents(completedID string) {
	s.mu.Lock()
	released := s.gate.Completed(completedID)
	s.mu.Unlock()
	for _, id := range released {
		s.debugf("[scheduler] dependencies met for task %s", id)
		s.promote(id)
	}
}

func (s *Scheduler) finishFailed(task *models.Task, execErr error) {
	taskErr := &models.TaskExecutionError{TaskID: task.ID, Err: execErr}
	snap, err := s.store.FailTask(task.ID, task.Epoch, taskErr.Error())
	if err != nil {
		s.debugf("[scheduler] discarding failure for task %s: %v", task.ID, err)
		return
	}

	switch snap.Status {
	case models.TaskStatusRetrying:
		s.emit(EventRetrying, snap)
		s.scheduleRetry(snap)
	case models.TaskStatusFailed:
		s.emit(EventFailed, snap)
		s.handleExhausted(snap)
	}
}

// scheduleRetry arms a backoff timer that re-enqueues the task. The delay
// doubles with each consumed retry: base * 2^retryCount.
func (s *Scheduler) scheduleRetry(task *models.Task) {
	delay := s.cfg.RetryBaseDelay * time.Duration(1<<uint(task.RetryCount))
	s.debugf("[scheduler] task %s retry %d/%d in %s", task.ID, task.RetryCount, task.MaxRetries, delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	id := task.ID
	s.retryTimers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retryTimers, id)
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		if err := s.store.RequeueRetry(id); err != nil {
			s.debugf("[scheduler] requeue retry %s: %v", id, err)
			return
		}
		t, err := s.store.GetTask(id)
		if err != nil || t.Status != models.TaskStatusPending {
			return
		}
		s.enqueue(t)
		s.kick()
	})
}

// handleExhausted hands a terminally failed task to the healing hook. When no
// hook takes it, the failure cascades: parked dependents can never run.
func (s *Scheduler) handleExhausted(task *models.Task) {
	s.mu.Lock()
	hook := s.exhausted
	s.mu.Unlock()

	if hook != nil && hook(task) {
		return
	}
	s.CascadeCancel(task.ID)
}

// CascadeCancel cancels every task parked behind the given task, transitively.
func (s *Scheduler) CascadeCancel(failedID string) {
	frontier := []string{failedID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		s.mu.Lock()
		dependents := s.gate.Dependents(next)
		for _, id := range dependents {
			s.gate.Drop(id)
			s.queue.Remove(id)
		}
		s.mu.Unlock()

		for _, id := range dependents {
			if err := s.store.CancelTask(id); err != nil {
				s.debugf("[scheduler] cascade cancel %s: %v", id, err)
				continue
			}
			s.debugf("[scheduler] cancelled task %s: dependency %s failed", id, next)
			if t, err := s.store.GetTask(id); err == nil {
				s.emit(EventCancelled, t)
			}
			frontier = append(frontier, id)
		}
	}
}

// AdoptHealed installs a healed clone: the original's in-flight attempt is
// cancelled, parked dependents are rebound to the clone, and the clone joins
// the queue with its original priority.
func (s *Scheduler) AdoptHealed(healed *models.Task) error {
	if err := s.store.AdoptHealedTask(healed); err != nil {
		return err
	}

	s.mu.Lock()
	if cancel, ok := s.running[healed.HealedFrom]; ok && cancel != nil {
		cancel()
	}
	if timer, ok := s.retryTimers[healed.HealedFrom]; ok {
		timer.Stop()
		delete(s.retryTimers, healed.HealedFrom)
	}
	s.queue.Remove(healed.HealedFrom)
	s.gate.Rebind(healed.HealedFrom, healed.ID)
	s.queue.Push(healed)
	s.mu.Unlock()

	s.emit(EventHealed, healed)
	s.kick()
	return nil
}

// Reprioritize applies a new priority to queued entries for the given task
// IDs. The store has already been updated; this reorders the heap.
func (s *Scheduler) Reprioritize(ids []string, priority models.Priority) {
	s.mu.Lock()
	for _, id := range ids {
		s.queue.Reprioritize(id, priority)
	}
	s.mu.Unlock()
	s.kick()
}

// Cancel removes a task from the queue or gate and cancels its in-flight
// attempt, then cascades to dependents.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	s.queue.Remove(id)
	s.gate.Drop(id)
	if cancel, ok := s.running[id]; ok && cancel != nil {
		cancel()
	}
	if timer, ok := s.retryTimers[id]; ok {
		timer.Stop()
		delete(s.retryTimers, id)
	}
	s.mu.Unlock()

	if err := s.store.CancelTask(id); err != nil {
		return err
	}
	s.CascadeCancel(id)
	s.kick()
	return nil
}

// Pause parks a queued task. Running tasks cannot be paused.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	s.queue.Remove(id)
	s.mu.Unlock()
	return s.store.PauseTask(id)
}

// Resume returns a paused task to the queue.
func (s *Scheduler) Resume(id string) error {
	if err := s.store.ResumeTask(id); err != nil {
		return err
	}
	t, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status == models.TaskStatusPending {
		s.enqueue(t)
		s.kick()
	}
	return nil
}

// CancelAttempt cancels the in-flight attempt for a task without changing
// its stored state. The healing loop uses this for stuck tasks after the
// store has recorded the supersession.
func (s *Scheduler) CancelAttempt(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok && cancel != nil {
		cancel()
	}
}

// SetCapacity adjusts the concurrency cap at runtime, clamped to
// [MinConcurrent, MaxConcurrent]. Returns the applied value. Shrinking never
// interrupts in-flight attempts; the cap applies to new dispatches.
func (s *Scheduler) SetCapacity(n int) int {
	if n < s.cfg.MinConcurrent {
		n = s.cfg.MinConcurrent
	}
	if n > s.cfg.MaxConcurrent {
		n = s.cfg.MaxConcurrent
	}
	s.mu.Lock()
	s.capacity = n
	s.mu.Unlock()
	s.kick()
	return n
}

// Capacity returns the current concurrency cap.
func (s *Scheduler) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Stats is a point-in-time view of the scheduler's internals.
type Stats struct {
	Queued   int
	Waiting  int
	Running  int
	Capacity int
}

// Snapshot returns current queue, gate, and slot occupancy.
func (s *Scheduler) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:   s.queue.Len(),
		Waiting:  s.gate.Waiting(),
		Running:  len(s.running),
		Capacity: s.capacity,
	}
}

func (s *Scheduler) emit(kind EventKind, task *models.Task) {
	s.mu.Lock()
	hook := s.onEvent
	s.mu.Unlock()
	if hook != nil {
		hook(kind, task)
	}
}
