package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/internal/automation"
	"github.com/flowgrid/flowgrid/internal/config"
	"github.com/flowgrid/flowgrid/internal/healing"
	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/state"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

// stopTimeout bounds how long Stop waits for loops to drain.
const stopTimeout = 5 * time.Second

// Orchestrator wires the durable state, task store, scheduler, healing loop,
// and automation engine into one lifecycle.
type Orchestrator struct {
	cfg      *config.Config
	executor scheduler.Executor

	db      *state.DB
	store   *store.Store
	sched   *scheduler.Scheduler
	healer  *healing.Healer
	engine  *automation.Engine
	emitter *EventEmitter
	logger  *DebugLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	// finished records executions whose terminal event has been emitted.
	finishedMu sync.Mutex
	finished   map[string]bool
}

// New creates an Orchestrator. Start must be called before use.
func New(cfg *config.Config, executor scheduler.Executor) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		executor: executor,
		emitter:  NewEventEmitter(256),
		logger:   NopLogger(),
		finished: make(map[string]bool),
	}
}

// Start opens the durable store, hydrates state, recovers in-flight tasks
// from the previous run, and starts the dispatch, healing, and automation
// loops. It returns once the loops are running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("orchestrator already started")
	}

	o.logger = NewDebugLoggerForStorage(o.cfg.Storage.Dir)
	debugf := o.logger.Log

	db, err := state.OpenStorage(o.cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate storage: %w", err)
	}
	o.db = db

	o.store = store.New(db)
	if err := o.store.Load(); err != nil {
		db.Close()
		return fmt.Errorf("load state: %w", err)
	}

	// Startup retention sweep. Failures are logged, not fatal.
	tasksPurged, execsPurged, err := o.store.Purge(models.RetentionPolicy{
		CompletedTasks:      o.cfg.Storage.TaskRetention,
		CompletedExecutions: o.cfg.Storage.ExecutionRetention,
	})
	if err != nil {
		debugf("[orchestrator] startup purge: %v", err)
	} else if tasksPurged+execsPurged > 0 {
		debugf("[orchestrator] startup purge: %d tasks, %d executions", tasksPurged, execsPurged)
	}

	o.sched = scheduler.New(o.store, o.executor, scheduler.Config{
		MaxConcurrent:  o.cfg.Scheduler.MaxConcurrentTasks,
		MinConcurrent:  o.cfg.Scheduler.MinConcurrentTasks,
		PollInterval:   o.cfg.Scheduler.PollInterval,
		RetryBaseDelay: o.cfg.Scheduler.RetryBaseDelay,
	})
	o.sched.SetLogger(debugf)
	o.sched.SetEventHook(o.emitTaskEvent)

	o.healer = healing.New(o.store, o.sched, healing.Config{
		Interval:             o.cfg.Healing.Interval,
		SuccessThreshold:     o.cfg.Healing.SuccessThreshold,
		TimeoutRaiseFactor:   o.cfg.Healing.TimeoutRaiseFactor,
		TimeoutCap:           o.cfg.Healing.TimeoutCap,
		AllowDependencyClear: o.cfg.Healing.AllowDependencyClear,
	})
	o.healer.SetLogger(debugf)
	o.sched.SetExhaustedHandler(o.healer.HandleExhausted)

	o.engine = automation.NewEngine(o.store, o.sched, automation.NewStoreMetrics(o.store, o.sched))
	o.engine.SetLogger(debugf)
	o.engine.SetRetention(models.RetentionPolicy{
		CompletedTasks:      o.cfg.Storage.TaskRetention,
		CompletedExecutions: o.cfg.Storage.ExecutionRetention,
	})
	o.engine.SetNotifier(func(message string) {
		o.emitter.Emit(Event{Type: EventNotification, Message: message, Timestamp: time.Now()})
	})

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	if path := o.cfg.Automation.RulesFile; path != "" {
		if err := automation.WatchRules(runCtx, path, o.engine); err != nil {
			cancel()
			db.Close()
			return fmt.Errorf("load automation rules: %w", err)
		}
	}

	if err := o.sched.Recover(); err != nil {
		cancel()
		db.Close()
		return fmt.Errorf("recover tasks: %w", err)
	}

	var wg sync.WaitGroup
	o.runLoop(runCtx, &wg, "scheduler", o.sched.Run)
	o.runLoop(runCtx, &wg, "healing", o.healer.Run)
	o.runLoop(runCtx, &wg, "automation", func(ctx context.Context) {
		o.engine.Run(ctx, o.cfg.Automation.Interval)
	})
	go func() {
		wg.Wait()
		close(o.done)
	}()

	o.started = true
	o.logger.Log("[orchestrator] started: capacity=%d, healing interval=%s",
		o.cfg.Scheduler.MaxConcurrentTasks, o.cfg.Healing.Interval)
	return nil
}

// runLoop runs fn until ctx is cancelled, restarting it after a recovered
// panic. Loops must never take the process down.
func (o *Orchestrator) runLoop(ctx context.Context, wg *sync.WaitGroup, name string, fn func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						o.logger.Log("[%s] panic recovered: %v", name, r)
						time.Sleep(time.Second)
					}
				}()
				fn(ctx)
			}()
		}
	}()
}

// Stop cancels the loops, waits for them to drain (bounded), and closes the
// durable store and event channel.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}
	o.started = false

	o.cancel()
	select {
	case <-o.done:
	case <-time.After(stopTimeout):
		o.logger.Log("[orchestrator] stop: loops did not drain within %s", stopTimeout)
	}

	o.emitter.Close()
	err := o.db.Close()
	o.logger.Log("[orchestrator] stopped")
	o.logger.Close()
	return err
}

// emitTaskEvent maps scheduler lifecycle events onto the event channel.
func (o *Orchestrator) emitTaskEvent(kind scheduler.EventKind, task *models.Task) {
	var eventType EventType
	switch kind {
	case scheduler.EventDispatched:
		eventType = EventTaskDispatched
	case scheduler.EventCompleted:
		eventType = EventTaskCompleted
	case scheduler.EventRetrying:
		eventType = EventTaskRetrying
	case scheduler.EventFailed:
		eventType = EventTaskFailed
	case scheduler.EventCancelled:
		eventType = EventTaskCancelled
	case scheduler.EventHealed:
		eventType = EventTaskHealed
	default:
		return
	}
	o.emitter.Emit(Event{
		Type:        eventType,
		TaskID:      task.ID,
		ExecutionID: task.ExecutionID,
		WorkflowID:  task.WorkflowID,
		Message:     task.Error,
		Timestamp:   time.Now(),
	})

	// A terminal task may have been the execution's last; report the
	// aggregate outcome once it settles.
	switch eventType {
	case EventTaskCompleted, EventTaskFailed, EventTaskCancelled:
		exec, err := o.store.GetExecution(task.ExecutionID)
		if err != nil || !exec.Status.Terminal() {
			return
		}
		o.finishedMu.Lock()
		seen := o.finished[exec.ID]
		o.finished[exec.ID] = true
		o.finishedMu.Unlock()
		if seen {
			return
		}
		o.emitter.Emit(Event{
			Type:        EventExecutionFinished,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			Message:     string(exec.Status),
			Timestamp:   time.Now(),
		})
	}
}

// CreateWorkflow validates and stores a workflow definition.
func (o *Orchestrator) CreateWorkflow(spec store.WorkflowSpec) (string, error) {
	return o.store.CreateWorkflow(spec)
}

// ExecuteWorkflow instantiates a workflow's tasks and admits them to the
// scheduler. Returns the new execution.
func (o *Orchestrator) ExecuteWorkflow(workflowID string, ctx map[string]any) (*models.WorkflowExecution, error) {
	exec, tasks, err := o.store.ExecuteWorkflow(workflowID, ctx)
	if err != nil {
		return nil, err
	}
	o.sched.Admit(tasks)
	o.logger.Log("[orchestrator] execution %s started: %d tasks", exec.ID, len(tasks))
	return exec, nil
}

// Store returns the task store.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Scheduler returns the scheduler.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler {
	return o.sched
}

// Engine returns the automation engine.
func (o *Orchestrator) Engine() *automation.Engine {
	return o.engine
}

// Events returns the orchestrator's event channel.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// DroppedEventCount returns how many events were dropped on a full channel.
func (o *Orchestrator) DroppedEventCount() uint64 {
	return o.emitter.DroppedCount()
}
