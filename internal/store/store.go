// Package store owns the canonical representation of workflows, executions,
// and runtime tasks. All mutation of shared orchestrator state goes through a
// Store method under its mutex; the scheduler and healing loops never touch
// task structs directly. Every accepted mutation is written through to the
// durable sink.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/internal/state"
	"github.com/flowgrid/flowgrid/pkg/models"
)

// ErrStaleEpoch indicates an executor result arrived for a superseded task
// attempt. The result is discarded; this is expected after healing a stuck task.
var ErrStaleEpoch = errors.New("stale task epoch")

// Store holds workflows, executions, and task state behind a single mutex
// and writes accepted mutations through to the durable sink.
type Store struct {
	mu   sync.RWMutex
	sink state.Sink

	// workflows maps workflow ID to its immutable definition.
	workflows map[string]*models.Workflow
	// executions maps execution ID to its aggregate record.
	executions map[string]*models.WorkflowExecution
	// tasks maps task ID to the runtime task instance.
	tasks map[string]*models.Task
	// perf maps agent ID to its rolling execution aggregates.
	perf map[string]*models.AgentPerformance

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates a Store writing through to the given sink.
func New(sink state.Sink) *Store {
	return &Store{
		sink:       sink,
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.WorkflowExecution),
		tasks:      make(map[string]*models.Task),
		perf:       make(map[string]*models.AgentPerformance),
		now:        time.Now,
	}
}

// Load hydrates the in-memory maps from the sink. Call once at startup,
// after the sink has been migrated.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	workflows, err := s.sink.ListWorkflows()
	if err != nil {
		return err
	}
	for _, w := range workflows {
		s.workflows[w.ID] = w
	}

	executions, err := s.sink.ListExecutions(nil)
	if err != nil {
		return err
	}
	for _, e := range executions {
		s.executions[e.ID] = e
		tasks, err := s.sink.ListTasksByExecution(e.ID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			s.tasks[t.ID] = t
		}
	}

	perfs, err := s.sink.ListAgentPerformance()
	if err != nil {
		return err
	}
	for _, p := range perfs {
		s.perf[p.AgentID] = p
	}
	return nil
}

// WorkflowSpec is the input to CreateWorkflow.
type WorkflowSpec struct {
	// Name is the workflow's short name. Required.
	Name string
	// Description provides detail about the workflow.
	Description string
	// Templates is the ordered list of task templates. Must be non-empty.
	Templates []models.TaskTemplate
	// DefaultPriority applies to templates with no priority of their own.
	// Zero means PriorityNormal.
	DefaultPriority models.Priority
	// Context is arbitrary data made available to task instances.
	Context map[string]any
	// AutoHeal enables the healing path for exhausted tasks.
	AutoHeal bool
	// ParallelExecution is recorded on the workflow but does not change
	// dispatch; independent tasks always run concurrently under the cap.
	ParallelExecution bool
	// RollbackOnFailure is recorded on the workflow; no rollback actions
	// are performed.
	RollbackOnFailure bool
}

// CreateWorkflow validates and stores an immutable workflow definition.
// Returns the new workflow ID, or a ValidationError for an empty template
// list, duplicate template names, dangling dependency references, or a
// dependency cycle.
func (s *Store) CreateWorkflow(spec WorkflowSpec) (string, error) {
	if spec.Name == "" {
		return "", models.NewValidationError("workflow name must not be empty")
	}
	if len(spec.Templates) == 0 {
		return "", models.NewValidationError("workflow %q has no task templates", spec.Name)
	}

	names := make(map[string]bool, len(spec.Templates))
	for _, tpl := range spec.Templates {
		if tpl.Name == "" {
			return "", models.NewValidationError("workflow %q has a template with no name", spec.Name)
		}
		if names[tpl.Name] {
			return "", models.NewValidationError("duplicate template name %q", tpl.Name)
		}
		names[tpl.Name] = true
	}
	for _, tpl := range spec.Templates {
		for _, dep := range tpl.DependsOn {
			if !names[dep] {
				return "", models.NewValidationError("template %q depends on unknown template %q", tpl.Name, dep)
			}
		}
		if tpl.Priority != 0 && !tpl.Priority.Valid() {
			return "", models.NewValidationError("template %q has invalid priority %d", tpl.Name, tpl.Priority)
		}
	}
	if cycleStart := findCycle(spec.Templates); cycleStart != "" {
		return "", models.NewValidationError("dependency cycle involving template %q", cycleStart)
	}

	priority := spec.DefaultPriority
	if priority == 0 {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return "", models.NewValidationError("invalid default priority %d", priority)
	}

	w := &models.Workflow{
		ID:                uuid.New().String(),
		Name:              spec.Name,
		Description:       spec.Description,
		Templates:         append([]models.TaskTemplate(nil), spec.Templates...),
		DefaultPriority:   priority,
		AutoHeal:          spec.AutoHeal,
		ParallelExecution: spec.ParallelExecution,
		RollbackOnFailure: spec.RollbackOnFailure,
		Context:           spec.Context,
		CreatedAt:         s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sink.CreateWorkflow(w); err != nil {
		return "", err
	}
	s.workflows[w.ID] = w
	return w.ID, nil
}

// findCycle detects a dependency cycle among templates using DFS coloring.
// Returns the name of a template on a cycle, or "" if the graph is acyclic.
func findCycle(templates []models.TaskTemplate) string {
	deps := make(map[string][]string, len(templates))
	for _, tpl := range templates {
		deps[tpl.Name] = tpl.DependsOn
	}

	// Color states: 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(deps))
	var visit func(name string) bool
	visit = func(name string) bool {
		colors[name] = 1
		for _, dep := range deps[name] {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[name] = 2
		return false
	}

	for _, tpl := range templates {
		if colors[tpl.Name] == 0 && visit(tpl.Name) {
			return tpl.Name
		}
	}
	return ""
}

// ExecuteWorkflow instantiates one Task per template and creates the
// WorkflowExecution record in running status. Template dependency names are
// resolved to the runtime task IDs of the same execution. Tasks with
// unsatisfied dependencies start in waiting status, the rest in pending.
// Returns a NotFoundError if the workflow is unknown.
func (s *Store) ExecuteWorkflow(workflowID string, ctx map[string]any) (*models.WorkflowExecution, []*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, nil, &models.NotFoundError{Kind: "workflow", ID: workflowID}
	}

	now := s.now()
	execID := uuid.New().String()

	// First pass: assign runtime IDs per template name.
	idByName := make(map[string]string, len(w.Templates))
	for _, tpl := range w.Templates {
		idByName[tpl.Name] = uuid.New().String()
	}

	mergedCtx := mergeContext(w.Context, ctx)

	tasks := make([]*models.Task, 0, len(w.Templates))
	currentIDs := make([]string, 0, len(w.Templates))
	for _, tpl := range w.Templates {
		priority := tpl.Priority
		if priority == 0 {
			priority = w.DefaultPriority
		}
		deps := make([]string, 0, len(tpl.DependsOn))
		for _, name := range tpl.DependsOn {
			deps = append(deps, idByName[name])
		}
		status := models.TaskStatusPending
		if len(deps) > 0 {
			status = models.TaskStatusWaiting
		}
		task := &models.Task{
			ID:             idByName[tpl.Name],
			WorkflowID:     w.ID,
			ExecutionID:    execID,
			TemplateName:   tpl.Name,
			Type:           tpl.Type,
			AgentID:        tpl.AgentID,
			Tier:           tpl.Tier,
			Priority:       priority,
			DependsOn:      deps,
			Payload:        copyPayload(tpl.Payload),
			TimeoutSeconds: tpl.TimeoutSeconds,
			MaxRetries:     tpl.MaxRetries,
			Status:         status,
			EnqueuedAt:     now,
		}
		tasks = append(tasks, task)
		currentIDs = append(currentIDs, task.ID)
	}

	exec := &models.WorkflowExecution{
		ID:           execID,
		WorkflowID:   w.ID,
		Status:       models.ExecutionStatusRunning,
		CurrentTasks: currentIDs,
		Results:      make(map[string]map[string]any),
		Context:      mergedCtx,
		StartedAt:    now,
	}

	if err := s.sink.CreateExecution(exec); err != nil {
		return nil, nil, err
	}
	for _, task := range tasks {
		if err := s.sink.CreateTask(task); err != nil {
			return nil, nil, err
		}
	}

	s.executions[execID] = exec
	for _, task := range tasks {
		s.tasks[task.ID] = task
	}

	snapshots := make([]*models.Task, len(tasks))
	for i, task := range tasks {
		snapshots[i] = task.Clone()
	}
	return exec.Clone(), snapshots, nil
}

func mergeContext(base, overlay map[string]any) map[string]any {
	if base == nil && overlay == nil {
		return nil
	}
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func copyPayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetWorkflow returns the workflow with the given ID.
func (s *Store) GetWorkflow(id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "workflow", ID: id}
	}
	return w, nil
}

// ListWorkflows returns all stored workflows.
func (s *Store) ListWorkflows() []*models.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	return out
}

// GetExecution returns a snapshot of the execution with the given ID.
func (s *Store) GetExecution(id string) (*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "execution", ID: id}
	}
	return e.Clone(), nil
}

// ListExecutions returns snapshots of all executions.
func (s *Store) ListExecutions() []*models.WorkflowExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WorkflowExecution, 0, len(s.executions))
	for _, e := range s.executions {
		out = append(out, e.Clone())
	}
	return out
}

// GetTask returns a snapshot of the task with the given ID.
func (s *Store) GetTask(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "task", ID: id}
	}
	return t.Clone(), nil
}

// SetClock replaces the store's clock. For tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
