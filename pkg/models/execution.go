package models

import "time"

// ExecutionStatus represents the aggregate state of a workflow execution.
type ExecutionStatus string

const (
	// ExecutionStatusRunning indicates at least one task is not yet terminal.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates every task completed successfully.
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates all tasks are terminal and at least one failed.
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusCancelled indicates the execution was cancelled externally.
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the execution can no longer change state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// WorkflowExecution is one run of a workflow. It aggregates the state of the
// tasks instantiated from the workflow's templates.
//
// Invariant: Status is ExecutionStatusCompleted iff FailedTasks is empty and
// every template produced a task listed in CompletedTasks.
type WorkflowExecution struct {
	// ID is the unique identifier for this execution.
	ID string `json:"id"`
	// WorkflowID is the workflow this execution was created from.
	WorkflowID string `json:"workflow_id"`
	// Status mirrors the aggregate of the execution's tasks.
	Status ExecutionStatus `json:"status"`
	// CurrentTasks lists task IDs that are not yet terminal.
	CurrentTasks []string `json:"current_tasks,omitempty"`
	// CompletedTasks lists task IDs that completed successfully.
	CompletedTasks []string `json:"completed_tasks,omitempty"`
	// FailedTasks lists task IDs that failed terminally.
	FailedTasks []string `json:"failed_tasks,omitempty"`
	// Results accumulates task results keyed by task ID.
	Results map[string]map[string]any `json:"results,omitempty"`
	// Error is the first failing task's error, if any.
	Error string `json:"error,omitempty"`
	// Context is the caller-supplied execution context merged over the workflow context.
	Context map[string]any `json:"context,omitempty"`
	// StartedAt is when the execution was created.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the execution reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy of the execution with its slices and result map
// shallow-copied, safe to hand to callers outside the store's lock.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	c := *e
	c.CurrentTasks = append([]string(nil), e.CurrentTasks...)
	c.CompletedTasks = append([]string(nil), e.CompletedTasks...)
	c.FailedTasks = append([]string(nil), e.FailedTasks...)
	if e.Results != nil {
		c.Results = make(map[string]map[string]any, len(e.Results))
		for k, v := range e.Results {
			c.Results[k] = v
		}
	}
	return &c
}
