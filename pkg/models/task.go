package models

import "time"

// TaskStatus represents the current state of a runtime task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued with all dependencies met.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusWaiting indicates the task is parked until its dependencies complete.
	TaskStatusWaiting TaskStatus = "waiting"
	// TaskStatusRunning indicates the task has been handed to an executor.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusRetrying indicates the task failed and is waiting out its backoff delay.
	TaskStatusRetrying TaskStatus = "retrying"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed with no retries remaining.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled externally.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusPaused indicates the task was suspended externally.
	TaskStatusPaused TaskStatus = "paused"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusWaiting, TaskStatusRunning, TaskStatusRetrying,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusPaused:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state the scheduler never leaves.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a runtime instance of a TaskTemplate, created at ExecuteWorkflow time.
type Task struct {
	// ID is the unique identifier for this task instance.
	ID string `json:"id"`
	// WorkflowID is the workflow this task was instantiated from.
	WorkflowID string `json:"workflow_id"`
	// ExecutionID is the workflow execution this task belongs to.
	ExecutionID string `json:"execution_id"`
	// TemplateName is the symbolic name of the template this task was cloned from.
	TemplateName string `json:"template_name"`
	// Type is the task type tag handed to the executor.
	Type string `json:"type"`
	// AgentID is the target agent responsible for this task.
	AgentID string `json:"agent_id,omitempty"`
	// Tier is the tier label inherited from the template.
	Tier string `json:"tier,omitempty"`
	// Priority orders dispatch; lower values dispatch first.
	Priority Priority `json:"priority"`
	// DependsOn lists runtime task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Payload is the task input, copied from the template at instantiation.
	Payload map[string]any `json:"payload,omitempty"`
	// TimeoutSeconds bounds a single executor invocation.
	TimeoutSeconds int `json:"timeout_seconds"`
	// MaxRetries is the number of retries allowed before the task fails terminally.
	MaxRetries int `json:"max_retries"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// RetryCount is the number of retries consumed so far.
	RetryCount int `json:"retry_count"`
	// Epoch fences executor results: results carrying a stale epoch are discarded.
	Epoch int `json:"epoch"`
	// HealedFrom is the ID of the task this one was cloned from during healing.
	HealedFrom string `json:"healed_from,omitempty"`
	// SupersededBy is the ID of the healed clone that replaced this task.
	// Superseded tasks are excluded from execution aggregates.
	SupersededBy string `json:"superseded_by,omitempty"`
	// EnqueuedAt is when the task entered the queue; ties within a priority break FIFO on it.
	EnqueuedAt time.Time `json:"enqueued_at"`
	// StartedAt is when the task last transitioned to running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result holds the executor output for a completed task.
	Result map[string]any `json:"result,omitempty"`
	// Error is the last error message if the task failed.
	Error string `json:"error,omitempty"`
	// ExecutionContext is free-form state mutated by healing strategies.
	ExecutionContext map[string]any `json:"execution_context,omitempty"`
}

// Clone returns a snapshot of the task with its slices and maps
// shallow-copied, safe to hand to callers outside the store's lock.
func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Payload = copyMap(t.Payload)
	c.Result = copyMap(t.Result)
	c.ExecutionContext = copyMap(t.ExecutionContext)
	return &c
}

// HealClone returns a copy prepared for healing: the executor result and
// supersession marker are dropped so the clone starts from a clean slate.
// The caller assigns the fresh ID, epoch, and status.
func (t *Task) HealClone() *Task {
	c := t.Clone()
	c.Result = nil
	c.SupersededBy = ""
	c.Error = ""
	c.StartedAt = nil
	c.CompletedAt = nil
	c.RetryCount = 0
	c.HealedFrom = t.ID
	return c
}

// TimedOut reports whether the task has been running longer than its timeout.
func (t *Task) TimedOut(now time.Time) bool {
	if t.Status != TaskStatusRunning || t.StartedAt == nil || t.TimeoutSeconds <= 0 {
		return false
	}
	return now.Sub(*t.StartedAt) > time.Duration(t.TimeoutSeconds)*time.Second
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
