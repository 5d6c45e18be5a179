package orchestrator

import "time"

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskDispatched indicates a task was handed to the executor.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskRetrying indicates a task failed and will be retried.
	EventTaskRetrying EventType = "task_retrying"
	// EventTaskFailed indicates a task failed with no retries remaining.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskHealed indicates a healed clone superseded a failed or stuck task.
	EventTaskHealed EventType = "task_healed"
	// EventExecutionFinished indicates an execution reached a terminal status.
	EventExecutionFinished EventType = "execution_finished"
	// EventNotification carries an automation rule's notify message.
	EventNotification EventType = "notification"
)

// Event represents an event emitted by the orchestrator. Events feed the
// status surface and structured logs; dropping one never affects task state.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// ExecutionID is the ID of the owning execution, if applicable.
	ExecutionID string
	// WorkflowID is the ID of the owning workflow, if applicable.
	WorkflowID string
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
