package models

import "time"

// Workflow is an immutable template for a unit of orchestrated work.
// Workflows are never mutated after creation; edits create new workflows.
type Workflow struct {
	// ID is the unique identifier for this workflow.
	ID string `json:"id"`
	// Name is the short human-readable name.
	Name string `json:"name"`
	// Description provides detail about what the workflow does.
	Description string `json:"description,omitempty"`
	// Templates is the ordered list of task templates.
	Templates []TaskTemplate `json:"templates"`
	// DefaultPriority applies to templates that don't set their own.
	DefaultPriority Priority `json:"default_priority"`
	// AutoHeal enables the healing path for tasks that exhaust their retries.
	AutoHeal bool `json:"auto_heal"`
	// ParallelExecution is recorded on the definition but does not change
	// dispatch: independent tasks always run concurrently under the cap.
	ParallelExecution bool `json:"parallel_execution"`
	// RollbackOnFailure requests compensating actions when the execution
	// fails. Recorded only; no rollback actions are performed.
	RollbackOnFailure bool `json:"rollback_on_failure"`
	// Context is arbitrary data made available to every task instance.
	Context map[string]any `json:"context,omitempty"`
	// CreatedAt is when the workflow was stored.
	CreatedAt time.Time `json:"created_at"`
}

// Template returns the template with the given name, or nil if not found.
func (w *Workflow) Template(name string) *TaskTemplate {
	for i := range w.Templates {
		if w.Templates[i].Name == name {
			return &w.Templates[i]
		}
	}
	return nil
}

// TaskTemplate describes one task within a workflow. Dependencies refer to
// sibling templates by symbolic name, not by runtime task ID.
type TaskTemplate struct {
	// Name is the symbolic name, unique within the workflow.
	Name string `json:"name" yaml:"name"`
	// Type is the task type tag handed to the executor.
	Type string `json:"type" yaml:"type"`
	// AgentID is the target agent for tasks from this template.
	AgentID string `json:"agent_id,omitempty" yaml:"agent_id"`
	// Tier is a free-form tier label.
	Tier string `json:"tier,omitempty" yaml:"tier"`
	// Priority orders dispatch; zero means inherit the workflow default.
	Priority Priority `json:"priority,omitempty" yaml:"priority"`
	// DependsOn lists sibling template names that must complete first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on"`
	// Payload is the task input.
	Payload map[string]any `json:"payload,omitempty" yaml:"payload"`
	// TimeoutSeconds bounds a single executor invocation.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
	// MaxRetries is the retry budget for tasks from this template.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}
