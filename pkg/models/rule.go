package models

import "time"

// ConditionType identifies the kind of condition an automation rule evaluates.
type ConditionType string

const (
	// ConditionInterval fires on a fixed cadence (hourly or daily).
	ConditionInterval ConditionType = "interval"
	// ConditionMetricThreshold compares a named metric against a threshold.
	ConditionMetricThreshold ConditionType = "metric_threshold"
	// ConditionTaskState fires when enough tasks are in a given status.
	ConditionTaskState ConditionType = "task_state"
)

// Valid returns true if the condition type is a known value.
func (c ConditionType) Valid() bool {
	switch c {
	case ConditionInterval, ConditionMetricThreshold, ConditionTaskState:
		return true
	default:
		return false
	}
}

// ComparisonOp is the operator used by metric threshold conditions.
type ComparisonOp string

const (
	// OpGreaterThan fires when the metric exceeds the threshold.
	OpGreaterThan ComparisonOp = "gt"
	// OpLessThan fires when the metric is below the threshold.
	OpLessThan ComparisonOp = "lt"
	// OpGreaterOrEqual fires when the metric meets or exceeds the threshold.
	OpGreaterOrEqual ComparisonOp = "gte"
	// OpLessOrEqual fires when the metric is at or below the threshold.
	OpLessOrEqual ComparisonOp = "lte"
)

// Compare applies the operator to a metric value and threshold.
func (op ComparisonOp) Compare(value, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return value > threshold
	case OpLessThan:
		return value < threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}

// RuleCondition is the declarative trigger half of an automation rule.
// Exactly one group of fields is meaningful depending on Type.
type RuleCondition struct {
	// Type selects which condition kind this is.
	Type ConditionType `json:"type" yaml:"type"`
	// Every is the cadence for interval conditions: "hourly" or "daily".
	Every string `json:"every,omitempty" yaml:"every"`
	// Metric is the named signal for threshold conditions (e.g. "active_tasks").
	Metric string `json:"metric,omitempty" yaml:"metric"`
	// Op is the comparison operator for threshold conditions.
	Op ComparisonOp `json:"op,omitempty" yaml:"op"`
	// Threshold is the value the metric is compared against.
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold"`
	// TaskStatus is the status matched by task-state conditions.
	TaskStatus TaskStatus `json:"task_status,omitempty" yaml:"task_status"`
	// MinCount is the minimum number of matching tasks for task-state conditions.
	MinCount int `json:"min_count,omitempty" yaml:"min_count"`
}

// ActionType identifies the kind of action an automation rule performs.
type ActionType string

const (
	// ActionSpawnWorkflow starts a new execution of a stored workflow.
	ActionSpawnWorkflow ActionType = "spawn_workflow"
	// ActionReprioritize bulk-updates the priority of matching queued tasks.
	ActionReprioritize ActionType = "reprioritize"
	// ActionPurge deletes completed tasks and executions past retention.
	ActionPurge ActionType = "purge"
	// ActionNotify emits a notification event.
	ActionNotify ActionType = "notify"
)

// Valid returns true if the action type is a known value.
func (a ActionType) Valid() bool {
	switch a {
	case ActionSpawnWorkflow, ActionReprioritize, ActionPurge, ActionNotify:
		return true
	default:
		return false
	}
}

// TaskFilter selects tasks for bulk actions.
type TaskFilter struct {
	// Type matches the task type tag when non-empty.
	Type string `json:"type,omitempty" yaml:"type"`
	// AgentID matches the target agent when non-empty.
	AgentID string `json:"agent_id,omitempty" yaml:"agent_id"`
	// Status matches the task status when non-empty.
	Status TaskStatus `json:"status,omitempty" yaml:"status"`
}

// Matches reports whether the task satisfies every non-empty filter field.
func (f TaskFilter) Matches(t *Task) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.AgentID != "" && t.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// RuleAction is the action half of an automation rule.
type RuleAction struct {
	// Type selects which action kind this is.
	Type ActionType `json:"type" yaml:"type"`
	// WorkflowID is the workflow to spawn for spawn_workflow actions.
	WorkflowID string `json:"workflow_id,omitempty" yaml:"workflow_id"`
	// Filter selects the tasks affected by reprioritize actions.
	Filter TaskFilter `json:"filter,omitempty" yaml:"filter"`
	// Priority is the new priority applied by reprioritize actions.
	Priority Priority `json:"priority,omitempty" yaml:"priority"`
	// Message is the notification text for notify actions.
	Message string `json:"message,omitempty" yaml:"message"`
}

// AutomationRule pairs a declarative condition with an action. Rules are
// stateless: they are evaluated repeatedly, never consumed.
type AutomationRule struct {
	// ID is the unique identifier for this rule.
	ID string `json:"id" yaml:"id"`
	// Name is the short human-readable name.
	Name string `json:"name" yaml:"name"`
	// Enabled gates evaluation; disabled rules are skipped.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Condition is the trigger.
	Condition RuleCondition `json:"condition" yaml:"condition"`
	// Action is what happens when the condition holds.
	Action RuleAction `json:"action" yaml:"action"`
}

// RetentionPolicy bounds how long terminal records are kept before purge.
type RetentionPolicy struct {
	// CompletedTasks is how long completed tasks are retained.
	CompletedTasks time.Duration
	// CompletedExecutions is how long terminal executions are retained.
	CompletedExecutions time.Duration
}

// DefaultRetention returns the standard retention windows: one hour for
// completed tasks, twenty-four hours for completed executions.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		CompletedTasks:      time.Hour,
		CompletedExecutions: 24 * time.Hour,
	}
}
