package models

import "testing"

func TestComparisonOpCompare(t *testing.T) {
	tests := []struct {
		op        ComparisonOp
		value     float64
		threshold float64
		want      bool
	}{
		{OpGreaterThan, 5, 3, true},
		{OpGreaterThan, 3, 3, false},
		{OpLessThan, 2, 3, true},
		{OpLessThan, 3, 3, false},
		{OpGreaterOrEqual, 3, 3, true},
		{OpGreaterOrEqual, 2, 3, false},
		{OpLessOrEqual, 3, 3, true},
		{OpLessOrEqual, 4, 3, false},
		{ComparisonOp("eq"), 3, 3, false},
	}
	for _, tc := range tests {
		if got := tc.op.Compare(tc.value, tc.threshold); got != tc.want {
			t.Errorf("%q.Compare(%f, %f) = %v, want %v", tc.op, tc.value, tc.threshold, got, tc.want)
		}
	}
}

func TestTaskFilterMatches(t *testing.T) {
	task := &Task{Type: "deploy", AgentID: "agent-1", Status: TaskStatusPending}

	tests := []struct {
		name   string
		filter TaskFilter
		want   bool
	}{
		{"empty filter matches all", TaskFilter{}, true},
		{"type match", TaskFilter{Type: "deploy"}, true},
		{"type mismatch", TaskFilter{Type: "build"}, false},
		{"agent match", TaskFilter{AgentID: "agent-1"}, true},
		{"agent mismatch", TaskFilter{AgentID: "agent-2"}, false},
		{"status match", TaskFilter{Status: TaskStatusPending}, true},
		{"status mismatch", TaskFilter{Status: TaskStatusRunning}, false},
		{"all fields match", TaskFilter{Type: "deploy", AgentID: "agent-1", Status: TaskStatusPending}, true},
		{"one field mismatch", TaskFilter{Type: "deploy", AgentID: "agent-2"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(task); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConditionTypeValid(t *testing.T) {
	for _, c := range []ConditionType{ConditionInterval, ConditionMetricThreshold, ConditionTaskState} {
		if !c.Valid() {
			t.Errorf("expected %q to be valid", c)
		}
	}
	if ConditionType("cron").Valid() {
		t.Error("expected unknown condition type to be invalid")
	}
}

func TestActionTypeValid(t *testing.T) {
	for _, a := range []ActionType{ActionSpawnWorkflow, ActionReprioritize, ActionPurge, ActionNotify} {
		if !a.Valid() {
			t.Errorf("expected %q to be valid", a)
		}
	}
	if ActionType("delete_everything").Valid() {
		t.Error("expected unknown action type to be invalid")
	}
}

func TestDefaultRetention(t *testing.T) {
	r := DefaultRetention()
	if r.CompletedTasks.Hours() != 1 {
		t.Errorf("expected 1h task retention, got %v", r.CompletedTasks)
	}
	if r.CompletedExecutions.Hours() != 24 {
		t.Errorf("expected 24h execution retention, got %v", r.CompletedExecutions)
	}
}
