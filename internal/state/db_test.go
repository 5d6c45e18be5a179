package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// openTestDB creates a migrated database in a temp directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "flowgrid.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestWorkflowRoundtrip(t *testing.T) {
	db := openTestDB(t)

	w := &models.Workflow{
		ID:                "wf-1",
		Name:              "deploy pipeline",
		Description:       "build, test, deploy",
		DefaultPriority:   models.PriorityNormal,
		AutoHeal:          true,
		ParallelExecution: true,
		Context:           map[string]any{"env": "staging"},
		CreatedAt:         time.Now(),
		Templates: []models.TaskTemplate{
			{Name: "build", Type: "build", AgentID: "builder-1", Priority: models.PriorityHigh, TimeoutSeconds: 120, MaxRetries: 2},
			{Name: "test", Type: "test", DependsOn: []string{"build"}, Payload: map[string]any{"suite": "unit"}, TimeoutSeconds: 300, MaxRetries: 1},
		},
	}

	if err := db.CreateWorkflow(w); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	got, err := db.GetWorkflow("wf-1")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got == nil {
		t.Fatal("expected workflow, got nil")
	}
	if got.Name != w.Name {
		t.Errorf("expected name %q, got %q", w.Name, got.Name)
	}
	if !got.AutoHeal {
		t.Error("expected autoHeal to roundtrip")
	}
	if len(got.Templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(got.Templates))
	}
	if got.Templates[0].Name != "build" {
		t.Errorf("expected template order preserved, got %q first", got.Templates[0].Name)
	}
	if got.Templates[1].DependsOn[0] != "build" {
		t.Errorf("expected dependency to roundtrip, got %v", got.Templates[1].DependsOn)
	}
	if got.Context["env"] != "staging" {
		t.Errorf("expected context to roundtrip, got %v", got.Context)
	}
}

func TestGetWorkflowMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetWorkflow("nope")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing workflow, got %+v", got)
	}
}

func TestExecutionRoundtrip(t *testing.T) {
	db := openTestDB(t)

	e := &models.WorkflowExecution{
		ID:           "exec-1",
		WorkflowID:   "wf-1",
		Status:       models.ExecutionStatusRunning,
		CurrentTasks: []string{"task-1", "task-2"},
		Results:      map[string]map[string]any{},
		StartedAt:    time.Now(),
	}
	if err := db.CreateExecution(e); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	completedAt := time.Now()
	e.Status = models.ExecutionStatusCompleted
	e.CurrentTasks = nil
	e.CompletedTasks = []string{"task-1", "task-2"}
	e.Results = map[string]map[string]any{"task-1": {"ok": true}}
	e.CompletedAt = &completedAt
	if err := db.UpdateExecution(e); err != nil {
		t.Fatalf("update execution: %v", err)
	}

	got, err := db.GetExecution("exec-1")
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != models.ExecutionStatusCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}
	if len(got.CompletedTasks) != 2 {
		t.Errorf("expected 2 completed tasks, got %d", len(got.CompletedTasks))
	}
	if got.CompletedAt == nil {
		t.Error("expected completedAt to roundtrip")
	}
	if got.Results["task-1"]["ok"] != true {
		t.Errorf("expected results to roundtrip, got %v", got.Results)
	}
}

func TestListExecutionsByStatus(t *testing.T) {
	db := openTestDB(t)

	for i, status := range []models.ExecutionStatus{
		models.ExecutionStatusRunning, models.ExecutionStatusCompleted, models.ExecutionStatusRunning,
	} {
		e := &models.WorkflowExecution{
			ID:         "exec-" + string(rune('a'+i)),
			WorkflowID: "wf-1",
			Status:     status,
			StartedAt:  time.Now(),
		}
		if err := db.CreateExecution(e); err != nil {
			t.Fatalf("create execution: %v", err)
		}
	}

	running := models.ExecutionStatusRunning
	got, err := db.ListExecutions(&running)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 running executions, got %d", len(got))
	}

	all, err := db.ListExecutions(nil)
	if err != nil {
		t.Fatalf("list all executions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 executions, got %d", len(all))
	}
}

func TestTaskRoundtrip(t *testing.T) {
	db := openTestDB(t)

	started := time.Now()
	task := &models.Task{
		ID:               "task-1",
		WorkflowID:       "wf-1",
		ExecutionID:      "exec-1",
		TemplateName:     "build",
		Type:             "build",
		AgentID:          "builder-1",
		Priority:         models.PriorityCritical,
		DependsOn:        []string{"task-0"},
		Payload:          map[string]any{"target": "linux"},
		TimeoutSeconds:   60,
		MaxRetries:       3,
		Status:           models.TaskStatusRunning,
		RetryCount:       1,
		Epoch:            2,
		EnqueuedAt:       time.Now(),
		StartedAt:        &started,
		ExecutionContext: map[string]any{"healing_strategy": "retry_with_backoff"},
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	completedAt := time.Now()
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &completedAt
	task.Result = map[string]any{"artifact": "bin/app"}
	if err := db.UpdateTask(task); err != nil {
		t.Fatalf("update task: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}
	if got.Epoch != 2 {
		t.Errorf("expected epoch 2, got %d", got.Epoch)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
	if got.Result["artifact"] != "bin/app" {
		t.Errorf("expected result to roundtrip, got %v", got.Result)
	}
	if got.ExecutionContext["healing_strategy"] != "retry_with_backoff" {
		t.Errorf("expected execution context to roundtrip, got %v", got.ExecutionContext)
	}
}

func TestListTasksByStatus(t *testing.T) {
	db := openTestDB(t)

	statuses := []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusPending,
	}
	for i, status := range statuses {
		task := &models.Task{
			ID:          "task-" + string(rune('a'+i)),
			WorkflowID:  "wf-1",
			ExecutionID: "exec-1",
			Type:        "noop",
			Priority:    models.PriorityNormal,
			Status:      status,
			EnqueuedAt:  time.Now(),
		}
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	pending, err := db.ListTasksByStatus(models.TaskStatusPending)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending tasks, got %d", len(pending))
	}

	byExec, err := db.ListTasksByExecution("exec-1")
	if err != nil {
		t.Fatalf("list tasks by execution: %v", err)
	}
	if len(byExec) != 3 {
		t.Errorf("expected 3 tasks in execution, got %d", len(byExec))
	}
}

func TestAgentPerformanceUpsert(t *testing.T) {
	db := openTestDB(t)

	p := &models.AgentPerformance{
		AgentID: "agent-1", SuccessCount: 1, AvgExecutionMS: 120, UpdatedAt: time.Now(),
	}
	if err := db.UpsertAgentPerformance(p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p.SuccessCount = 2
	p.AvgExecutionMS = 150
	if err := db.UpsertAgentPerformance(p); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := db.GetAgentPerformance("agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SuccessCount != 2 {
		t.Errorf("expected success count 2, got %d", got.SuccessCount)
	}
	if got.AvgExecutionMS != 150 {
		t.Errorf("expected avg 150, got %f", got.AvgExecutionMS)
	}
}

func TestPurgeCompletedTasks(t *testing.T) {
	db := openTestDB(t)

	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-5 * time.Minute)
	for _, tc := range []struct {
		id          string
		status      models.TaskStatus
		completedAt *time.Time
	}{
		{"task-old", models.TaskStatusCompleted, &old},
		{"task-recent", models.TaskStatusCompleted, &recent},
		{"task-running", models.TaskStatusRunning, nil},
	} {
		task := &models.Task{
			ID: tc.id, WorkflowID: "wf-1", ExecutionID: "exec-1", Type: "noop",
			Priority: models.PriorityNormal, Status: tc.status,
			EnqueuedAt: time.Now(), CompletedAt: tc.completedAt,
		}
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	purged, err := db.PurgeCompletedTasks(time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged task, got %d", purged)
	}

	if got, _ := db.GetTask("task-old"); got != nil {
		t.Error("expected old completed task to be purged")
	}
	if got, _ := db.GetTask("task-recent"); got == nil {
		t.Error("expected recent completed task to survive purge")
	}
}
