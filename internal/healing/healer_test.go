package healing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/state"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		errMsg string
		want   Strategy
	}{
		{"operation timeout exceeded", StrategyIncreaseTimeout},
		{"task timed out after 60s", StrategyIncreaseTimeout},
		{"Permission denied", StrategyEscalatePrivileges},
		{"ACCESS DENIED by policy", StrategyEscalatePrivileges},
		{"unauthorized request", StrategyEscalatePrivileges},
		{"out of memory", StrategyAllocateMoreResources},
		{"resource exhausted", StrategyAllocateMoreResources},
		{"no space left on disk", StrategyAllocateMoreResources},
		{"invalid config value", StrategyFixConfiguration},
		{"dependency not satisfied", StrategyResolveDependencies},
		{"connection refused", StrategyRetryWithBackoff},
		{"service unavailable", StrategyRetryWithBackoff},
		{"rate limit exceeded", StrategyRetryWithBackoff},
		{"something unexpected happened", StrategyGenericRetry},
		{"", StrategyGenericRetry},
	}
	for _, tc := range tests {
		if got := SelectStrategy(tc.errMsg); got != tc.want {
			t.Errorf("SelectStrategy(%q) = %s, want %s", tc.errMsg, got, tc.want)
		}
	}
}

func newTestStack(t *testing.T, cfg Config) (*store.Store, *scheduler.Scheduler, *Healer) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "flowgrid.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(db)
	if err := st.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sched := scheduler.New(st, scheduler.ExecutorFunc(func(context.Context, *models.Task) (map[string]any, error) {
		return nil, nil
	}), scheduler.Config{MaxConcurrent: 10, MinConcurrent: 5})
	return st, sched, New(st, sched, cfg)
}

// failTerminally drives a task to terminal failure through the store.
func failTerminally(t *testing.T, st *store.Store, id, errMsg string) *models.Task {
	t.Helper()
	running, err := st.MarkTaskRunning(id)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := st.FailTask(id, running.Epoch, errMsg)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != models.TaskStatusFailed {
		t.Fatalf("task status = %s, want failed", snap.Status)
	}
	return snap
}

func setupTask(t *testing.T, st *store.Store, tpl models.TaskTemplate, autoHeal bool) (*models.WorkflowExecution, *models.Task) {
	t.Helper()
	wfID, err := st.CreateWorkflow(store.WorkflowSpec{
		Name:      "w",
		AutoHeal:  autoHeal,
		Templates: []models.TaskTemplate{tpl},
	})
	if err != nil {
		t.Fatal(err)
	}
	exec, tasks, err := st.ExecuteWorkflow(wfID, nil)
	if err != nil {
		t.Fatal(err)
	}
	return exec, tasks[0]
}

func TestHealTaskCloneProperties(t *testing.T) {
	st, _, h := newTestStack(t, Config{})
	_, task := setupTask(t, st, models.TaskTemplate{
		Name: "only", Type: "noop", Priority: models.PriorityHigh, TimeoutSeconds: 120,
	}, true)

	snap := failTerminally(t, st, task.ID, "operation timeout exceeded")
	healed, err := h.HealTask(snap)
	if err != nil {
		t.Fatal(err)
	}

	if healed.ID == task.ID {
		t.Error("healed clone must get a fresh ID")
	}
	if healed.HealedFrom != task.ID {
		t.Errorf("HealedFrom = %q, want %q", healed.HealedFrom, task.ID)
	}
	if healed.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", healed.RetryCount)
	}
	if healed.Epoch != snap.Epoch+1 {
		t.Errorf("Epoch = %d, want %d", healed.Epoch, snap.Epoch+1)
	}
	if healed.Priority != models.PriorityHigh {
		t.Errorf("Priority = %s, want the original's", healed.Priority)
	}
	if healed.TimeoutSeconds != 240 {
		t.Errorf("TimeoutSeconds = %d, want doubled to 240", healed.TimeoutSeconds)
	}
	if healed.ExecutionContext[healingContextKey] != string(StrategyIncreaseTimeout) {
		t.Errorf("strategy tag = %v, want %s", healed.ExecutionContext[healingContextKey], StrategyIncreaseTimeout)
	}

	// The clone is adopted in the store and the original superseded.
	got, err := st.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SupersededBy != healed.ID {
		t.Errorf("SupersededBy = %q, want %q", got.SupersededBy, healed.ID)
	}
}

func TestHandleExhaustedRespectsAutoHeal(t *testing.T) {
	st, _, h := newTestStack(t, Config{})

	_, task := setupTask(t, st, models.TaskTemplate{Name: "only", Type: "noop"}, false)
	snap := failTerminally(t, st, task.ID, "boom")
	if h.HandleExhausted(snap) {
		t.Error("expected HandleExhausted to decline when auto-heal is off")
	}
}

func TestHandleExhaustedHealsOncePerLineage(t *testing.T) {
	st, _, h := newTestStack(t, Config{})
	_, task := setupTask(t, st, models.TaskTemplate{Name: "only", Type: "noop"}, true)

	snap := failTerminally(t, st, task.ID, "connection refused")
	if !h.HandleExhausted(snap) {
		t.Fatal("expected first failure to be healed")
	}

	orig, err := st.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	clone, err := st.GetTask(orig.SupersededBy)
	if err != nil {
		t.Fatal(err)
	}

	failed := failTerminally(t, st, clone.ID, "connection refused")
	if h.HandleExhausted(failed) {
		t.Error("expected a failed healed clone to not be healed again")
	}
}

func TestDependencyClearGating(t *testing.T) {
	depErr := "dependency not satisfied"

	t.Run("disabled by default", func(t *testing.T) {
		st, _, h := newTestStack(t, Config{})
		wfID, err := st.CreateWorkflow(store.WorkflowSpec{
			Name:     "w",
			AutoHeal: true,
			Templates: []models.TaskTemplate{
				{Name: "a", Type: "noop"},
				{Name: "b", Type: "noop", DependsOn: []string{"a"}},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		_, tasks, err := st.ExecuteWorkflow(wfID, nil)
		if err != nil {
			t.Fatal(err)
		}
		var b *models.Task
		for _, task := range tasks {
			if task.TemplateName == "b" {
				b = task
			}
		}
		if err := st.PromoteTask(b.ID); err != nil {
			t.Fatal(err)
		}

		snap := failTerminally(t, st, b.ID, depErr)
		healed, err := h.HealTask(snap)
		if err != nil {
			t.Fatal(err)
		}
		if len(healed.DependsOn) != 1 {
			t.Errorf("dependencies = %v, want kept when clearing is disabled", healed.DependsOn)
		}
		if healed.ExecutionContext[healingContextKey] != string(StrategyGenericRetry) {
			t.Errorf("strategy tag = %v, want fallback to %s", healed.ExecutionContext[healingContextKey], StrategyGenericRetry)
		}
	})

	t.Run("enabled clears dependencies", func(t *testing.T) {
		st, _, h := newTestStack(t, Config{AllowDependencyClear: true})
		wfID, err := st.CreateWorkflow(store.WorkflowSpec{
			Name:     "w",
			AutoHeal: true,
			Templates: []models.TaskTemplate{
				{Name: "a", Type: "noop"},
				{Name: "b", Type: "noop", DependsOn: []string{"a"}},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		_, tasks, err := st.ExecuteWorkflow(wfID, nil)
		if err != nil {
			t.Fatal(err)
		}
		var b *models.Task
		for _, task := range tasks {
			if task.TemplateName == "b" {
				b = task
			}
		}
		if err := st.PromoteTask(b.ID); err != nil {
			t.Fatal(err)
		}

		snap := failTerminally(t, st, b.ID, depErr)
		healed, err := h.HealTask(snap)
		if err != nil {
			t.Fatal(err)
		}
		if len(healed.DependsOn) != 0 {
			t.Errorf("dependencies = %v, want cleared", healed.DependsOn)
		}
	})
}

func TestHealStuckTasks(t *testing.T) {
	st, _, h := newTestStack(t, Config{})
	_, task := setupTask(t, st, models.TaskTemplate{Name: "only", Type: "noop", TimeoutSeconds: 30}, true)

	if _, err := st.MarkTaskRunning(task.ID); err != nil {
		t.Fatal(err)
	}
	// Advance the healer's clock past the task's timeout.
	h.SetClock(func() time.Time { return time.Now().Add(60 * time.Second) })

	h.HealStuckTasks()

	orig, err := st.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if orig.Status != models.TaskStatusCancelled {
		t.Errorf("stuck original status = %s, want cancelled", orig.Status)
	}
	if orig.SupersededBy == "" {
		t.Fatal("stuck task was not superseded")
	}
	clone, err := st.GetTask(orig.SupersededBy)
	if err != nil {
		t.Fatal(err)
	}
	if clone.TimeoutSeconds != 60 {
		t.Errorf("clone timeout = %d, want doubled to 60", clone.TimeoutSeconds)
	}
	if clone.Status != models.TaskStatusPending {
		t.Errorf("clone status = %s, want pending", clone.Status)
	}
}

func TestHealStuckTasksRespectsAutoHeal(t *testing.T) {
	st, _, h := newTestStack(t, Config{})
	_, task := setupTask(t, st, models.TaskTemplate{Name: "only", Type: "noop", TimeoutSeconds: 30}, false)

	if _, err := st.MarkTaskRunning(task.ID); err != nil {
		t.Fatal(err)
	}
	h.SetClock(func() time.Time { return time.Now().Add(60 * time.Second) })

	h.HealStuckTasks()

	got, err := st.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusCancelled {
		t.Errorf("stuck task status = %s, want cancelled (timeout still enforced)", got.Status)
	}
	if got.SupersededBy != "" {
		t.Errorf("stuck task superseded by %q, want no clone when auto-heal is off", got.SupersededBy)
	}
}

func TestCheckHealthMitigations(t *testing.T) {
	st, sched, h := newTestStack(t, Config{
		SuccessThreshold:   0.70,
		TimeoutRaiseFactor: 1.5,
		TimeoutCap:         600 * time.Second,
	})

	// One completed, three running: success rate 25%, below threshold.
	wfID, err := st.CreateWorkflow(store.WorkflowSpec{
		Name: "w",
		Templates: []models.TaskTemplate{
			{Name: "done", Type: "noop"},
			{Name: "r1", Type: "noop", TimeoutSeconds: 100},
			{Name: "r2", Type: "noop", TimeoutSeconds: 500},
			{Name: "r3", Type: "noop", TimeoutSeconds: 0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, tasks, err := st.ExecuteWorkflow(wfID, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if _, err := st.MarkTaskRunning(task.ID); err != nil {
			t.Fatal(err)
		}
		if task.TemplateName == "done" {
			if err := st.CompleteTask(task.ID, 0, nil); err != nil {
				t.Fatal(err)
			}
		}
	}

	h.CheckHealth()

	if got := sched.Capacity(); got != 9 {
		t.Errorf("capacity after mitigation = %d, want 9", got)
	}
	for _, task := range tasks {
		got, err := st.GetTask(task.ID)
		if err != nil {
			t.Fatal(err)
		}
		switch task.TemplateName {
		case "r1":
			if got.TimeoutSeconds != 150 {
				t.Errorf("r1 timeout = %d, want 150", got.TimeoutSeconds)
			}
		case "r2":
			if got.TimeoutSeconds != 600 {
				t.Errorf("r2 timeout = %d, want capped at 600", got.TimeoutSeconds)
			}
		case "r3":
			if got.TimeoutSeconds != 0 {
				t.Errorf("r3 timeout = %d, want untouched zero (no timeout)", got.TimeoutSeconds)
			}
		}
	}

	// Repeated mitigation never shrinks below the floor.
	for i := 0; i < 10; i++ {
		h.CheckHealth()
	}
	if got := sched.Capacity(); got != 5 {
		t.Errorf("capacity after repeated mitigation = %d, want floor 5", got)
	}
}

func TestCheckHealthHealthySystemUntouched(t *testing.T) {
	st, sched, h := newTestStack(t, Config{})
	_, task := setupTask(t, st, models.TaskTemplate{Name: "only", Type: "noop"}, false)
	if _, err := st.MarkTaskRunning(task.ID); err != nil {
		t.Fatal(err)
	}
	if err := st.CompleteTask(task.ID, 0, nil); err != nil {
		t.Fatal(err)
	}

	h.CheckHealth()
	if got := sched.Capacity(); got != 10 {
		t.Errorf("capacity = %d, want untouched 10", got)
	}
}
