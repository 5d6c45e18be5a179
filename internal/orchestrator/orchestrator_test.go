package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/internal/config"
	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Scheduler.PollInterval = 10 * time.Millisecond
	cfg.Scheduler.RetryBaseDelay = time.Millisecond
	cfg.Healing.Interval = 20 * time.Millisecond
	cfg.Automation.Interval = 20 * time.Millisecond
	return cfg
}

func startOrchestrator(t *testing.T, cfg *config.Config, executor scheduler.Executor) *Orchestrator {
	t.Helper()
	o := New(cfg, executor)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() {
		if err := o.Stop(); err != nil {
			t.Errorf("stop: %v", err)
		}
	})
	return o
}

func waitForExecution(t *testing.T, o *Orchestrator, id string, want models.ExecutionStatus) *models.WorkflowExecution {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := o.Store().GetExecution(id)
		require.NoError(t, err)
		if exec.Status.Terminal() {
			require.Equal(t, want, exec.Status)
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal status", id)
	return nil
}

func TestOrchestratorRunsWorkflowEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	o := startOrchestrator(t, cfg, &scheduler.SimulatedExecutor{})

	wfID, err := o.CreateWorkflow(store.WorkflowSpec{
		Name: "release",
		Templates: []models.TaskTemplate{
			{Name: "build", Type: "build"},
			{Name: "test", Type: "test", DependsOn: []string{"build"}},
			{Name: "deploy", Type: "deploy", DependsOn: []string{"test"}, Priority: models.PriorityHigh},
		},
	})
	require.NoError(t, err)

	exec, err := o.ExecuteWorkflow(wfID, map[string]any{"version": "1.2.3"})
	require.NoError(t, err)

	final := waitForExecution(t, o, exec.ID, models.ExecutionStatusCompleted)
	assert.Len(t, final.CompletedTasks, 3)
	assert.Empty(t, final.FailedTasks)
	assert.Equal(t, "1.2.3", final.Context["version"])
}

func TestOrchestratorEmitsLifecycleEvents(t *testing.T) {
	cfg := testConfig(t)
	o := startOrchestrator(t, cfg, &scheduler.SimulatedExecutor{})

	wfID, err := o.CreateWorkflow(store.WorkflowSpec{
		Name:      "single",
		Templates: []models.TaskTemplate{{Name: "only", Type: "noop"}},
	})
	require.NoError(t, err)
	exec, err := o.ExecuteWorkflow(wfID, nil)
	require.NoError(t, err)

	waitForExecution(t, o, exec.ID, models.ExecutionStatusCompleted)

	seen := map[EventType]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[EventTaskDispatched] || !seen[EventTaskCompleted] {
		select {
		case event := <-o.Events():
			seen[event.Type] = true
			assert.Equal(t, exec.ID, event.ExecutionID)
		case <-deadline:
			t.Fatalf("missing lifecycle events, saw %v", seen)
		}
	}
}

func TestOrchestratorHealsFailedTask(t *testing.T) {
	cfg := testConfig(t)
	o := startOrchestrator(t, cfg, &scheduler.SimulatedExecutor{})

	// The original fails terminally (no retries), the healing loop adopts a
	// clone, and the clone's attempt succeeds.
	wfID, err := o.CreateWorkflow(store.WorkflowSpec{
		Name:     "healable",
		AutoHeal: true,
		Templates: []models.TaskTemplate{{
			Name: "only", Type: "noop",
			Payload: map[string]any{scheduler.SimulateFailUntilHealed: true},
		}},
	})
	require.NoError(t, err)
	exec, err := o.ExecuteWorkflow(wfID, nil)
	require.NoError(t, err)

	final := waitForExecution(t, o, exec.ID, models.ExecutionStatusCompleted)
	require.Len(t, final.CompletedTasks, 1)

	healed, err := o.Store().GetTask(final.CompletedTasks[0])
	require.NoError(t, err)
	assert.NotEmpty(t, healed.HealedFrom, "completing task should be a healed clone")
	assert.Equal(t, 1, healed.Epoch)
}

func TestOrchestratorRecoversStateAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	// First run: create the workflow, then stop before executing.
	o1 := New(cfg, &scheduler.SimulatedExecutor{})
	require.NoError(t, o1.Start(context.Background()))
	wfID, err := o1.CreateWorkflow(store.WorkflowSpec{
		Name:      "persistent",
		Templates: []models.TaskTemplate{{Name: "only", Type: "noop"}},
	})
	require.NoError(t, err)
	require.NoError(t, o1.Stop())

	// Second run over the same storage dir sees the workflow and runs it.
	o2 := startOrchestrator(t, cfg, &scheduler.SimulatedExecutor{})
	exec, err := o2.ExecuteWorkflow(wfID, nil)
	require.NoError(t, err)
	waitForExecution(t, o2, exec.ID, models.ExecutionStatusCompleted)
}

func TestOrchestratorStartTwiceFails(t *testing.T) {
	cfg := testConfig(t)
	o := startOrchestrator(t, cfg, &scheduler.SimulatedExecutor{})
	assert.Error(t, o.Start(context.Background()))
}
