package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowgrid/flowgrid/internal/orchestrator"
	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run a simulated demo workflow",
	Long: `Run a built-in demo workflow against a simulated executor.

The demo exercises dependency gating, a transient failure with retries, and
self-healing of a task that fails until it is healed. It uses a temporary
storage directory and leaves the configured storage untouched.`,
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp("", "flowgrid-demo-")
	if err != nil {
		return fmt.Errorf("create demo storage: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	cfg.Storage.Dir = tmpDir
	cfg.Scheduler.PollInterval = 50 * time.Millisecond
	cfg.Scheduler.RetryBaseDelay = 100 * time.Millisecond
	cfg.Healing.Interval = 200 * time.Millisecond

	o := orchestrator.New(cfg, &scheduler.SimulatedExecutor{Latency: 50 * time.Millisecond})
	if err := o.Start(context.Background()); err != nil {
		return err
	}
	defer o.Stop()

	wfID, err := o.CreateWorkflow(store.WorkflowSpec{
		Name:        "demo",
		Description: "Exercises gating, retries, and healing",
		AutoHeal:    true,
		Templates: []models.TaskTemplate{
			{Name: "fetch", Type: "demo", Priority: models.PriorityHigh},
			{Name: "flaky", Type: "demo", MaxRetries: 3,
				Payload: map[string]any{scheduler.SimulateFailures: 2}},
			{Name: "doomed", Type: "demo",
				Payload: map[string]any{scheduler.SimulateFailUntilHealed: true}},
			{Name: "report", Type: "demo", DependsOn: []string{"fetch", "flaky", "doomed"}},
		},
	})
	if err != nil {
		return err
	}

	exec, err := o.ExecuteWorkflow(wfID, map[string]any{"demo": true})
	if err != nil {
		return err
	}
	fmt.Printf("Demo execution %s started\n", shortID(exec.ID))

	go printEvents(o, exec.ID)

	final := waitForTerminal(o, exec.ID)
	fmt.Println()
	fmt.Printf("Demo finished: %s, %d completed, %d failed\n",
		colorExecutionStatus(final.Status),
		len(final.CompletedTasks),
		len(final.FailedTasks))

	if final.Status != models.ExecutionStatusCompleted {
		return fmt.Errorf("demo execution %s", final.Status)
	}
	return nil
}
