package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flowgrid/flowgrid/internal/orchestrator"
	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/pkg/models"
)

var executeContext []string

var executeCmd = &cobra.Command{
	Use:   "execute <workflow-id>",
	Short: "Execute a workflow and wait for it to finish",
	Long: `Run one execution of a stored workflow in the foreground.

Tasks of type "shell" run their payload command through 'sh -c' in the
current directory. Lifecycle events are printed as they happen; the command
exits zero only if the execution completes successfully.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func runExecute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	o := orchestrator.New(cfg, scheduler.NewShellExecutor(workDir))
	if err := o.Start(context.Background()); err != nil {
		return err
	}
	defer o.Stop()

	workflowID, err := resolveWorkflowID(o, args[0])
	if err != nil {
		return err
	}

	execCtx, err := parseContextPairs(executeContext)
	if err != nil {
		return err
	}

	exec, err := o.ExecuteWorkflow(workflowID, execCtx)
	if err != nil {
		return err
	}
	fmt.Printf("Execution %s started\n", shortID(exec.ID))

	go printEvents(o, exec.ID)

	final := waitForTerminal(o, exec.ID)
	fmt.Println()
	fmt.Printf("Execution %s: %s, %d completed, %d failed (%s)\n",
		shortID(final.ID),
		colorExecutionStatus(final.Status),
		len(final.CompletedTasks),
		len(final.FailedTasks),
		formatDuration(time.Since(final.StartedAt)))
	if final.Error != "" {
		fmt.Printf("  error: %s\n", final.Error)
	}

	if final.Status != models.ExecutionStatusCompleted {
		return fmt.Errorf("execution %s", final.Status)
	}
	return nil
}

// resolveWorkflowID accepts a full workflow ID or a unique prefix.
func resolveWorkflowID(o *orchestrator.Orchestrator, ref string) (string, error) {
	if _, err := o.Store().GetWorkflow(ref); err == nil {
		return ref, nil
	}

	var matches []string
	for _, w := range o.Store().ListWorkflows() {
		if strings.HasPrefix(w.ID, ref) || w.Name == ref {
			matches = append(matches, w.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no workflow matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous: matches %d workflows", ref, len(matches))
	}
}

// printEvents streams task lifecycle events for one execution to stdout.
func printEvents(o *orchestrator.Orchestrator, executionID string) {
	for event := range o.Events() {
		if event.ExecutionID != executionID || event.TaskID == "" {
			continue
		}
		task, err := o.Store().GetTask(event.TaskID)
		name := event.TaskID
		if err == nil {
			name = task.TemplateName
		}
		line := fmt.Sprintf("  %s %s", eventSymbol(event.Type), name)
		if event.Message != "" {
			line += ": " + event.Message
		}
		fmt.Println(line)
	}
}

func eventSymbol(t orchestrator.EventType) string {
	switch t {
	case orchestrator.EventTaskCompleted:
		return color.New(color.FgGreen).Sprint("✓")
	case orchestrator.EventTaskFailed:
		return color.New(color.FgRed).Sprint("✗")
	case orchestrator.EventTaskCancelled:
		return color.New(color.FgYellow).Sprint("−")
	case orchestrator.EventTaskRetrying:
		return color.New(color.FgYellow).Sprint("↻")
	case orchestrator.EventTaskHealed:
		return color.New(color.FgCyan).Sprint("+")
	default:
		return "→"
	}
}

// waitForTerminal polls until the execution reaches a terminal status.
func waitForTerminal(o *orchestrator.Orchestrator, id string) *models.WorkflowExecution {
	for {
		exec, err := o.Store().GetExecution(id)
		if err == nil && exec.Status.Terminal() {
			return exec
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// parseContextPairs parses repeated key=value flags into a context map.
func parseContextPairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	ctx := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context pair %q, want key=value", pair)
		}
		ctx[key] = value
	}
	return ctx, nil
}

func init() {
	executeCmd.Flags().StringArrayVar(&executeContext, "context", nil, "Execution context as key=value (repeatable)")
}
