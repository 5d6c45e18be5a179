package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flowgrid/flowgrid/internal/state"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workflows, executions, and task state",
	Long: `Display the current state of the flowgrid storage directory.

Shows:
  - Stored workflows
  - Recent executions and their progress
  - Task counts per status
  - Agent performance aggregates`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := state.DBPath(cfg.Storage.Dir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No state found. Run 'flowgrid create <file>' to define a workflow.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	s := store.New(db)
	if err := s.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	displayWorkflows(s)
	fmt.Println()
	displayExecutions(s)
	fmt.Println()
	displayTaskCounts(s)
	displayAgentPerformance(s)
	return nil
}

func displayWorkflows(s *store.Store) {
	workflows := s.ListWorkflows()
	if len(workflows) == 0 {
		fmt.Println("Workflows: none")
		return
	}
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	fmt.Printf("Workflows: %d\n", len(workflows))
	for _, w := range workflows {
		heal := ""
		if w.AutoHeal {
			heal = " [auto-heal]"
		}
		fmt.Printf("  %s: %q, %d tasks%s\n", shortID(w.ID), w.Name, len(w.Templates), heal)
	}
}

func displayExecutions(s *store.Store) {
	executions := s.ListExecutions()
	if len(executions) == 0 {
		fmt.Println("Executions: none")
		return
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})
	if len(executions) > 10 {
		executions = executions[:10]
	}

	fmt.Println("Recent Executions:")
	for _, e := range executions {
		elapsed := formatDuration(time.Since(e.StartedAt))
		done := len(e.CompletedTasks)
		total := done + len(e.FailedTasks) + len(e.CurrentTasks)
		fmt.Printf("  %s: %s, %d/%d tasks (%s ago)\n",
			shortID(e.ID), colorExecutionStatus(e.Status), done, total, elapsed)
		if e.Error != "" {
			fmt.Printf("    error: %s\n", e.Error)
		}
	}
}

func displayTaskCounts(s *store.Store) {
	counts := s.CountByStatus()
	if len(counts) == 0 {
		return
	}

	order := []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusWaiting,
		models.TaskStatusRunning,
		models.TaskStatusRetrying,
		models.TaskStatusPaused,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	}
	var parts []string
	for _, status := range order {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", formatNumber(n), status))
		}
	}
	fmt.Printf("Tasks: %s\n", strings.Join(parts, ", "))
}

func displayAgentPerformance(s *store.Store) {
	perfs := s.AgentPerformanceSnapshot()
	if len(perfs) == 0 {
		return
	}
	sort.Slice(perfs, func(i, j int) bool {
		return perfs[i].AgentID < perfs[j].AgentID
	})

	fmt.Println()
	fmt.Println("Agent Performance:")
	for _, p := range perfs {
		fmt.Printf("  %s: %.0f%% success (%s ok, %s failed), avg %.0fms\n",
			p.AgentID,
			p.SuccessRate()*100,
			formatNumber(p.SuccessCount),
			formatNumber(p.FailureCount),
			p.AvgExecutionMS)
	}
}

// colorExecutionStatus renders an execution status with a status color.
func colorExecutionStatus(status models.ExecutionStatus) string {
	switch status {
	case models.ExecutionStatusCompleted:
		return color.New(color.FgGreen).Sprint(string(status))
	case models.ExecutionStatusFailed:
		return color.New(color.FgRed).Sprint(string(status))
	case models.ExecutionStatusCancelled:
		return color.New(color.FgYellow).Sprint(string(status))
	default:
		return color.New(color.FgCyan).Sprint(string(status))
	}
}

// shortID truncates a UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// formatNumber formats a number with commas.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	// Add commas every 3 digits from the right
	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		if len(s) > offset {
			result.WriteString(",")
		}
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}
