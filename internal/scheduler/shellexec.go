package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowgrid/flowgrid/internal/exec"
	"github.com/flowgrid/flowgrid/pkg/models"
)

// CommandKey is the payload key holding the shell command a ShellExecutor runs.
const CommandKey = "command"

// maxCapturedOutput bounds how much command output is kept in a task result.
const maxCapturedOutput = 64 * 1024

// ShellExecutor runs tasks whose payload carries a shell command. The command
// inherits the attempt's context, so cancelling a stuck attempt kills the
// process.
type ShellExecutor struct {
	// Runner performs the actual process execution.
	Runner exec.CommandRunner
	// WorkDir is the working directory for commands, cwd if empty.
	WorkDir string
}

// NewShellExecutor creates a ShellExecutor using the os/exec runner.
func NewShellExecutor(workDir string) *ShellExecutor {
	return &ShellExecutor{Runner: exec.NewRunner(), WorkDir: workDir}
}

// Execute runs the task's command and captures its output into the result.
func (e *ShellExecutor) Execute(ctx context.Context, task *models.Task) (map[string]any, error) {
	command, _ := task.Payload[CommandKey].(string)
	if strings.TrimSpace(command) == "" {
		return nil, models.NewValidationError("task %s has no %q in its payload", task.ID, CommandKey)
	}

	out, err := e.Runner.RunShell(ctx, e.WorkDir, command)
	output := truncateOutput(string(out))
	if err != nil {
		return nil, fmt.Errorf("command failed: %w: %s", err, output)
	}
	return map[string]any{
		"command": command,
		"output":  output,
	}, nil
}

func truncateOutput(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[:maxCapturedOutput] + "... (truncated)"
}
