// Package state provides SQLite-based persistence for flowgrid.
package state

import (
	"io"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// WorkflowSink handles workflow persistence.
type WorkflowSink interface {
	CreateWorkflow(w *models.Workflow) error
	GetWorkflow(id string) (*models.Workflow, error)
	ListWorkflows() ([]*models.Workflow, error)
}

// ExecutionSink handles execution persistence.
type ExecutionSink interface {
	CreateExecution(e *models.WorkflowExecution) error
	GetExecution(id string) (*models.WorkflowExecution, error)
	UpdateExecution(e *models.WorkflowExecution) error
	ListExecutions(status *models.ExecutionStatus) ([]*models.WorkflowExecution, error)
}

// TaskSink handles runtime task persistence.
type TaskSink interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	UpdateTask(t *models.Task) error
	ListTasksByExecution(executionID string) ([]*models.Task, error)
	ListTasksByStatus(status models.TaskStatus) ([]*models.Task, error)
}

// PerfSink handles per-agent aggregate persistence.
type PerfSink interface {
	UpsertAgentPerformance(p *models.AgentPerformance) error
	GetAgentPerformance(agentID string) (*models.AgentPerformance, error)
	ListAgentPerformance() ([]*models.AgentPerformance, error)
}

// Purger removes terminal records past their retention window.
type Purger interface {
	PurgeCompletedTasks(olderThan time.Duration) (int64, error)
	PurgeCompletedExecutions(olderThan time.Duration) (int64, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Sink is the durable state contract the Task Store writes through.
// Any keyed store satisfying this interface works; the SQLite DB is the
// default implementation.
type Sink interface {
	io.Closer
	Migrator
	WorkflowSink
	ExecutionSink
	TaskSink
	PerfSink
	Purger
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Sink          = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ WorkflowSink  = (*DB)(nil)
	_ ExecutionSink = (*DB)(nil)
	_ TaskSink      = (*DB)(nil)
	_ PerfSink      = (*DB)(nil)
)
