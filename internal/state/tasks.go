package state

import (
	"database/sql"
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// CreateTask persists a new runtime task.
func (db *DB) CreateTask(t *models.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO tasks (id, workflow_id, execution_id, template_name, type, agent_id,
			tier, priority, depends_on, payload, timeout_seconds, max_retries, status,
			retry_count, epoch, healed_from, superseded_by, enqueued_at, started_at,
			completed_at, result, error, execution_context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// UpdateTask rewrites a task's mutable fields.
func (db *DB) UpdateTask(t *models.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	// UPDATE takes id last; skip the immutable identity columns.
	update := append(args[6:], args[0])
	_, err = db.Exec(`
		UPDATE tasks SET tier = ?, priority = ?, depends_on = ?, payload = ?,
			timeout_seconds = ?, max_retries = ?, status = ?, retry_count = ?, epoch = ?,
			healed_from = ?, superseded_by = ?, enqueued_at = ?, started_at = ?,
			completed_at = ?, result = ?, error = ?, execution_context = ?
		WHERE id = ?
	`, update...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func taskArgs(t *models.Task) ([]any, error) {
	deps, err := encodeJSON(t.DependsOn)
	if err != nil {
		return nil, fmt.Errorf("encode task deps: %w", err)
	}
	payload, err := encodeJSON(t.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	result, err := encodeJSON(t.Result)
	if err != nil {
		return nil, fmt.Errorf("encode task result: %w", err)
	}
	execCtx, err := encodeJSON(t.ExecutionContext)
	if err != nil {
		return nil, fmt.Errorf("encode task execution context: %w", err)
	}
	return []any{
		t.ID, t.WorkflowID, t.ExecutionID, t.TemplateName, t.Type, t.AgentID,
		t.Tier, int(t.Priority), deps, payload, t.TimeoutSeconds, t.MaxRetries,
		string(t.Status), t.RetryCount, t.Epoch, t.HealedFrom, t.SupersededBy,
		formatTime(t.EnqueuedAt), formatNullableTime(t.StartedAt),
		formatNullableTime(t.CompletedAt), result, t.Error, execCtx,
	}, nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(taskSelect+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasksByExecution returns every task belonging to an execution.
func (db *DB) ListTasksByExecution(executionID string) ([]*models.Task, error) {
	return db.listTasks(taskSelect+" WHERE execution_id = ? ORDER BY enqueued_at", executionID)
}

// ListTasksByStatus returns every task currently in the given status.
func (db *DB) ListTasksByStatus(status models.TaskStatus) ([]*models.Task, error) {
	return db.listTasks(taskSelect+" WHERE status = ? ORDER BY enqueued_at", string(status))
}

const taskSelect = `
	SELECT id, workflow_id, execution_id, template_name, type, agent_id, tier,
		priority, depends_on, payload, timeout_seconds, max_retries, status,
		retry_count, epoch, healed_from, superseded_by, enqueued_at, started_at,
		completed_at, result, error, execution_context
	FROM tasks`

func (db *DB) listTasks(query string, args ...any) ([]*models.Task, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(s scanner) (*models.Task, error) {
	var t models.Task
	var priority int
	var status, enqueuedAt string
	var agentID, tier, healedFrom, supersededBy, errCol sql.NullString
	var deps, payload, result, execCtx, startedAt, completedAt sql.NullString

	err := s.Scan(&t.ID, &t.WorkflowID, &t.ExecutionID, &t.TemplateName, &t.Type,
		&agentID, &tier, &priority, &deps, &payload, &t.TimeoutSeconds, &t.MaxRetries,
		&status, &t.RetryCount, &t.Epoch, &healedFrom, &supersededBy, &enqueuedAt,
		&startedAt, &completedAt, &result, &errCol, &execCtx)
	if err != nil {
		return nil, err
	}

	t.AgentID = agentID.String
	t.Tier = tier.String
	t.Priority = models.Priority(priority)
	t.Status = models.TaskStatus(status)
	t.HealedFrom = healedFrom.String
	t.SupersededBy = supersededBy.String
	t.Error = errCol.String
	t.EnqueuedAt, _ = parseTime(enqueuedAt)
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	if err := decodeJSON(deps, &t.DependsOn); err != nil {
		return nil, fmt.Errorf("decode task deps: %w", err)
	}
	if err := decodeJSON(payload, &t.Payload); err != nil {
		return nil, fmt.Errorf("decode task payload: %w", err)
	}
	if err := decodeJSON(result, &t.Result); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}
	if err := decodeJSON(execCtx, &t.ExecutionContext); err != nil {
		return nil, fmt.Errorf("decode task execution context: %w", err)
	}
	return &t, nil
}
