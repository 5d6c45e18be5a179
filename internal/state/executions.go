package state

import (
	"database/sql"
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// CreateExecution persists a new workflow execution.
func (db *DB) CreateExecution(e *models.WorkflowExecution) error {
	args, err := executionArgs(e)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO executions (id, workflow_id, status, current_tasks, completed_tasks,
			failed_tasks, results, error, context, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// UpdateExecution rewrites an execution's mutable fields.
func (db *DB) UpdateExecution(e *models.WorkflowExecution) error {
	args, err := executionArgs(e)
	if err != nil {
		return err
	}
	// Reorder: UPDATE takes id last.
	update := append(args[2:], args[0])
	_, err = db.Exec(`
		UPDATE executions SET status = ?, current_tasks = ?, completed_tasks = ?,
			failed_tasks = ?, results = ?, error = ?, context = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`, update...)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

func executionArgs(e *models.WorkflowExecution) ([]any, error) {
	current, err := encodeJSON(e.CurrentTasks)
	if err != nil {
		return nil, fmt.Errorf("encode current tasks: %w", err)
	}
	completed, err := encodeJSON(e.CompletedTasks)
	if err != nil {
		return nil, fmt.Errorf("encode completed tasks: %w", err)
	}
	failed, err := encodeJSON(e.FailedTasks)
	if err != nil {
		return nil, fmt.Errorf("encode failed tasks: %w", err)
	}
	results, err := encodeJSON(e.Results)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	ctx, err := encodeJSON(e.Context)
	if err != nil {
		return nil, fmt.Errorf("encode execution context: %w", err)
	}
	return []any{
		e.ID, e.WorkflowID, string(e.Status), current, completed, failed,
		results, e.Error, ctx, formatTime(e.StartedAt), formatNullableTime(e.CompletedAt),
	}, nil
}

// GetExecution retrieves an execution by ID. Returns nil if not found.
func (db *DB) GetExecution(id string) (*models.WorkflowExecution, error) {
	row := db.QueryRow(`
		SELECT id, workflow_id, status, current_tasks, completed_tasks, failed_tasks,
			results, error, context, started_at, completed_at
		FROM executions WHERE id = ?
	`, id)

	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns executions, optionally filtered by status.
func (db *DB) ListExecutions(status *models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, status, current_tasks, completed_tasks, failed_tasks,
			results, error, context, started_at, completed_at
		FROM executions`
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY started_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func scanExecution(s scanner) (*models.WorkflowExecution, error) {
	var e models.WorkflowExecution
	var status, startedAt string
	var current, completed, failed, results, ctx, errCol, completedAt sql.NullString

	err := s.Scan(&e.ID, &e.WorkflowID, &status, &current, &completed, &failed,
		&results, &errCol, &ctx, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	e.Status = models.ExecutionStatus(status)
	e.Error = errCol.String
	e.StartedAt, _ = parseTime(startedAt)
	e.CompletedAt = parseNullableTime(completedAt)
	if err := decodeJSON(current, &e.CurrentTasks); err != nil {
		return nil, fmt.Errorf("decode current tasks: %w", err)
	}
	if err := decodeJSON(completed, &e.CompletedTasks); err != nil {
		return nil, fmt.Errorf("decode completed tasks: %w", err)
	}
	if err := decodeJSON(failed, &e.FailedTasks); err != nil {
		return nil, fmt.Errorf("decode failed tasks: %w", err)
	}
	if err := decodeJSON(results, &e.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if err := decodeJSON(ctx, &e.Context); err != nil {
		return nil, fmt.Errorf("decode execution context: %w", err)
	}
	return &e, nil
}
