package state

import (
	"database/sql"
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// CreateWorkflow persists a workflow and its templates in one transaction.
func (db *DB) CreateWorkflow(w *models.Workflow) error {
	ctxJSON, err := encodeJSON(w.Context)
	if err != nil {
		return fmt.Errorf("encode workflow context: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO workflows (id, name, description, default_priority, auto_heal,
				parallel_execution, rollback_on_failure, context, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, w.ID, w.Name, w.Description, int(w.DefaultPriority), boolToInt(w.AutoHeal),
			boolToInt(w.ParallelExecution), boolToInt(w.RollbackOnFailure), ctxJSON, formatTime(w.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}

		for i, tpl := range w.Templates {
			depsJSON, err := encodeJSON(tpl.DependsOn)
			if err != nil {
				return fmt.Errorf("encode template deps: %w", err)
			}
			payloadJSON, err := encodeJSON(tpl.Payload)
			if err != nil {
				return fmt.Errorf("encode template payload: %w", err)
			}
			_, err = tx.Exec(`
				INSERT INTO workflow_templates (workflow_id, position, name, type, agent_id,
					tier, priority, depends_on, payload, timeout_seconds, max_retries)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, w.ID, i, tpl.Name, tpl.Type, tpl.AgentID, tpl.Tier, int(tpl.Priority),
				depsJSON, payloadJSON, tpl.TimeoutSeconds, tpl.MaxRetries)
			if err != nil {
				return fmt.Errorf("insert template %s: %w", tpl.Name, err)
			}
		}
		return nil
	})
}

// GetWorkflow retrieves a workflow and its templates by ID.
// Returns nil if the workflow does not exist.
func (db *DB) GetWorkflow(id string) (*models.Workflow, error) {
	row := db.QueryRow(`
		SELECT id, name, description, default_priority, auto_heal, parallel_execution,
			rollback_on_failure, context, created_at
		FROM workflows WHERE id = ?
	`, id)

	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	templates, err := db.listTemplates(id)
	if err != nil {
		return nil, err
	}
	w.Templates = templates
	return w, nil
}

// ListWorkflows returns all stored workflows with their templates.
func (db *DB) ListWorkflows() ([]*models.Workflow, error) {
	rows, err := db.Query(`
		SELECT id, name, description, default_priority, auto_heal, parallel_execution,
			rollback_on_failure, context, created_at
		FROM workflows ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	for _, w := range workflows {
		templates, err := db.listTemplates(w.ID)
		if err != nil {
			return nil, err
		}
		w.Templates = templates
	}
	return workflows, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(s scanner) (*models.Workflow, error) {
	var w models.Workflow
	var priority, autoHeal, parallel, rollback int
	var description, createdAt string
	var ctxCol sql.NullString

	err := s.Scan(&w.ID, &w.Name, &description, &priority, &autoHeal, &parallel,
		&rollback, &ctxCol, &createdAt)
	if err != nil {
		return nil, err
	}

	w.Description = description
	w.DefaultPriority = models.Priority(priority)
	w.AutoHeal = autoHeal != 0
	w.ParallelExecution = parallel != 0
	w.RollbackOnFailure = rollback != 0
	w.CreatedAt, _ = parseTime(createdAt)
	if err := decodeJSON(ctxCol, &w.Context); err != nil {
		return nil, fmt.Errorf("decode workflow context: %w", err)
	}
	return &w, nil
}

func (db *DB) listTemplates(workflowID string) ([]models.TaskTemplate, error) {
	rows, err := db.Query(`
		SELECT name, type, agent_id, tier, priority, depends_on, payload,
			timeout_seconds, max_retries
		FROM workflow_templates WHERE workflow_id = ? ORDER BY position
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []models.TaskTemplate
	for rows.Next() {
		var tpl models.TaskTemplate
		var priority int
		var agentID, tier sql.NullString
		var depsCol, payloadCol sql.NullString

		err := rows.Scan(&tpl.Name, &tpl.Type, &agentID, &tier, &priority,
			&depsCol, &payloadCol, &tpl.TimeoutSeconds, &tpl.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}

		tpl.AgentID = agentID.String
		tpl.Tier = tier.String
		tpl.Priority = models.Priority(priority)
		if err := decodeJSON(depsCol, &tpl.DependsOn); err != nil {
			return nil, fmt.Errorf("decode template deps: %w", err)
		}
		if err := decodeJSON(payloadCol, &tpl.Payload); err != nil {
			return nil, fmt.Errorf("decode template payload: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
