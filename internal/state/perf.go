package state

import (
	"database/sql"
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// UpsertAgentPerformance writes per-agent aggregates, replacing any prior row.
func (db *DB) UpsertAgentPerformance(p *models.AgentPerformance) error {
	_, err := db.Exec(`
		INSERT INTO agent_perf (agent_id, success_count, failure_count, avg_execution_ms, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			avg_execution_ms = excluded.avg_execution_ms,
			updated_at = excluded.updated_at
	`, p.AgentID, p.SuccessCount, p.FailureCount, p.AvgExecutionMS, formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert agent performance: %w", err)
	}
	return nil
}

// GetAgentPerformance retrieves aggregates for one agent. Returns nil if the
// agent has no recorded outcomes.
func (db *DB) GetAgentPerformance(agentID string) (*models.AgentPerformance, error) {
	row := db.QueryRow(`
		SELECT agent_id, success_count, failure_count, avg_execution_ms, updated_at
		FROM agent_perf WHERE agent_id = ?
	`, agentID)

	var p models.AgentPerformance
	var updatedAt string
	err := row.Scan(&p.AgentID, &p.SuccessCount, &p.FailureCount, &p.AvgExecutionMS, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent performance: %w", err)
	}
	p.UpdatedAt, _ = parseTime(updatedAt)
	return &p, nil
}

// ListAgentPerformance returns aggregates for every known agent.
func (db *DB) ListAgentPerformance() ([]*models.AgentPerformance, error) {
	rows, err := db.Query(`
		SELECT agent_id, success_count, failure_count, avg_execution_ms, updated_at
		FROM agent_perf ORDER BY agent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list agent performance: %w", err)
	}
	defer rows.Close()

	var perfs []*models.AgentPerformance
	for rows.Next() {
		var p models.AgentPerformance
		var updatedAt string
		if err := rows.Scan(&p.AgentID, &p.SuccessCount, &p.FailureCount, &p.AvgExecutionMS, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan agent performance: %w", err)
		}
		p.UpdatedAt, _ = parseTime(updatedAt)
		perfs = append(perfs, &p)
	}
	return perfs, rows.Err()
}
