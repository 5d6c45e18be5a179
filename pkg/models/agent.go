package models

import "time"

// AgentPerformance aggregates execution outcomes per target agent.
// The scheduler updates it after every terminal task transition.
type AgentPerformance struct {
	// AgentID is the agent these aggregates describe.
	AgentID string `json:"agent_id"`
	// SuccessCount is the number of tasks the agent completed successfully.
	SuccessCount int `json:"success_count"`
	// FailureCount is the number of tasks that failed terminally on the agent.
	FailureCount int `json:"failure_count"`
	// AvgExecutionMS is the rolling average execution time of successful tasks.
	AvgExecutionMS float64 `json:"avg_execution_ms"`
	// UpdatedAt is when the aggregates were last recomputed.
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordSuccess folds one successful execution into the rolling average.
func (a *AgentPerformance) RecordSuccess(elapsed time.Duration, now time.Time) {
	ms := float64(elapsed.Milliseconds())
	if a.SuccessCount == 0 {
		a.AvgExecutionMS = ms
	} else {
		a.AvgExecutionMS += (ms - a.AvgExecutionMS) / float64(a.SuccessCount+1)
	}
	a.SuccessCount++
	a.UpdatedAt = now
}

// RecordFailure counts one terminal failure.
func (a *AgentPerformance) RecordFailure(now time.Time) {
	a.FailureCount++
	a.UpdatedAt = now
}

// SuccessRate returns the fraction of terminal outcomes that succeeded.
// Returns 1.0 when the agent has no recorded outcomes.
func (a *AgentPerformance) SuccessRate() float64 {
	total := a.SuccessCount + a.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(a.SuccessCount) / float64(total)
}
