package models

import (
	"testing"
	"time"
)

func TestAgentPerformanceRecordSuccess(t *testing.T) {
	perf := &AgentPerformance{AgentID: "agent-1"}
	now := time.Now()

	perf.RecordSuccess(100*time.Millisecond, now)
	if perf.SuccessCount != 1 {
		t.Errorf("expected 1 success, got %d", perf.SuccessCount)
	}
	if perf.AvgExecutionMS != 100 {
		t.Errorf("expected avg 100ms, got %f", perf.AvgExecutionMS)
	}

	perf.RecordSuccess(300*time.Millisecond, now)
	if perf.SuccessCount != 2 {
		t.Errorf("expected 2 successes, got %d", perf.SuccessCount)
	}
	if perf.AvgExecutionMS != 200 {
		t.Errorf("expected avg 200ms, got %f", perf.AvgExecutionMS)
	}
}

func TestAgentPerformanceSuccessRate(t *testing.T) {
	perf := &AgentPerformance{AgentID: "agent-1"}
	if rate := perf.SuccessRate(); rate != 1.0 {
		t.Errorf("expected rate 1.0 with no outcomes, got %f", rate)
	}

	now := time.Now()
	perf.RecordSuccess(10*time.Millisecond, now)
	perf.RecordSuccess(10*time.Millisecond, now)
	perf.RecordFailure(now)

	want := 2.0 / 3.0
	if rate := perf.SuccessRate(); rate < want-0.0001 || rate > want+0.0001 {
		t.Errorf("expected rate %f, got %f", want, rate)
	}
}
