package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// Executor runs a single task attempt. Implementations must honor ctx
// cancellation: the scheduler cancels the context when the attempt times out
// or the task is superseded by a healed clone.
type Executor interface {
	Execute(ctx context.Context, task *models.Task) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *models.Task) (map[string]any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task *models.Task) (map[string]any, error) {
	return f(ctx, task)
}

// Simulated payload keys understood by SimulatedExecutor.
const (
	// SimulateError makes the attempt fail with the given message.
	SimulateError = "simulate_error"
	// SimulateFailures makes the first N attempts fail, then succeed.
	SimulateFailures = "simulate_failures"
	// SimulateFailUntilHealed fails every attempt until the task is a healed clone.
	SimulateFailUntilHealed = "simulate_fail_until_healed"
	// SimulateSleepMS delays the attempt by the given number of milliseconds.
	SimulateSleepMS = "simulate_sleep_ms"
)

// SimulatedExecutor is a stand-in executor for demo runs and tests. Failure
// and latency behavior is driven by well-known payload keys, so demo
// workflows can exercise retries and healing without a real agent backend.
type SimulatedExecutor struct {
	// Latency is the base simulated execution time per attempt.
	Latency time.Duration

	attempts attemptCounter
}

// Execute simulates one attempt of the task.
func (e *SimulatedExecutor) Execute(ctx context.Context, task *models.Task) (map[string]any, error) {
	delay := e.Latency
	if ms, ok := asInt(task.Payload[SimulateSleepMS]); ok {
		delay = time.Duration(ms) * time.Millisecond
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if msg, ok := task.Payload[SimulateError].(string); ok && msg != "" {
		return nil, errors.New(msg)
	}
	if b, ok := task.Payload[SimulateFailUntilHealed].(bool); ok && b && task.HealedFrom == "" {
		return nil, errors.New("resource exhausted")
	}
	if n, ok := asInt(task.Payload[SimulateFailures]); ok {
		if attempt := e.attempts.next(task.ID); attempt <= n {
			return nil, fmt.Errorf("simulated failure %d of %d", attempt, n)
		}
	}

	return map[string]any{
		"task":  task.TemplateName,
		"type":  task.Type,
		"epoch": task.Epoch,
	}, nil
}

// attemptCounter counts attempts per task ID, so healed clones (fresh IDs)
// restart the count while retries of the same task continue it.
type attemptCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *attemptCounter) next(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[id]++
	return c.counts[id]
}

// asInt coerces the numeric types JSON and YAML decoders produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
