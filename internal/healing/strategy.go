package healing

import (
	"strings"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// Strategy identifies a healing strategy applied to a failed task's clone.
type Strategy string

const (
	StrategyIncreaseTimeout       Strategy = "increase_timeout"
	StrategyRetryWithBackoff      Strategy = "retry_with_backoff"
	StrategyEscalatePrivileges    Strategy = "escalate_privileges"
	StrategyAllocateMoreResources Strategy = "allocate_more_resources"
	StrategyFixConfiguration      Strategy = "fix_configuration"
	StrategyResolveDependencies   Strategy = "resolve_dependencies"
	StrategyGenericRetry          Strategy = "generic_retry"
)

// healingContextKey is set on the clone's execution context so executors and
// operators can see which strategy produced it.
const healingContextKey = "healing_strategy"

// strategyRule maps an error substring to the strategy it selects. Rules are
// evaluated in order; the first match wins.
type strategyRule struct {
	substring string
	strategy  Strategy
}

var strategyRules = []strategyRule{
	{"timeout", StrategyIncreaseTimeout},
	{"timed out", StrategyIncreaseTimeout},
	{"permission", StrategyEscalatePrivileges},
	{"access denied", StrategyEscalatePrivileges},
	{"unauthorized", StrategyEscalatePrivileges},
	{"memory", StrategyAllocateMoreResources},
	{"resource", StrategyAllocateMoreResources},
	{"disk", StrategyAllocateMoreResources},
	{"config", StrategyFixConfiguration},
	{"dependency", StrategyResolveDependencies},
	{"connection", StrategyRetryWithBackoff},
	{"unavailable", StrategyRetryWithBackoff},
	{"rate limit", StrategyRetryWithBackoff},
}

// SelectStrategy picks a healing strategy from the task's error message by
// case-insensitive substring match. Unknown errors get a generic retry.
func SelectStrategy(errMsg string) Strategy {
	lower := strings.ToLower(errMsg)
	for _, rule := range strategyRules {
		if strings.Contains(lower, rule.substring) {
			return rule.strategy
		}
	}
	return StrategyGenericRetry
}

// apply mutates the healed clone according to the strategy. Each function is
// pure over the clone; the original task is never touched.
type applyFunc func(h *Healer, t *models.Task)

var strategyApply = map[Strategy]applyFunc{
	StrategyIncreaseTimeout: func(h *Healer, t *models.Task) {
		if t.TimeoutSeconds > 0 {
			t.TimeoutSeconds *= 2
		}
	},
	StrategyRetryWithBackoff: func(h *Healer, t *models.Task) {
		setContext(t, "backoff_hint", true)
	},
	StrategyEscalatePrivileges: func(h *Healer, t *models.Task) {
		setContext(t, "privileges", "elevated")
	},
	StrategyAllocateMoreResources: func(h *Healer, t *models.Task) {
		setContext(t, "resource_tier", "expanded")
	},
	StrategyFixConfiguration: func(h *Healer, t *models.Task) {
		setContext(t, "config_reset", true)
	},
	StrategyResolveDependencies: func(h *Healer, t *models.Task) {
		// Clearing dependencies lets a task run before its prerequisites;
		// it is destructive and must be enabled explicitly.
		if !h.cfg.AllowDependencyClear {
			h.debugf("[healing] dependency clear disabled; falling back to generic retry for task %s", t.ID)
			setContext(t, healingContextKey, string(StrategyGenericRetry))
			return
		}
		h.debugf("[healing] clearing %d dependencies of task %s (allow_dependency_clear enabled)", len(t.DependsOn), t.ID)
		t.DependsOn = nil
	},
	StrategyGenericRetry: func(h *Healer, t *models.Task) {},
}

func setContext(t *models.Task, key string, value any) {
	if t.ExecutionContext == nil {
		t.ExecutionContext = make(map[string]any)
	}
	t.ExecutionContext[key] = value
}
