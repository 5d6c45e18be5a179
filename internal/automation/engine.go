// Package automation evaluates declarative rules against the orchestrator's
// state and performs their actions: spawning workflows, reprioritizing tasks,
// purging old records, and emitting notifications. Rules are stateless and
// re-evaluated every cycle; interval rules track their last firing so a
// cadence fires at most once per period.
package automation

import (
	"context"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

// Engine evaluates automation rules on a fixed cadence.
type Engine struct {
	store   *store.Store
	sched   *scheduler.Scheduler
	metrics MetricProvider

	mu sync.Mutex
	// rules is the active rule set, replaced wholesale on reload.
	rules []models.AutomationRule
	// lastFired tracks interval rule firings by rule ID.
	lastFired map[string]time.Time

	retention models.RetentionPolicy
	notify    func(message string)
	now       func() time.Time
	debugf    func(format string, args ...any)
}

// NewEngine creates an automation engine over the store and scheduler.
func NewEngine(st *store.Store, sched *scheduler.Scheduler, metrics MetricProvider) *Engine {
	return &Engine{
		store:     st,
		sched:     sched,
		metrics:   metrics,
		lastFired: make(map[string]time.Time),
		retention: models.DefaultRetention(),
		notify:    func(string) {},
		now:       time.Now,
		debugf:    func(string, ...any) {},
	}
}

// SetRules replaces the active rule set. Rules with invalid condition or
// action types are dropped with a log line rather than failing the reload.
func (e *Engine) SetRules(rules []models.AutomationRule) {
	valid := make([]models.AutomationRule, 0, len(rules))
	for _, r := range rules {
		if !r.Condition.Type.Valid() || !r.Action.Type.Valid() {
			e.debugf("[automation] dropping rule %q: unknown condition or action type", r.Name)
			continue
		}
		valid = append(valid, r)
	}
	e.mu.Lock()
	e.rules = valid
	e.mu.Unlock()
	e.debugf("[automation] loaded %d rules", len(valid))
}

// Rules returns a copy of the active rule set.
func (e *Engine) Rules() []models.AutomationRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.AutomationRule(nil), e.rules...)
}

// SetRetention overrides the purge retention windows.
func (e *Engine) SetRetention(r models.RetentionPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retention = r
}

// SetNotifier installs the notify action sink.
func (e *Engine) SetNotifier(fn func(message string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify = fn
}

// SetLogger installs the trace logger.
func (e *Engine) SetLogger(debugf func(format string, args ...any)) {
	e.debugf = debugf
}

// SetClock replaces the engine's clock. For tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run evaluates the rule set on the given cadence until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate()
		}
	}
}

// Evaluate runs one pass over the rule set, performing the action of every
// rule whose condition holds.
func (e *Engine) Evaluate() {
	for _, rule := range e.Rules() {
		if !rule.Enabled {
			continue
		}
		if !e.conditionMet(rule) {
			continue
		}
		e.debugf("[automation] rule %q fired", rule.Name)
		e.perform(rule)
	}
}

func (e *Engine) conditionMet(rule models.AutomationRule) bool {
	cond := rule.Condition
	switch cond.Type {
	case models.ConditionInterval:
		return e.intervalDue(rule.ID, cond.Every)
	case models.ConditionMetricThreshold:
		value, ok := e.metrics.Gauge(cond.Metric)
		if !ok {
			e.debugf("[automation] rule %q references unknown metric %q", rule.Name, cond.Metric)
			return false
		}
		return cond.Op.Compare(value, cond.Threshold)
	case models.ConditionTaskState:
		matching := e.store.TasksByStatus(cond.TaskStatus)
		min := cond.MinCount
		if min <= 0 {
			min = 1
		}
		return len(matching) >= min
	default:
		return false
	}
}

// intervalDue reports whether the cadence period has elapsed since the rule
// last fired, and records the firing when due.
func (e *Engine) intervalDue(ruleID, every string) bool {
	var period time.Duration
	switch every {
	case "hourly":
		period = time.Hour
	case "daily":
		period = 24 * time.Hour
	default:
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	last, ok := e.lastFired[ruleID]
	if ok && now.Sub(last) < period {
		return false
	}
	e.lastFired[ruleID] = now
	return true
}

func (e *Engine) perform(rule models.AutomationRule) {
	action := rule.Action
	switch action.Type {
	case models.ActionSpawnWorkflow:
		exec, tasks, err := e.store.ExecuteWorkflow(action.WorkflowID, nil)
		if err != nil {
			e.debugf("[automation] rule %q spawn workflow %s: %v", rule.Name, action.WorkflowID, err)
			return
		}
		e.sched.Admit(tasks)
		e.debugf("[automation] rule %q spawned execution %s with %d tasks", rule.Name, exec.ID, len(tasks))

	case models.ActionReprioritize:
		changed, err := e.store.ReprioritizeTasks(action.Filter, action.Priority)
		if err != nil {
			e.debugf("[automation] rule %q reprioritize: %v", rule.Name, err)
			return
		}
		e.sched.Reprioritize(changed, action.Priority)
		e.debugf("[automation] rule %q reprioritized %d tasks to %s", rule.Name, len(changed), action.Priority)

	case models.ActionPurge:
		e.mu.Lock()
		retention := e.retention
		e.mu.Unlock()
		tasks, executions, err := e.store.Purge(retention)
		if err != nil {
			e.debugf("[automation] rule %q purge: %v", rule.Name, err)
			return
		}
		e.debugf("[automation] rule %q purged %d tasks, %d executions", rule.Name, tasks, executions)

	case models.ActionNotify:
		e.mu.Lock()
		notify := e.notify
		e.mu.Unlock()
		notify(action.Message)
	}
}
