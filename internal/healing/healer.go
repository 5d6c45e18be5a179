// Package healing turns terminally failed and stuck tasks into fresh healed
// clones and applies load-shedding mitigations when the task success rate
// degrades. A healed clone gets a new ID, a reset retry budget, and a bumped
// epoch so late results from the superseded attempt are discarded.
package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

// Config contains the healing loop's tunables.
type Config struct {
	// Interval between stuck-task scans and health checks.
	Interval time.Duration
	// SuccessThreshold is the rate below which mitigations kick in.
	SuccessThreshold float64
	// TimeoutRaiseFactor multiplies running task timeouts during mitigation.
	TimeoutRaiseFactor float64
	// TimeoutCap bounds raised timeouts.
	TimeoutCap time.Duration
	// AllowDependencyClear gates the resolve_dependencies strategy.
	AllowDependencyClear bool
}

// Healer heals exhausted and stuck tasks and runs the workflow health check.
type Healer struct {
	store *store.Store
	sched *scheduler.Scheduler
	cfg   Config

	now    func() time.Time
	debugf func(format string, args ...any)
}

// New creates a Healer over the given store and scheduler.
func New(st *store.Store, sched *scheduler.Scheduler, cfg Config) *Healer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 0.70
	}
	if cfg.TimeoutRaiseFactor <= 1 {
		cfg.TimeoutRaiseFactor = 1.5
	}
	if cfg.TimeoutCap <= 0 {
		cfg.TimeoutCap = 600 * time.Second
	}
	return &Healer{
		store:  st,
		sched:  sched,
		cfg:    cfg,
		now:    time.Now,
		debugf: func(string, ...any) {},
	}
}

// SetLogger installs the trace logger.
func (h *Healer) SetLogger(debugf func(format string, args ...any)) {
	h.debugf = debugf
}

// SetClock replaces the healer's clock. For tests.
func (h *Healer) SetClock(now func() time.Time) {
	h.now = now
}

// Run drives periodic stuck-task scans and health checks until ctx is
// cancelled. Exhausted-task healing is event-driven via HandleExhausted.
func (h *Healer) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.HealStuckTasks()
			h.CheckHealth()
		}
	}
}

// HandleExhausted is the scheduler's hook for tasks that failed with no
// retries remaining. Returns true when a healed clone was adopted; false
// hands the failure back to the scheduler for cascade cancellation.
func (h *Healer) HandleExhausted(task *models.Task) bool {
	w, err := h.store.GetWorkflow(task.WorkflowID)
	if err != nil || !w.AutoHeal {
		return false
	}
	// One healing attempt per lineage: a failed clone is not healed again.
	if task.HealedFrom != "" {
		h.debugf("[healing] task %s is already a healed clone; not healing again", task.ID)
		return false
	}

	healed, err := h.HealTask(task)
	if err != nil {
		h.debugf("[healing] heal task %s: %v", task.ID, err)
		return false
	}
	h.debugf("[healing] task %s healed as %s (strategy %s)", task.ID, healed.ID, healed.ExecutionContext[healingContextKey])
	return true
}

// HealTask builds a healed clone of the task, applies the strategy selected
// from its error message, and hands the clone to the scheduler. The clone
// keeps the original's priority and template slot.
func (h *Healer) HealTask(task *models.Task) (*models.Task, error) {
	strategy := SelectStrategy(task.Error)

	healed := task.HealClone()
	healed.ID = uuid.New().String()
	healed.Epoch = task.Epoch + 1
	healed.Status = models.TaskStatusPending
	setContext(healed, healingContextKey, string(strategy))
	strategyApply[strategy](h, healed)

	if err := h.sched.AdoptHealed(healed); err != nil {
		return nil, err
	}
	return healed, nil
}

// HealStuckTasks scans for running tasks past their timeout and heals each
// one, subject to the owning workflow's auto-heal flag. The superseded
// attempt's executor context is cancelled by adoption; any result it still
// produces carries a stale epoch and is discarded.
func (h *Healer) HealStuckTasks() {
	for _, task := range h.store.StuckTasks(h.now()) {
		w, err := h.store.GetWorkflow(task.WorkflowID)
		if err != nil || !w.AutoHeal {
			// The timeout still applies without healing: cancel the attempt.
			h.debugf("[healing] stuck task %s: auto-heal disabled; cancelling", task.ID)
			if err := h.sched.Cancel(task.ID); err != nil {
				h.debugf("[healing] cancel stuck task %s: %v", task.ID, err)
			}
			continue
		}
		if task.HealedFrom != "" {
			// A stuck clone is cancelled rather than healed again.
			h.debugf("[healing] healed clone %s is stuck; cancelling", task.ID)
			if err := h.sched.Cancel(task.ID); err != nil {
				h.debugf("[healing] cancel stuck clone %s: %v", task.ID, err)
			}
			continue
		}
		task.Error = fmt.Sprintf("task timed out after %ds", task.TimeoutSeconds)
		healed, err := h.HealTask(task)
		if err != nil {
			h.debugf("[healing] heal stuck task %s: %v", task.ID, err)
			continue
		}
		h.debugf("[healing] stuck task %s superseded by %s", task.ID, healed.ID)
	}
}

// CheckHealth computes the success rate over completed and running tasks and,
// below the threshold, raises running task timeouts and sheds one concurrency
// slot. Both mitigations are bounded: timeouts cap at TimeoutCap and the
// concurrency cap never drops below the scheduler's floor.
func (h *Healer) CheckHealth() {
	completed, running := h.store.HealthCounts()
	total := completed + running
	if total == 0 {
		return
	}
	rate := float64(completed) / float64(total)
	if rate >= h.cfg.SuccessThreshold {
		return
	}

	raised, err := h.store.RaiseRunningTimeouts(h.cfg.TimeoutRaiseFactor, h.cfg.TimeoutCap)
	if err != nil {
		h.debugf("[healing] raise timeouts: %v", err)
	}
	applied := h.sched.SetCapacity(h.sched.Capacity() - 1)
	h.debugf("[healing] health %.0f%% below %.0f%%: raised %d timeouts, capacity now %d",
		rate*100, h.cfg.SuccessThreshold*100, raised, applied)
}
