package scheduler

// dependencyGate parks tasks until every runtime dependency has completed.
// It is event-driven: instead of rescanning all waiting tasks each tick, the
// gate indexes waiting tasks by each unmet dependency ID and releases them as
// completion events arrive. Not safe for concurrent use; the scheduler
// serializes access under its mutex.
type dependencyGate struct {
	// remaining maps a waiting task ID to its unmet dependency IDs.
	remaining map[string]map[string]struct{}
	// waiters maps a dependency ID to the waiting task IDs blocked on it.
	waiters map[string]map[string]struct{}
}

func newDependencyGate() *dependencyGate {
	return &dependencyGate{
		remaining: make(map[string]map[string]struct{}),
		waiters:   make(map[string]map[string]struct{}),
	}
}

// Register parks a task behind the given unmet dependency IDs. A task with no
// unmet dependencies is not registered; the caller should enqueue it directly.
func (g *dependencyGate) Register(taskID string, unmetDeps []string) {
	if len(unmetDeps) == 0 {
		return
	}
	deps := make(map[string]struct{}, len(unmetDeps))
	for _, dep := range unmetDeps {
		deps[dep] = struct{}{}
		if g.waiters[dep] == nil {
			g.waiters[dep] = make(map[string]struct{})
		}
		g.waiters[dep][taskID] = struct{}{}
	}
	g.remaining[taskID] = deps
}

// Completed records that the given task completed and returns the IDs of
// tasks whose dependency sets are now fully met, removing them from the gate.
func (g *dependencyGate) Completed(depID string) []string {
	var released []string
	for taskID := range g.waiters[depID] {
		deps := g.remaining[taskID]
		delete(deps, depID)
		if len(deps) == 0 {
			delete(g.remaining, taskID)
			released = append(released, taskID)
		}
	}
	delete(g.waiters, depID)
	return released
}

// Dependents returns the IDs of tasks still parked behind the given
// dependency. Used to cascade cancellation when a dependency fails terminally.
func (g *dependencyGate) Dependents(depID string) []string {
	out := make([]string, 0, len(g.waiters[depID]))
	for taskID := range g.waiters[depID] {
		out = append(out, taskID)
	}
	return out
}

// Drop removes a parked task from the gate entirely, for cancellation.
func (g *dependencyGate) Drop(taskID string) {
	deps, ok := g.remaining[taskID]
	if !ok {
		return
	}
	for dep := range deps {
		delete(g.waiters[dep], taskID)
		if len(g.waiters[dep]) == 0 {
			delete(g.waiters, dep)
		}
	}
	delete(g.remaining, taskID)
}

// Rebind redirects every wait on oldDep to newDep. Used when a healed clone
// takes over a superseded task's slot: dependents of the original now wait on
// the clone.
func (g *dependencyGate) Rebind(oldDep, newDep string) {
	waiting, ok := g.waiters[oldDep]
	if !ok {
		return
	}
	delete(g.waiters, oldDep)
	if g.waiters[newDep] == nil {
		g.waiters[newDep] = make(map[string]struct{})
	}
	for taskID := range waiting {
		g.waiters[newDep][taskID] = struct{}{}
		deps := g.remaining[taskID]
		delete(deps, oldDep)
		deps[newDep] = struct{}{}
	}
}

// Waiting returns the number of parked tasks.
func (g *dependencyGate) Waiting() int { return len(g.remaining) }
