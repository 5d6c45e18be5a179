package scheduler

import (
	"sort"
	"testing"
)

func TestGateReleasesWhenAllDepsComplete(t *testing.T) {
	g := newDependencyGate()
	g.Register("c", []string{"a", "b"})

	if released := g.Completed("a"); len(released) != 0 {
		t.Errorf("expected no release after first dependency, got %v", released)
	}
	released := g.Completed("b")
	if len(released) != 1 || released[0] != "c" {
		t.Errorf("expected [c] after last dependency, got %v", released)
	}
	if g.Waiting() != 0 {
		t.Errorf("Waiting() = %d, want 0", g.Waiting())
	}
}

func TestGateFanOut(t *testing.T) {
	g := newDependencyGate()
	g.Register("b", []string{"a"})
	g.Register("c", []string{"a"})

	released := g.Completed("a")
	sort.Strings(released)
	if len(released) != 2 || released[0] != "b" || released[1] != "c" {
		t.Errorf("expected [b c], got %v", released)
	}
}

func TestGateDependents(t *testing.T) {
	g := newDependencyGate()
	g.Register("b", []string{"a"})
	g.Register("c", []string{"a", "b"})

	deps := g.Dependents("a")
	sort.Strings(deps)
	if len(deps) != 2 || deps[0] != "b" || deps[1] != "c" {
		t.Errorf("Dependents(a) = %v, want [b c]", deps)
	}
}

func TestGateDrop(t *testing.T) {
	g := newDependencyGate()
	g.Register("b", []string{"a"})
	g.Drop("b")

	if released := g.Completed("a"); len(released) != 0 {
		t.Errorf("expected no release after drop, got %v", released)
	}
	if g.Waiting() != 0 {
		t.Errorf("Waiting() = %d, want 0", g.Waiting())
	}
}

func TestGateRebind(t *testing.T) {
	g := newDependencyGate()
	g.Register("b", []string{"a"})

	g.Rebind("a", "a-healed")

	if released := g.Completed("a"); len(released) != 0 {
		t.Errorf("expected no release on the superseded dependency, got %v", released)
	}
	released := g.Completed("a-healed")
	if len(released) != 1 || released[0] != "b" {
		t.Errorf("expected [b] after healed dependency completes, got %v", released)
	}
}
