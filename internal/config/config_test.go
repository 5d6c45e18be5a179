package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scheduler.MaxConcurrentTasks != 10 {
		t.Errorf("MaxConcurrentTasks = %d, want 10", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Scheduler.MinConcurrentTasks != 5 {
		t.Errorf("MinConcurrentTasks = %d, want 5", cfg.Scheduler.MinConcurrentTasks)
	}
	if cfg.Healing.Interval != 30*time.Second {
		t.Errorf("Healing.Interval = %s, want 30s", cfg.Healing.Interval)
	}
	if cfg.Healing.SuccessThreshold != 0.70 {
		t.Errorf("SuccessThreshold = %f, want 0.70", cfg.Healing.SuccessThreshold)
	}
	if cfg.Healing.TimeoutCap != 600*time.Second {
		t.Errorf("TimeoutCap = %s, want 600s", cfg.Healing.TimeoutCap)
	}
	if cfg.Healing.AllowDependencyClear {
		t.Error("AllowDependencyClear = true, want false by default")
	}
	if cfg.Storage.TaskRetention != time.Hour {
		t.Errorf("TaskRetention = %s, want 1h", cfg.Storage.TaskRetention)
	}
	if cfg.Storage.ExecutionRetention != 24*time.Hour {
		t.Errorf("ExecutionRetention = %s, want 24h", cfg.Storage.ExecutionRetention)
	}
	if cfg.Automation.Interval != cfg.Scheduler.PollInterval {
		t.Errorf("Automation.Interval = %s, want the dispatch cadence %s",
			cfg.Automation.Interval, cfg.Scheduler.PollInterval)
	}
}

func TestLoadFromPath(t *testing.T) {
	content := `storage:
  dir: /tmp/flowgrid-test
  task_retention: 2h
scheduler:
  max_concurrent_tasks: 4
  poll_interval: 250ms
healing:
  allow_dependency_clear: true
  success_threshold: 0.5
automation:
  rules_file: /etc/flowgrid/rules.yaml
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Storage.Dir != "/tmp/flowgrid-test" {
		t.Errorf("Storage.Dir = %q", cfg.Storage.Dir)
	}
	if cfg.Storage.TaskRetention != 2*time.Hour {
		t.Errorf("TaskRetention = %s, want 2h", cfg.Storage.TaskRetention)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 4 {
		t.Errorf("MaxConcurrentTasks = %d, want 4", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Scheduler.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s, want 250ms", cfg.Scheduler.PollInterval)
	}
	if !cfg.Healing.AllowDependencyClear {
		t.Error("AllowDependencyClear = false, want true from file")
	}
	if cfg.Healing.SuccessThreshold != 0.5 {
		t.Errorf("SuccessThreshold = %f, want 0.5", cfg.Healing.SuccessThreshold)
	}
	if cfg.Automation.RulesFile != "/etc/flowgrid/rules.yaml" {
		t.Errorf("RulesFile = %q", cfg.Automation.RulesFile)
	}

	// Values absent from the file keep their defaults.
	if cfg.Scheduler.MinConcurrentTasks != 5 {
		t.Errorf("MinConcurrentTasks = %d, want default 5", cfg.Scheduler.MinConcurrentTasks)
	}
	if cfg.Healing.Interval != 30*time.Second {
		t.Errorf("Healing.Interval = %s, want default 30s", cfg.Healing.Interval)
	}
}

func TestLoadFromPathExpandsEnv(t *testing.T) {
	t.Setenv("FLOWGRID_TEST_BASE", "/srv/data")

	content := "storage:\n  dir: ${FLOWGRID_TEST_BASE}/flowgrid\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Dir != "/srv/data/flowgrid" {
		t.Errorf("Storage.Dir = %q, want expanded path", cfg.Storage.Dir)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
