// Package config handles configuration loading and management for flowgrid.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for flowgrid.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Healing    HealingConfig    `mapstructure:"healing"`
	Automation AutomationConfig `mapstructure:"automation"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Dir is the directory holding the sqlite database and logs.
	Dir string `mapstructure:"dir"`
	// TaskRetention is how long completed tasks are kept before purge.
	TaskRetention time.Duration `mapstructure:"task_retention"`
	// ExecutionRetention is how long terminal executions are kept.
	ExecutionRetention time.Duration `mapstructure:"execution_retention"`
}

// SchedulerConfig holds dispatch settings.
type SchedulerConfig struct {
	// MaxConcurrentTasks caps the number of tasks running at once.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	// MinConcurrentTasks is the floor health mitigation may shrink to.
	MinConcurrentTasks int `mapstructure:"min_concurrent_tasks"`
	// PollInterval is the fallback dispatch tick.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// RetryBaseDelay is the retry backoff unit.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// HealingConfig holds healing loop settings.
type HealingConfig struct {
	// Interval between stuck-task scans and health checks.
	Interval time.Duration `mapstructure:"interval"`
	// SuccessThreshold is the rate below which mitigations kick in.
	SuccessThreshold float64 `mapstructure:"success_threshold"`
	// TimeoutRaiseFactor multiplies running task timeouts during mitigation.
	TimeoutRaiseFactor float64 `mapstructure:"timeout_raise_factor"`
	// TimeoutCap bounds raised timeouts.
	TimeoutCap time.Duration `mapstructure:"timeout_cap"`
	// AllowDependencyClear gates the resolve_dependencies healing strategy,
	// which lets a healed clone run before its prerequisites. Off by default.
	AllowDependencyClear bool `mapstructure:"allow_dependency_clear"`
}

// AutomationConfig holds rule engine settings.
type AutomationConfig struct {
	// RulesFile is the YAML rules file, watched for changes when set.
	RulesFile string `mapstructure:"rules_file"`
	// Interval between rule evaluation passes.
	Interval time.Duration `mapstructure:"interval"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FLOWGRID_*)
// 2. Project config (.flowgrid.yaml in current directory or parent)
// 3. User config (~/.config/flowgrid/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("")

	v.BindEnv("storage.dir", "FLOWGRID_STORAGE_DIR")
	v.BindEnv("scheduler.max_concurrent_tasks", "FLOWGRID_MAX_CONCURRENT_TASKS")
	v.BindEnv("healing.allow_dependency_clear", "FLOWGRID_ALLOW_DEPENDENCY_CLEAR")
	v.BindEnv("automation.rules_file", "FLOWGRID_RULES_FILE")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Storage.Dir = expandEnv(cfg.Storage.Dir)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Storage.Dir = expandEnv(cfg.Storage.Dir)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.dir", defaultStorageDir())
	v.SetDefault("storage.task_retention", "1h")
	v.SetDefault("storage.execution_retention", "24h")

	v.SetDefault("scheduler.max_concurrent_tasks", 10)
	v.SetDefault("scheduler.min_concurrent_tasks", 5)
	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.retry_base_delay", "1s")

	v.SetDefault("healing.interval", "30s")
	v.SetDefault("healing.success_threshold", 0.70)
	v.SetDefault("healing.timeout_raise_factor", 1.5)
	v.SetDefault("healing.timeout_cap", "600s")
	v.SetDefault("healing.allow_dependency_clear", false)

	v.SetDefault("automation.rules_file", "")
	// Rules are evaluated on the dispatch cadence so metric-threshold
	// conditions react as fast as the scheduler does.
	v.SetDefault("automation.interval", "1s")
}

// getUserConfigDir returns the XDG config directory for flowgrid.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "flowgrid")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "flowgrid")
	}
	return filepath.Join(home, ".config", "flowgrid")
}

// defaultStorageDir returns the XDG data directory for flowgrid.
func defaultStorageDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "flowgrid")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "flowgrid")
	}
	return filepath.Join(home, ".local", "share", "flowgrid")
}

// findProjectConfig searches for .flowgrid.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".flowgrid.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir:                defaultStorageDir(),
			TaskRetention:      time.Hour,
			ExecutionRetention: 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentTasks: 10,
			MinConcurrentTasks: 5,
			PollInterval:       time.Second,
			RetryBaseDelay:     time.Second,
		},
		Healing: HealingConfig{
			Interval:           30 * time.Second,
			SuccessThreshold:   0.70,
			TimeoutRaiseFactor: 1.5,
			TimeoutCap:         600 * time.Second,
		},
		Automation: AutomationConfig{
			Interval: time.Second,
		},
	}
}
