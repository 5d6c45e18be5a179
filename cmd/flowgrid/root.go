package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowgrid/flowgrid/internal/config"
)

var storageDirFlag string

var rootCmd = &cobra.Command{
	Use:   "flowgrid",
	Short: "Autonomous workflow orchestrator",
	Long: `Flowgrid runs workflows of dependent tasks with priority scheduling,
automatic retries, and self-healing for stuck or failing tasks.

Core capabilities:
- Instantiates workflows into dependency-gated task graphs
- Dispatches by priority under a concurrency cap
- Retries transient failures with exponential backoff
- Heals stuck and exhausted tasks by cloning them with an adjusted strategy
- Evaluates automation rules to spawn, reprioritize, and purge work`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the layered configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if storageDirFlag != "" {
		cfg.Storage.Dir = storageDirFlag
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storageDirFlag, "storage", "", "Storage directory (overrides config)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(versionCmd)
}
