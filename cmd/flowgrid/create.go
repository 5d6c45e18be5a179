package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flowgrid/flowgrid/internal/state"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/models"
)

var createCmd = &cobra.Command{
	Use:   "create <workflow.yaml>",
	Short: "Create a workflow from a YAML definition",
	Long: `Validate a workflow definition and store it.

The definition file looks like:

  name: release
  description: Build, test, and deploy
  auto_heal: true
  tasks:
    - name: build
      type: shell
      payload:
        command: make build
    - name: test
      type: shell
      depends_on: [build]
      payload:
        command: make test
      max_retries: 2

Task dependencies refer to sibling task names. Priorities run 1 (critical)
through 5 (background); unset tasks inherit the workflow default.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

// workflowFile is the YAML shape of a workflow definition.
type workflowFile struct {
	Name              string                `yaml:"name"`
	Description       string                `yaml:"description"`
	DefaultPriority   models.Priority       `yaml:"default_priority"`
	AutoHeal          bool                  `yaml:"auto_heal"`
	ParallelExecution bool                  `yaml:"parallel_execution"`
	RollbackOnFailure bool                  `yaml:"rollback_on_failure"`
	Context           map[string]any        `yaml:"context"`
	Tasks             []models.TaskTemplate `yaml:"tasks"`
}

func runCreate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read workflow file: %w", err)
	}

	var def workflowFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("parse workflow file: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := state.OpenStorage(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate storage: %w", err)
	}

	s := store.New(db)
	if err := s.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	id, err := s.CreateWorkflow(store.WorkflowSpec{
		Name:              def.Name,
		Description:       def.Description,
		Templates:         def.Tasks,
		DefaultPriority:   def.DefaultPriority,
		Context:           def.Context,
		AutoHeal:          def.AutoHeal,
		ParallelExecution: def.ParallelExecution,
		RollbackOnFailure: def.RollbackOnFailure,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created workflow %s (%q, %d tasks)\n", id, def.Name, len(def.Tasks))
	fmt.Printf("Run it with: flowgrid execute %s\n", id)
	return nil
}
