package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowgrid/flowgrid/internal/orchestrator"
	"github.com/flowgrid/flowgrid/internal/scheduler"
)

var startWorkDir string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the orchestrator in the foreground",
	Long: `Start the orchestrator and run until interrupted.

The process recovers in-flight tasks from the previous run, then serves the
dispatch, healing, and automation loops. Stop it with Ctrl-C or
'flowgrid stop' from another shell.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	workDir := startWorkDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	o := orchestrator.New(cfg, scheduler.NewShellExecutor(workDir))
	if err := o.Start(context.Background()); err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.Dir)
	if err := writePIDFile(pidPath); err != nil {
		o.Stop()
		return err
	}
	defer os.Remove(pidPath)

	fmt.Printf("flowgrid started (pid %d, storage %s)\n", os.Getpid(), cfg.Storage.Dir)

	// Drain events so the emitter never backs up while running unattended.
	go func() {
		for range o.Events() {
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down...")
	return o.Stop()
}

// pidFilePath returns the pid file location inside the storage directory.
func pidFilePath(storageDir string) string {
	return filepath.Join(storageDir, "flowgrid.pid")
}

func writePIDFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && processAlive(pid) {
			return fmt.Errorf("flowgrid already running (pid %d)", pid)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func init() {
	startCmd.Flags().StringVar(&startWorkDir, "workdir", "", "Working directory for shell tasks (default: current directory)")
}
