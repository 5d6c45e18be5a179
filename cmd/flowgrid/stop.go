package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running orchestrator",
	Long:  `Signal the orchestrator started with 'flowgrid start' to shut down.`,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.Dir)
	data, err := os.ReadFile(pidPath)
	if os.IsNotExist(err) {
		fmt.Println("flowgrid is not running")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pid file %s: %w", pidPath, err)
	}

	if !processAlive(pid) {
		os.Remove(pidPath)
		fmt.Println("flowgrid is not running (removed stale pid file)")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	fmt.Printf("sent SIGTERM to flowgrid (pid %d)\n", pid)
	return nil
}
