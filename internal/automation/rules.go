package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// rulesFile is the YAML document shape of a rules file.
type rulesFile struct {
	Rules []models.AutomationRule `yaml:"rules"`
}

// LoadRules parses automation rules from a YAML file. Rules without an ID
// get one derived from their position so interval tracking stays stable
// across reloads of the same file.
func LoadRules(path string) ([]models.AutomationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	for i := range doc.Rules {
		if doc.Rules[i].ID == "" {
			doc.Rules[i].ID = fmt.Sprintf("rule-%d", i)
		}
	}
	return doc.Rules, nil
}

// WatchRules loads the rules file into the engine and reloads it whenever it
// changes on disk, until ctx is cancelled. Editors often replace files by
// rename, so the parent directory is watched and events are filtered by name.
// A broken rules file is logged and skipped; the previous rule set stays
// active.
func WatchRules(ctx context.Context, path string, engine *Engine) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	rules, err := LoadRules(abs)
	if err != nil {
		return err
	}
	engine.SetRules(rules)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rules directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		// Debounce bursts of events from a single save.
		var pending *time.Timer
		reload := func() {
			rules, err := LoadRules(abs)
			if err != nil {
				engine.debugf("[automation] reload rules: %v", err)
				return
			}
			engine.SetRules(rules)
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(100*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				engine.debugf("[automation] rules watcher: %v", err)
			}
		}
	}()
	return nil
}
