// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"sentryvolt/sidecar/shared/logger"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 300 * time.Millisecond

// Watcher re-syncs the config file when it changes on disk, so edits
// take effect without restarting the sidecar.
type Watcher struct {
	manager  *FileManager
	onChange func(cfg *Config)
	log      *logger.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a watcher over the manager's file. onChange runs
// after each successful re-sync; it may be nil.
func NewWatcher(manager *FileManager, onChange func(cfg *Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors replace the file, which drops a
	// watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(manager.path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	return &Watcher{
		manager:  manager,
		onChange: onChange,
		log:      logger.New("config-watcher"),
		fsw:      fsw,
	}, nil
}

// Run blocks until ctx is cancelled, re-syncing on each change.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.manager.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("", "", "Config watcher error", map[string]interface{}{"error": err.Error()})
		case <-fire:
			cfg, err := w.manager.Sync(ctx)
			if err != nil {
				w.log.Errorf("", "", "Failed to re-sync config file", err, nil)
				continue
			}
			w.log.Info("", "", "Config file reloaded", nil)
			if w.onChange != nil {
				w.onChange(cfg)
			}
		}
	}
}
