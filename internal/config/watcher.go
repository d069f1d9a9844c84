// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// debounceDelay coalesces the burst of fsnotify events editors produce
// for a single save.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads the configuration when the TOML file changes on disk.
type Watcher struct {
	watcher  *fsnotify.Watcher
	tomlPath string
	onChange func(*Config)
}

// NewWatcher creates a watcher for the given config file. onChange is
// called with the freshly loaded configuration after each valid change;
// invalid edits are ignored and the previous configuration stays active.
func NewWatcher(tomlPath string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		tomlPath: tomlPath,
		onChange: onChange,
	}

	// Watch the directory, not the file: atomic saves replace the inode
	if err := fsw.Add(filepath.Dir(tomlPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Start runs the watch loop until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	var timer *time.Timer
	defer w.watcher.Close()

	// A reload pending at shutdown must not fire after the watcher closes
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.tomlPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: restart the timer on every event in the burst
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, w.reload)

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are not fatal; keep the loop alive
		}
	}
}

// reload loads the changed file and publishes it if valid.
func (w *Watcher) reload() {
	cfg, err := LoadFrom(w.tomlPath, "")
	if err != nil {
		return
	}
	SetGlobal(cfg)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
