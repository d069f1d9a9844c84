// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, model string) {
	t.Helper()
	content := "[chat]\nmodel = \"" + model + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfigFile(t, path, "before")

	reloaded := make(chan *Config, 8)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watch loop a moment to come up before editing
	time.Sleep(50 * time.Millisecond)
	writeConfigFile(t, path, "after")

	select {
	case cfg := <-reloaded:
		if cfg.Chat.Model != "after" {
			t.Errorf("reloaded model = %q, want %q", cfg.Chat.Model, "after")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherIgnoresInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfigFile(t, path, "good")

	var calls atomic.Int32
	w, err := NewWatcher(path, func(*Config) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[endpoint]\nbase_url = \"ftp://nope\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(3 * debounceDelay)
	if n := calls.Load(); n != 0 {
		t.Errorf("onChange fired %d times for an invalid edit, want 0", n)
	}
}

func TestWatcherStopsPendingReloadOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfigFile(t, path, "initial")

	var calls atomic.Int32
	w, err := NewWatcher(path, func(*Config) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// Land an edit inside the debounce window, then shut down before the
	// timer fires
	time.Sleep(50 * time.Millisecond)
	writeConfigFile(t, path, "edited")
	time.Sleep(debounceDelay / 4)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	time.Sleep(3 * debounceDelay)
	if n := calls.Load(); n != 0 {
		t.Errorf("reload fired %d times after shutdown, want 0", n)
	}
}
