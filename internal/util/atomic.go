// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the localface application.
package util

import (
	"os"
	"path/filepath"
)

// =============================================================================
// ATOMIC FILE WRITE
// =============================================================================

// AtomicWriteFile writes data to a file atomically using a temp file + rename.
// RELIABILITY: A crash mid-write leaves either the old file or the new file,
// never a truncated mix of both.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Clean up the temp file on any failure path
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}

	// RELIABILITY: fsync before rename so the data is durable before the
	// name points at it
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}

	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}
