// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/beacon/lib/codec"
)

// File is a Store backed by a CBOR file. Save writes a temporary file
// in the same directory, fsyncs it, renames it over the old file, and
// fsyncs the directory, so a reader sees either the old settings or
// the new ones, never a mix. File does not lock: one tracker per path.
type File struct {
	path string
}

var _ Store = (*File)(nil)

// NewFile returns a File store at path. The parent directory is
// created on first Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the settings file location.
func (f *File) Path() string { return f.path }

// Load reads the settings. A missing file yields zero Settings.
func (f *File) Load() (Settings, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("settings: reading %s: %w", f.path, err)
	}
	var s Settings
	if err := codec.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: parsing %s: %w", f.path, err)
	}
	return s, nil
}

// Save replaces the settings file atomically. The file is created with
// mode 0600.
func (f *File) Save(s Settings) error {
	data, err := codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encoding: %w", err)
	}
	directory := filepath.Dir(f.path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("settings: creating %s: %w", directory, err)
	}

	temporary, err := os.CreateTemp(directory, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("settings: creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()

	// Write, sync, close, rename. Any failure removes the temporary
	// file and leaves the previous settings in place.
	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("settings: chmod temporary file: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("settings: writing temporary file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("settings: syncing temporary file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("settings: closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, f.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("settings: renaming into place: %w", err)
	}

	// The rename is durable only once the directory entry is synced.
	if parent, err := os.Open(directory); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
