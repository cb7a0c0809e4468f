// Package checkpoint persists the sweep cursor: the single last-attempted task.
//
// The file holds one line, `entity,year,month` for monthly grids or `entity`
// for whole-history grids. A missing file means a fresh run. Writes go to a
// temporary sibling which is fsynced and renamed over the target, so a reader
// never observes a partial line.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aristath/harvester/internal/domain"
)

// ErrCorrupt is returned by Load when the file exists but cannot be parsed
var ErrCorrupt = errors.New("corrupt checkpoint")

// File is a file-backed checkpoint
type File struct {
	path string
}

// NewFile creates a checkpoint stored at path. The file is not touched until Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the checkpoint file path
func (f *File) Path() string {
	return f.path
}

// Load returns the persisted position, or nil if there is none
func (f *File) Load() (*domain.Position, error) {
	content, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", f.path, err)
	}

	pos, err := domain.DecodePosition(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorrupt, f.path, err)
	}

	return &pos, nil
}

// Save atomically replaces the checkpoint with pos
func (f *File) Save(pos domain.Position) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(pos.Encode() + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	// Persist the rename itself
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

// Clear removes the checkpoint. A missing file is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint %s: %w", f.path, err)
	}
	return nil
}
