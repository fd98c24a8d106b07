package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore implements Store on the filesystem. Checkpoints live under
// <baseDir>/units/<unit>/checkpoint.json.
//
// Thread-safety: writes use the temp-file + rename pattern and need no
// locks; distinct units never share a file.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem-backed store rooted at baseDir,
// creating the directory if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// UnitDir returns the directory holding a unit's checkpoint and artifacts.
func (fs *FSStore) UnitDir(unit string) string {
	return filepath.Join(fs.baseDir, "units", unit)
}

func (fs *FSStore) checkpointPath(unit string) string {
	return filepath.Join(fs.UnitDir(unit), "checkpoint.json")
}

// Save atomically persists the checkpoint: serialize to a temp file in the
// unit directory, then rename over the destination.
func (fs *FSStore) Save(checkpoint *Checkpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := checkpoint.Validate(); err != nil {
		return err
	}

	unitDir := fs.UnitDir(checkpoint.Unit)
	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	finalPath := fs.checkpointPath(checkpoint.Unit)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	slog.Debug("Checkpoint saved", "unit", checkpoint.Unit, "iteration", checkpoint.Iteration, "path", finalPath)
	return nil
}

// Load retrieves the checkpoint for a unit.
func (fs *FSStore) Load(unit string) (*Checkpoint, error) {
	if unit == "" {
		return nil, fmt.Errorf("unit cannot be empty")
	}

	path := fs.checkpointPath(unit)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &NotFoundError{Unit: unit}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	slog.Debug("Checkpoint loaded", "unit", unit, "iteration", checkpoint.Iteration)
	return &checkpoint, nil
}

// List returns metadata for all persisted checkpoints.
func (fs *FSStore) List() ([]CheckpointInfo, error) {
	unitsDir := filepath.Join(fs.baseDir, "units")

	if _, err := os.Stat(unitsDir); os.IsNotExist(err) {
		return []CheckpointInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat units directory: %w", err)
	}

	entries, err := os.ReadDir(unitsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read units directory: %w", err)
	}

	var infos []CheckpointInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		unit := entry.Name()
		if _, err := os.Stat(fs.checkpointPath(unit)); os.IsNotExist(err) {
			continue
		}
		checkpoint, err := fs.Load(unit)
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "unit", unit, "error", err)
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}

	return infos, nil
}

// Delete removes a unit's checkpoint directory and everything in it.
func (fs *FSStore) Delete(unit string) error {
	if unit == "" {
		return fmt.Errorf("unit cannot be empty")
	}

	unitDir := fs.UnitDir(unit)
	if _, err := os.Stat(unitDir); os.IsNotExist(err) {
		return &NotFoundError{Unit: unit}
	} else if err != nil {
		return fmt.Errorf("failed to stat unit directory: %w", err)
	}

	if err := os.RemoveAll(unitDir); err != nil {
		return fmt.Errorf("failed to remove unit directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "unit", unit, "path", unitDir)
	return nil
}
