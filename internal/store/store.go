// Package store persists calibration unit checkpoints: search state,
// iteration history, and best parameters, one file per unit, replaced
// atomically after every completed iteration.
package store

// Store defines checkpoint persistence operations. Implementations must be
// safe for concurrent use by independent units.
//
// Error handling conventions:
//   - Return nil on success
//   - Return ErrNotFound if a checkpoint doesn't exist (Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// Save atomically persists a checkpoint for its unit, overwriting any
	// previous one. Implementations must use atomic write strategies
	// (temp file + rename) so a crash mid-write never corrupts the
	// previous valid checkpoint.
	Save(checkpoint *Checkpoint) error

	// Load retrieves the checkpoint for a unit.
	// Returns ErrNotFound if none exists.
	Load(unit string) (*Checkpoint, error)

	// List returns metadata for all available checkpoints. The returned
	// slice may be empty.
	List() ([]CheckpointInfo, error)

	// Delete removes a unit's checkpoint and associated artifacts.
	// Returns ErrNotFound if none exists.
	Delete(unit string) error
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint.
type NotFoundError struct {
	Unit string
}

func (e *NotFoundError) Error() string {
	if e.Unit != "" {
		return "checkpoint not found: " + e.Unit
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
