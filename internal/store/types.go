package store

import (
	"fmt"
	"time"
)

// SchemaVersion tags the checkpoint layout. Readers reject newer versions.
const SchemaVersion = 1

// RunStatus classifies the outcome of one model run.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
	StatusTimeout RunStatus = "timeout"
)

// IterationRecord is one entry in a unit's optimization trajectory: the
// proposed parameter snapshot, the resulting score, and the run status.
// Records with a non-success status carry no score. Appended once per
// candidate evaluation and never rewritten.
type IterationRecord struct {
	Iteration int                `json:"iteration"`
	Member    int                `json:"member,omitempty"`
	Params    map[string]float64 `json:"params"`
	Score     float64            `json:"score"`
	Status    RunStatus          `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
}

// Checkpoint is the persisted state of one calibration unit: the search
// state of the configured algorithm, the full iteration history, and the
// best parameters found so far. One checkpoint file exists per unit; it is
// replaced atomically after every completed iteration.
type Checkpoint struct {
	Version    int                `json:"version"`
	Unit       string             `json:"unit"`
	Algorithm  string             `json:"algorithm"`
	Scope      string             `json:"scope"`
	Dimensions int                `json:"dimensions"`
	Iteration  int                `json:"iteration"`
	BestParams map[string]float64 `json:"bestParams,omitempty"`
	BestScore  float64            `json:"bestScore"`
	State      []byte             `json:"state,omitempty"`
	History    []IterationRecord  `json:"history"`
	Timestamp  time.Time          `json:"timestamp"`
}

// NewCheckpoint creates an empty checkpoint for a unit at engine start.
func NewCheckpoint(unit, algorithm, scope string, dimensions int) *Checkpoint {
	return &Checkpoint{
		Version:    SchemaVersion,
		Unit:       unit,
		Algorithm:  algorithm,
		Scope:      scope,
		Dimensions: dimensions,
		Timestamp:  time.Now(),
	}
}

// CheckpointInfo is checkpoint metadata without state or history, for
// cheap listing.
type CheckpointInfo struct {
	Unit      string    `json:"unit"`
	Algorithm string    `json:"algorithm"`
	Scope     string    `json:"scope"`
	Iteration int       `json:"iteration"`
	BestScore float64   `json:"bestScore"`
	Records   int       `json:"records"`
	Timestamp time.Time `json:"timestamp"`
}

// ToInfo strips a checkpoint down to its metadata.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		Unit:      c.Unit,
		Algorithm: c.Algorithm,
		Scope:     c.Scope,
		Iteration: c.Iteration,
		BestScore: c.BestScore,
		Records:   len(c.History),
		Timestamp: c.Timestamp,
	}
}

// Validate checks structural invariants before a checkpoint is written.
func (c *Checkpoint) Validate() error {
	if c.Unit == "" {
		return &ValidationError{Field: "Unit", Reason: "cannot be empty"}
	}
	if c.Version <= 0 {
		return &ValidationError{Field: "Version", Reason: "must be positive"}
	}
	if c.Algorithm == "" {
		return &ValidationError{Field: "Algorithm", Reason: "cannot be empty"}
	}
	if c.Dimensions <= 0 {
		return &ValidationError{Field: "Dimensions", Reason: "must be positive"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	return nil
}

// CheckCompatible verifies that this checkpoint was produced by the same
// algorithm, scoping strategy, and parameter dimensionality it is about to
// be resumed with. Any mismatch is an InconsistencyError; callers restart
// the unit from iteration 0 rather than reuse incompatible state.
func (c *Checkpoint) CheckCompatible(algorithm, scope string, dimensions int) error {
	if c.Version > SchemaVersion {
		return &InconsistencyError{Unit: c.Unit, Field: "Version",
			Expected: fmt.Sprintf("%d", SchemaVersion), Actual: fmt.Sprintf("%d", c.Version)}
	}
	if c.Algorithm != algorithm {
		return &InconsistencyError{Unit: c.Unit, Field: "Algorithm", Expected: algorithm, Actual: c.Algorithm}
	}
	if c.Scope != scope {
		return &InconsistencyError{Unit: c.Unit, Field: "Scope", Expected: scope, Actual: c.Scope}
	}
	if c.Dimensions != dimensions {
		return &InconsistencyError{Unit: c.Unit, Field: "Dimensions",
			Expected: fmt.Sprintf("%d", dimensions), Actual: fmt.Sprintf("%d", c.Dimensions)}
	}
	return nil
}

// ValidationError reports a structurally invalid checkpoint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "checkpoint validation error: " + e.Field + " " + e.Reason
}

// InconsistencyError reports a checkpoint that is incompatible with the
// configured algorithm or scoping strategy.
type InconsistencyError struct {
	Unit     string
	Field    string
	Expected string
	Actual   string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("restart inconsistency for unit %s: %s mismatch (expected %s, got %s)",
		e.Unit, e.Field, e.Expected, e.Actual)
}

func (e *InconsistencyError) Is(target error) bool {
	_, ok := target.(*InconsistencyError)
	return ok
}
