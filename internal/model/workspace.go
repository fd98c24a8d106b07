package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ParamsFile is the name of the materialized parameter file inside a run
// directory. The model driver contract is that the executable reads its
// candidate parameter values from this file.
const ParamsFile = "parameters.json"

// NewRunDir creates a fresh isolated run directory for one model
// invocation. Directories are never reused across iterations or units, so
// concurrent invocations cannot share filesystem state.
func NewRunDir(workdir, unit string, iteration int) (string, error) {
	name := fmt.Sprintf("%s_%04d_%s", unit, iteration, uuid.NewString()[:8])
	dir := filepath.Join(workdir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// Materialize writes the candidate parameter values into the run
// directory as parameters.json.
func Materialize(runDir string, params map[string]float64) error {
	return WriteParams(filepath.Join(runDir, ParamsFile), params)
}

// WriteParams serializes a named parameter snapshot to a JSON file.
func WriteParams(path string, params map[string]float64) error {
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize parameters: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write parameter file: %w", err)
	}
	return nil
}

// ReadParams loads a materialized parameter file, used by the best-parameter
// export and by tests.
func ReadParams(runDir string) (map[string]float64, error) {
	data, err := os.ReadFile(filepath.Join(runDir, ParamsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}
	var params map[string]float64
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file: %w", err)
	}
	return params, nil
}
