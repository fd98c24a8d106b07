package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceEntry is one line of a unit's trajectory trace: the best score seen
// after each completed iteration. The trace duplicates information held in
// the checkpoint history but is append-only JSONL, so external tooling can
// tail it while a calibration is running.
type TraceEntry struct {
	Iteration int                `json:"iteration"`
	BestScore float64            `json:"bestScore"`
	Params    map[string]float64 `json:"params,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// TraceWriter appends trace entries to <unitDir>/trace.jsonl. Safe for
// concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewTraceWriter opens (or creates) the trace file for a unit, appending
// to any existing content so a resumed run continues the same trace.
func NewTraceWriter(unitDir string) (*TraceWriter, error) {
	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create unit directory: %w", err)
	}
	path := filepath.Join(unitDir, "trace.jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &TraceWriter{file: file, writer: bufio.NewWriter(file)}, nil
}

// Write appends one entry as a JSON line.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write trace newline: %w", err)
	}
	return tw.writer.Flush()
}

// Close flushes buffered entries and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return err
	}
	return tw.file.Close()
}
