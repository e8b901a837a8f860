package stats

// ============================================================================
// Run Summary
// Purpose: the structured document written once at the end of a run
// 1. Pretty JSON on the diagnostic stream when no path is configured
// 2. YAML for .yaml/.yml paths, pretty JSON otherwise
// 3. Files are written atomically (temp file + fsync + rename)
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// ErrCorruptedSummary indicates a summary file that cannot be decoded
var ErrCorruptedSummary = errors.New("summary file is corrupted")

// Runtime is the end-of-run statistics record.
type Runtime struct {
	ElapsedTotalSec         float64 `json:"elapsed_total_sec" yaml:"elapsed_total_sec"`
	ElapsedInitSec          float64 `json:"elapsed_init_sec" yaml:"elapsed_init_sec"`
	ElapsedMapSec           float64 `json:"elapsed_map_sec" yaml:"elapsed_map_sec"`
	TotalRecords            uint64  `json:"total_records" yaml:"total_records"`
	ThroughputRecordsPerSec float64 `json:"throughput_records_per_sec" yaml:"throughput_records_per_sec"`
}

// NewRuntime builds the summary from the run timestamps. ready is when the
// index became ready; mapping runs from ready to end.
func NewRuntime(start, ready, end time.Time, records uint64) Runtime {
	mapSec := end.Sub(ready).Seconds()
	return Runtime{
		ElapsedTotalSec:         end.Sub(start).Seconds(),
		ElapsedInitSec:          ready.Sub(start).Seconds(),
		ElapsedMapSec:           mapSec,
		TotalRecords:            records,
		ThroughputRecordsPerSec: Throughput(records, mapSec),
	}
}

// Throughput returns records per second, 0 when either side is zero.
func Throughput(records uint64, seconds float64) float64 {
	if records == 0 || seconds <= 0 {
		return 0
	}
	return float64(records) / seconds
}

// Writer emits a Runtime to a file or to a stream.
type Writer struct {
	path   string    // empty selects stream
	stream io.Writer // diagnostic stream, usually stderr
}

// NewWriter returns a summary writer. An empty path writes to stream.
func NewWriter(path string, stream io.Writer) *Writer {
	return &Writer{path: path, stream: stream}
}

// Write renders rt and writes it in one piece.
func (w *Writer) Write(rt Runtime) error {
	data, err := encode(w.path, rt)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	if w.path == "" {
		if _, err := w.stream.Write(data); err != nil {
			return &types.IOError{Op: "summary", Cause: err}
		}
		if f, ok := w.stream.(interface{ Sync() error }); ok {
			_ = f.Sync()
		}
		return nil
	}

	if err := writeAtomic(w.path, data); err != nil {
		return &types.IOError{Op: "summary", Path: w.path, Cause: err}
	}
	return nil
}

// Path returns the destination file, empty for the stream.
func (w *Writer) Path() string { return w.path }

// Load reads a summary file written by Write.
func Load(path string) (Runtime, error) {
	var rt Runtime
	data, err := os.ReadFile(path)
	if err != nil {
		return rt, fmt.Errorf("failed to read summary: %w", err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &rt)
	} else {
		err = json.Unmarshal(data, &rt)
	}
	if err != nil {
		return rt, fmt.Errorf("%w: %v", ErrCorruptedSummary, err)
	}
	return rt, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func encode(path string, rt Runtime) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(rt)
	}
	data, err := json.MarshalIndent(rt, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
