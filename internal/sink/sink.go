package sink

// ============================================================================
// Shared Output Sink
// Purpose: one output destination shared by every processor. Each Append
// lands as a contiguous block; blocks from different callers never interleave.
// ============================================================================

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// Sink is the append-only destination of rendered rows.
type Sink interface {
	// Append writes p as one uninterrupted block.
	Append(p []byte) error
	// Path returns the destination path, "-" for stdout.
	Path() string
	// Written returns the number of bytes appended so far.
	Written() uint64
	Close() error
}

// Options configures Open.
type Options struct {
	// LockFile takes an advisory lock on "<path>.lock" around every append
	// so several processes may share one output file.
	LockFile bool
}

// Stdout is the path that selects standard output.
const Stdout = "-"

// Open initializes the destination and returns a sink for it. A file is
// created or truncated exactly once here; "" and "-" select stdout.
func Open(path string, opts Options) (Sink, error) {
	if path == "" || path == Stdout {
		return NewStream(os.Stdout), nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, &types.IOError{Op: "initialize", Path: path, Cause: err}
	}
	if err := f.Close(); err != nil {
		return nil, &types.IOError{Op: "initialize", Path: path, Cause: err}
	}

	s := &FileSink{path: path}
	if opts.LockFile {
		s.lock = flock.New(path + ".lock")
	}
	return s, nil
}

// ============================================================================
// File sink
// ============================================================================

// FileSink appends to a regular file. The file is reopened in append mode
// for every block so that the data is on disk once Append returns.
type FileSink struct {
	mu      sync.Mutex // serializes appends within the process
	path    string
	lock    *flock.Flock // nil unless cross-process locking is enabled
	written atomic.Uint64
}

// Append writes p under the sink lock.
func (s *FileSink) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		if err := s.lock.Lock(); err != nil {
			return &types.IOError{Op: "lock", Path: s.lock.Path(), Cause: err}
		}
		defer s.lock.Unlock()
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return &types.IOError{Op: "append", Path: s.path, Cause: err}
	}
	n, err := f.Write(p)
	s.written.Add(uint64(n))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &types.IOError{Op: "append", Path: s.path, Cause: err}
	}
	return nil
}

func (s *FileSink) Path() string    { return s.path }
func (s *FileSink) Written() uint64 { return s.written.Load() }

// Close releases the cross-process lock handle, if any.
func (s *FileSink) Close() error {
	if s.lock != nil {
		return s.lock.Close()
	}
	return nil
}

// ============================================================================
// Stream sink
// ============================================================================

// StreamSink appends to an already open writer such as stdout.
type StreamSink struct {
	mu      sync.Mutex
	w       io.Writer
	written atomic.Uint64
}

// NewStream wraps w.
func NewStream(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

// Append writes p with a single Write call under the sink lock.
func (s *StreamSink) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(p)
	s.written.Add(uint64(n))
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &types.IOError{Op: "append", Path: Stdout, Cause: err}
	}
	return nil
}

func (s *StreamSink) Path() string    { return Stdout }
func (s *StreamSink) Written() uint64 { return s.written.Load() }

// Close flushes the writer when it supports Sync.
func (s *StreamSink) Close() error {
	if f, ok := s.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}
