package types

// ============================================================================
// Fatal pipeline errors
// Purpose: the three error kinds that abort a mapping run
// ============================================================================

import (
	"errors"
	"fmt"
)

// Predefined errors, matched with errors.Is
var (
	// ErrDecode indicates an input record whose internal encoding is invalid
	ErrDecode = errors.New("decode error")

	// ErrAlign indicates the alignment engine rejected or failed on a sequence
	ErrAlign = errors.New("alignment error")

	// ErrIO indicates the output destination or statistics log could not be written
	ErrIO = errors.New("io error")
)

// DecodeError reports a malformed input record.
type DecodeError struct {
	Index uint64 // record index within the input
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: record %d: %v", e.Index, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrDecode) hold for any *DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// AlignError reports an engine failure. Message is the engine's text, verbatim.
type AlignError struct {
	Query   string
	Message string
	Cause   error
}

func (e *AlignError) Error() string {
	return fmt.Sprintf("error mapping record %s: %s", e.Query, e.Message)
}

func (e *AlignError) Unwrap() error { return e.Cause }

func (e *AlignError) Is(target error) bool { return target == ErrAlign }

// IOError reports a failure to create, open or write an output destination.
type IOError struct {
	Op    string // "initialize", "append", "summary", ...
	Path  string // empty for standard streams
	Cause error
}

func (e *IOError) Error() string {
	dest := e.Path
	if dest == "" {
		dest = "<stream>"
	}
	return fmt.Sprintf("io error: %s %s: %v", e.Op, dest, e.Cause)
}

func (e *IOError) Unwrap() error { return e.Cause }

func (e *IOError) Is(target error) bool { return target == ErrIO }
