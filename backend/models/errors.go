package models

import "errors"

// Error categories shared across the engine. Storage and engine operations
// wrap these so that callers can classify failures with errors.Is.
var (
	// ErrNotFound indicates a habit, streak or user id that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a record with a malformed interval or category,
	// or otherwise invalid input. Such records are rejected, not persisted.
	ErrValidation = errors.New("validation failed")

	// ErrStore indicates a network or permission failure from the persistence
	// layer. Surfaced to the caller; retrying is the caller's decision.
	ErrStore = errors.New("store failure")

	// ErrEncoding indicates a serialization failure before a write. The write
	// is aborted.
	ErrEncoding = errors.New("encoding failure")
)
