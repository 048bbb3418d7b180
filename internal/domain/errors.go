package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when no record matches.
var ErrNotFound = errors.New("not found")

// ValidationError reports a missing required field on a mutating call.
// It is raised before any side effect happens.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// GenerationError reports malformed or incomplete output from the drafting
// service. Reason is "invalid_format" or "missing_field" (with Field set).
type GenerationError struct {
	Reason string
	Field  string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("draft generation: %s: %s", e.Reason, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("draft generation: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("draft generation: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ConflictError is returned when a push targets an already-pushed template.
// TrackerKey carries the key of the issue that already exists, so the caller
// can surface it without attempting the external push again.
type ConflictError struct {
	TrackerKey string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("template already pushed as %s", e.TrackerKey)
}

// StorageError wraps a media-store write or read failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("media storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
