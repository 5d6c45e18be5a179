package models

import (
	"errors"
	"fmt"
)

// ValidationError indicates a malformed workflow or task template, such as a
// dangling dependency reference or an empty template list. It surfaces
// synchronously to the caller and is never retried.
type ValidationError struct {
	// Reason describes what failed validation.
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates a reference to an unknown workflow, execution, or
// task ID. It surfaces synchronously to the caller.
type NotFoundError struct {
	// Kind names the record type, e.g. "workflow".
	Kind string
	// ID is the identifier that could not be resolved.
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// TaskExecutionError wraps an error raised by the injected executor. It is
// caught by the scheduler, drives the retry and healing state machine, and
// never propagates to the orchestrator's caller.
type TaskExecutionError struct {
	// TaskID is the task whose execution failed.
	TaskID string
	// Err is the underlying executor error.
	Err error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s execution failed: %v", e.TaskID, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
