package task

import (
	"errors"
	"fmt"
)

// RetryExhaustedError reports that a task failed and its retry policy
// forbids another attempt. The record has been deleted.
type RetryExhaustedError struct {
	// ID is the dropped task.
	ID string

	// Failures is the failure count including the final failure.
	Failures uint32

	// Policy is the retry policy that refused the retry.
	Policy RetryPolicy

	// Cause is the last execution error, if known.
	Cause error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	msg := fmt.Sprintf("task %s dropped after %d failure(s) (retry=%s)", e.ID, e.Failures, e.Policy)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the last execution error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Cause
}

// ExecutionError wraps an error returned (or a panic raised) by a task body.
// It is opaque to the storage layer and only triggers the retry path.
type ExecutionError struct {
	ID  string
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s execution failed: %v", e.ID, e.Err)
}

// Unwrap returns the task body's error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// TransitionError reports a lifecycle transition attempted from the wrong
// status.
type TransitionError struct {
	ID   string
	From StatusKind
	To   string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// IsRetryExhausted returns true if the error is a RetryExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}

// IsExecutionError returns true if the error is an ExecutionError.
// Uses errors.As to handle wrapped errors.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsTransitionError returns true if the error is a TransitionError.
// Uses errors.As to handle wrapped errors.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
