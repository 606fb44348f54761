package pool

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Submit and Close.
var (
	// ErrSaturated indicates every worker is busy and the queue is full.
	ErrSaturated = errors.New("worker pool saturated")

	// ErrShutdown indicates the pool no longer accepts tasks.
	ErrShutdown = errors.New("worker pool shut down")

	// ErrDrainTimeout indicates Close gave up waiting for queued tasks.
	ErrDrainTimeout = errors.New("worker pool drain timed out")

	// ErrNilTask indicates a task without a Run function.
	ErrNilTask = errors.New("task has no run function")
)

// SaturationError describes a rejected submission.
type SaturationError struct {
	Task    string
	Kind    string
	Workers int
	Queued  int
	Policy  Policy
	// Cause is set when a blocked submission gave up (e.g. context canceled).
	Cause error
}

// Error implements the error interface.
func (e *SaturationError) Error() string {
	msg := fmt.Sprintf("worker pool saturated: task %q (kind %s) rejected by %s policy with %d workers and %d queued",
		e.Task, e.Kind, e.Policy, e.Workers, e.Queued)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes ErrSaturated and the cause, if any.
func (e *SaturationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrSaturated, e.Cause}
	}
	return []error{ErrSaturated}
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
