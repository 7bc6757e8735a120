package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the task's deadline elapsed before the executor settled it.
	ErrTimeout = errors.New("operation timed out")
	// ErrCancelled means the task was cancelled explicitly.
	ErrCancelled = errors.New("operation cancelled")
	// ErrCleared means the backlog was cleared while the task was still queued.
	ErrCleared = errors.New("operation cleared from backlog")
	// ErrNotFound means an unknown item id or key was referenced.
	ErrNotFound = errors.New("not found")
)

// ExecutionError wraps an executor failure with the task it belonged to.
type ExecutionError struct {
	TaskID string
	Kind   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %s (task %s): %v", e.Kind, e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
