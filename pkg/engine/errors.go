package engine

import (
	"errors"
	"fmt"

	"github.com/taskcast/taskcast/pkg/models"
)

// ErrTaskNotFound is returned when an operation targets an unknown task.
var ErrTaskNotFound = errors.New("task not found")

// InvalidTransitionError reports an illegal status transition request.
type InvalidTransitionError struct {
	From models.TaskStatus
	To   models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Invalid transition: %s → %s", e.From, e.To)
}

// TaskTerminalError reports an attempt to publish to a task whose status
// admits no further events.
type TaskTerminalError struct {
	Status models.TaskStatus
}

func (e *TaskTerminalError) Error() string {
	return fmt.Sprintf("Cannot publish to task in terminal status: %s", e.Status)
}

// StoreError wraps an underlying store failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error in %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
