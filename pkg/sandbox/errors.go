package sandbox

import (
	"errors"
	"fmt"
)

// Stages of a sandboxed extraction, used in ExecutionError.
const (
	StagePrepare = "prepare"
	StageLaunch  = "launch"
	StageWait    = "wait"
	StageCollect = "collect"
	StageDecode  = "decode"
)

// Sentinel errors for sandbox operations.
var (
	// ErrTimeout is returned when an isolated run exceeds its budget.
	ErrTimeout = errors.New("sandbox execution timed out")

	// ErrUnavailable is returned when no isolation backend is usable.
	ErrUnavailable = errors.New("no sandbox backend available")
)

// ExecutionError reports a sandboxed run that did not complete cleanly,
// carrying the stage it failed in and the underlying cause.
type ExecutionError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sandbox execution failed during %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
