package schedule

import (
	"fmt"
	"strings"
)

// UnsatisfiableError reports required feature names that no function
// provides and the input does not carry. Detected before any function
// runs.
type UnsatisfiableError struct {
	Missing []string
}

// Error implements the error interface.
func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("required features provided by no function: %s", strings.Join(e.Missing, ", "))
}

// CycleError reports functions that can never run because their
// requirements depend, directly or indirectly, on their own outputs.
type CycleError struct {
	Remaining []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency, no function eligible to run: %s", strings.Join(e.Remaining, ", "))
}
