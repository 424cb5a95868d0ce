package timeseries

import (
	"errors"
	"fmt"
)

// ErrMissingInput is returned when a dataset carries no usable
// time-series source, or more than one.
var ErrMissingInput = errors.New("no usable time-series input")

// FormatError reports malformed time-series data. Line is 1-based and
// zero when the failure is not tied to a single line.
type FormatError struct {
	Line   int
	Reason string
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("time-series data malformed at line %d: %s", e.Line, e.Reason)
	}
	return "time-series data malformed: " + e.Reason
}
