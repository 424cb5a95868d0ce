package registry

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when a script does not exist or has been deleted.
	ErrNotFound = errors.New("script not found")

	// ErrConflict is returned when a script with the given ID or name
	// already exists.
	ErrConflict = errors.New("script already exists")
)
