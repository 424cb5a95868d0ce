package script

import (
	"fmt"

	"github.com/cepheid-ml/cepheid/pkg/feature"
)

// MissingParameterError reports a required parameter absent from the
// arguments at call time.
type MissingParameterError struct {
	Function  string
	Parameter string
}

// Error implements the error interface.
func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("function %q called without required parameter %q", e.Function, e.Parameter)
}

// MissingReturnError reports a promised feature absent from a function's
// returned set.
type MissingReturnError struct {
	Function string
	Key      string
}

// Error implements the error interface.
func (e *MissingReturnError) Error() string {
	return fmt.Sprintf("function %q did not return promised feature %q", e.Function, e.Key)
}

// CallFunc runs a feature function against its arguments.
type CallFunc func(args feature.Set) (feature.Set, error)

// CheckedCall invokes call under the contract: every required parameter
// must be present in args before the call, and every promised feature
// must be present in the result after it. Errors from the call itself
// pass through wrapped with the function name.
func CheckedCall(c Contract, args feature.Set, call CallFunc) (feature.Set, error) {
	for _, name := range c.Requires {
		if !args.Has(name) {
			return nil, &MissingParameterError{Function: c.Name, Parameter: name}
		}
	}

	out, err := call(args)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", c.Name, err)
	}

	for _, name := range c.Provides {
		if !out.Has(name) {
			return nil, &MissingReturnError{Function: c.Name, Key: name}
		}
	}
	return out, nil
}
