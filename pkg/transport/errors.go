package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cepheid-ml/cepheid/pkg/api"
	"github.com/cepheid-ml/cepheid/pkg/registry"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
	"github.com/cepheid-ml/cepheid/pkg/schedule"
	"github.com/cepheid-ml/cepheid/pkg/script"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type,
// method not allowed) are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeConflict:
		return http.StatusConflict
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case api.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case api.ErrorTypeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// MapError translates a domain error into the typed API error envelope.
// Malformed series, contract violations, and scheduling dead ends are
// the caller's fault; sandbox unavailability and timeouts map to their
// gateway statuses; everything unrecognized becomes a server error.
func MapError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var formatErr *timeseries.FormatError
	if errors.As(err, &formatErr) {
		return api.NewInvalidRequestError("series", err.Error())
	}
	if errors.Is(err, timeseries.ErrMissingInput) {
		return api.NewInvalidRequestError("series", err.Error())
	}

	var unsat *schedule.UnsatisfiableError
	if errors.As(err, &unsat) {
		return api.NewInvalidRequestError("", err.Error())
	}
	var cycle *schedule.CycleError
	if errors.As(err, &cycle) {
		return api.NewInvalidRequestError("", err.Error())
	}

	var missingParam *script.MissingParameterError
	if errors.As(err, &missingParam) {
		return api.NewInvalidRequestError("", err.Error())
	}
	var missingRet *script.MissingReturnError
	if errors.As(err, &missingRet) {
		return api.NewInvalidRequestError("", err.Error())
	}

	if errors.Is(err, sandbox.ErrUnavailable) {
		return api.NewUnavailableError(err.Error())
	}
	if errors.Is(err, sandbox.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return api.NewTimeoutError(err.Error())
	}
	var execErr *sandbox.ExecutionError
	if errors.As(err, &execErr) {
		e := api.NewServerError(err.Error())
		e.Code = "script_execution_error"
		return e
	}

	if errors.Is(err, registry.ErrNotFound) {
		return api.NewNotFoundError(err.Error())
	}
	if errors.Is(err, registry.ErrConflict) {
		return api.NewConflictError(err.Error())
	}

	return api.NewServerError(err.Error())
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError maps any error to the API error envelope and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteAPIError(w, MapError(err))
}
