package api

import (
	"fmt"
	"regexp"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxSourceSize int // script body bytes
	MaxNameLength int
	MaxSeries     int // series per extraction
	MaxPoints     int // observations per series
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxSourceSize: 1 << 20, // 1MB
		MaxNameLength: 64,
		MaxSeries:     100,
		MaxPoints:     1_000_000,
	}
}

// Script names start with a letter and use only letters, digits,
// underscores, and hyphens.
var scriptNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidateScriptName checks whether the given string is a valid script name.
func ValidateScriptName(name string) bool {
	return scriptNamePattern.MatchString(name)
}

// ValidateRegisterScript checks a RegisterScriptRequest for validity. It
// returns an *APIError describing the first validation failure, or nil if
// the request is valid.
func ValidateRegisterScript(req *RegisterScriptRequest, cfg ValidationConfig) *APIError {
	if req.Name == "" {
		return NewInvalidRequestError("name", "name is required")
	}
	if cfg.MaxNameLength > 0 && len(req.Name) > cfg.MaxNameLength {
		return NewInvalidRequestError("name",
			fmt.Sprintf("name exceeds maximum of %d characters", cfg.MaxNameLength))
	}
	if !ValidateScriptName(req.Name) {
		return NewInvalidRequestError("name",
			"name must start with a letter and contain only letters, digits, underscores, and hyphens")
	}
	if req.Source == "" {
		return NewInvalidRequestError("source", "source is required")
	}
	if cfg.MaxSourceSize > 0 && len(req.Source) > cfg.MaxSourceSize {
		return NewInvalidRequestError("source",
			fmt.Sprintf("source exceeds maximum of %d bytes", cfg.MaxSourceSize))
	}
	return nil
}

// ValidateCreateExtraction checks a CreateExtractionRequest for validity.
func ValidateCreateExtraction(req *CreateExtractionRequest, cfg ValidationConfig) *APIError {
	if apiErr := validateScriptRef(req.ScriptID, req.Source, cfg); apiErr != nil {
		return apiErr
	}

	if len(req.Series) == 0 {
		return NewInvalidRequestError("series", "series must contain at least one time series")
	}
	if cfg.MaxSeries > 0 && len(req.Series) > cfg.MaxSeries {
		return NewInvalidRequestError("series",
			fmt.Sprintf("series exceeds maximum of %d", cfg.MaxSeries))
	}
	for i := range req.Series {
		if apiErr := validateSeries(&req.Series[i], i, cfg); apiErr != nil {
			return apiErr
		}
	}

	if req.TimeoutSeconds < 0 {
		return NewInvalidRequestError("timeout_seconds", "timeout_seconds must not be negative")
	}

	return nil
}

// ValidateCreateVerification checks a CreateVerificationRequest for validity.
func ValidateCreateVerification(req *CreateVerificationRequest, cfg ValidationConfig) *APIError {
	return validateScriptRef(req.ScriptID, req.Source, cfg)
}

// validateScriptRef enforces that exactly one of script_id or source is
// set, and that whichever is set is well-formed.
func validateScriptRef(scriptID, source string, cfg ValidationConfig) *APIError {
	if scriptID == "" && source == "" {
		return NewInvalidRequestError("script_id", "one of script_id or source is required")
	}
	if scriptID != "" && source != "" {
		return NewInvalidRequestError("script_id", "script_id and source are mutually exclusive")
	}
	if scriptID != "" && !ValidateScriptID(scriptID) {
		return NewInvalidRequestError("script_id", "invalid script ID format")
	}
	if source != "" && cfg.MaxSourceSize > 0 && len(source) > cfg.MaxSourceSize {
		return NewInvalidRequestError("source",
			fmt.Sprintf("source exceeds maximum of %d bytes", cfg.MaxSourceSize))
	}
	return nil
}

// validateSeries checks one time series input. Exactly one data source
// must be provided: inline arrays or CSV text.
func validateSeries(s *SeriesInput, i int, cfg ValidationConfig) *APIError {
	param := fmt.Sprintf("series[%d]", i)

	hasArrays := len(s.T) > 0 || len(s.M) > 0
	hasCSV := s.CSV != ""

	if !hasArrays && !hasCSV {
		return NewInvalidRequestError(param, "one of t/m arrays or csv is required")
	}
	if hasArrays && hasCSV {
		return NewInvalidRequestError(param, "inline arrays and csv are mutually exclusive")
	}

	if hasArrays {
		if len(s.T) == 0 {
			return NewInvalidRequestError(param+".t", "t is required with m")
		}
		if len(s.M) == 0 {
			return NewInvalidRequestError(param+".m", "m is required with t")
		}
		if len(s.T) != len(s.M) {
			return NewInvalidRequestError(param,
				fmt.Sprintf("t and m must have the same length, got %d and %d", len(s.T), len(s.M)))
		}
		if len(s.E) > 0 && len(s.E) != len(s.T) {
			return NewInvalidRequestError(param+".e",
				fmt.Sprintf("e must match t length %d, got %d", len(s.T), len(s.E)))
		}
		if cfg.MaxPoints > 0 && len(s.T) > cfg.MaxPoints {
			return NewInvalidRequestError(param,
				fmt.Sprintf("series exceeds maximum of %d observations", cfg.MaxPoints))
		}
	}

	return nil
}
