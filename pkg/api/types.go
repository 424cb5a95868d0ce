package api

import "encoding/json"

// ---------------------------------------------------------------------------
// Object types
// ---------------------------------------------------------------------------

const (
	ObjectScript        = "script"
	ObjectScriptDeleted = "script.deleted"
	ObjectExtraction    = "extraction"
	ObjectVerification  = "verification"
	ObjectList          = "list"
)

// ---------------------------------------------------------------------------
// Feature contracts
// ---------------------------------------------------------------------------

// FeatureContract describes one feature-extraction function declared in a
// script: the features it consumes and the features it promises to produce.
type FeatureContract struct {
	Function string   `json:"-"`
	Requires []string `json:"-"`
	Provides []string `json:"-"`
}

// MarshalJSON ensures requires and provides are always arrays, never null.
func (c FeatureContract) MarshalJSON() ([]byte, error) {
	type wire struct {
		Function string   `json:"function"`
		Requires []string `json:"requires"`
		Provides []string `json:"provides"`
	}
	w := wire{
		Function: c.Function,
		Requires: c.Requires,
		Provides: c.Provides,
	}
	if w.Requires == nil {
		w.Requires = []string{}
	}
	if w.Provides == nil {
		w.Provides = []string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON deserializes a FeatureContract.
func (c *FeatureContract) UnmarshalJSON(data []byte) error {
	type wire struct {
		Function string   `json:"function"`
		Requires []string `json:"requires"`
		Provides []string `json:"provides"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Function = w.Function
	c.Requires = w.Requires
	c.Provides = w.Provides
	return nil
}

// ParseWarning reports a decorator line that was skipped during contract
// parsing, with the line number and the reason it could not be used.
type ParseWarning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

// Script is a registered feature-definition script.
type Script struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	Name      string            `json:"name"`
	CreatedAt int64             `json:"created_at"`
	Verified  bool              `json:"verified"`
	Features  []FeatureContract `json:"features"`
	Warnings  []ParseWarning    `json:"warnings,omitempty"`

	// Source is the script body. Included when fetching a single script,
	// omitted from list responses.
	Source string `json:"source,omitempty"`
}

// RegisterScriptRequest is the request body for POST /v1/scripts.
type RegisterScriptRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`

	// Verify overrides the server's verify-on-registration default
	// when set. Verification requires an isolation backend.
	Verify *bool `json:"verify,omitempty"`
}

// DeletedScript is the response body for DELETE /v1/scripts/{id}.
type DeletedScript struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// ---------------------------------------------------------------------------
// Extractions
// ---------------------------------------------------------------------------

// SeriesInput is one time series to extract features from. Exactly one
// data source must be provided: inline arrays (t and m, with optional e)
// or raw CSV text with one t,m[,e] row per line. Known values are merged
// into the feature set before extraction and take precedence over
// computed features of the same name.
type SeriesInput struct {
	T   []float64 `json:"t,omitempty"`
	M   []float64 `json:"m,omitempty"`
	E   []float64 `json:"e,omitempty"`
	CSV string    `json:"csv,omitempty"`

	Known map[string]any `json:"known,omitempty"`
}

// CreateExtractionRequest is the request body for POST /v1/extractions.
// Exactly one of ScriptID (a registered script) or Source (an inline
// script body) must be provided.
type CreateExtractionRequest struct {
	ScriptID string        `json:"script_id,omitempty"`
	Source   string        `json:"source,omitempty"`
	Series   []SeriesInput `json:"series"`

	// TimeoutSeconds caps execution time for this extraction. Zero uses
	// the server default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// FeatureSet holds the extracted feature values for one time series,
// keyed by feature name.
type FeatureSet map[string]any

// Extraction is the result of running a script against one or more
// time series.
type Extraction struct {
	ID        string       `json:"id"`
	Object    string       `json:"object"`
	ScriptID  string       `json:"script_id,omitempty"`
	CreatedAt int64        `json:"created_at"`
	Mode      string       `json:"mode"`
	Results   []FeatureSet `json:"results"`
}

// MarshalJSON ensures results is always an array, never null.
func (e Extraction) MarshalJSON() ([]byte, error) {
	type wire Extraction
	w := wire(e)
	if w.Results == nil {
		w.Results = []FeatureSet{}
	}
	return json.Marshal(w)
}

// ---------------------------------------------------------------------------
// Verifications
// ---------------------------------------------------------------------------

// CreateVerificationRequest is the request body for POST /v1/verifications.
// Exactly one of ScriptID or Source must be provided.
type CreateVerificationRequest struct {
	ScriptID string `json:"script_id,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Verification reports whether a script passed the acceptance battery.
type Verification struct {
	Object   string `json:"object"`
	ScriptID string `json:"script_id,omitempty"`
	Verified bool   `json:"verified"`

	// Reason explains a failed or refused verification.
	Reason string `json:"reason,omitempty"`

	// Features lists the feature names the script provides.
	Features []string `json:"features"`
}

// MarshalJSON ensures features is always an array, never null.
func (v Verification) MarshalJSON() ([]byte, error) {
	type wire Verification
	w := wire(v)
	if w.Features == nil {
		w.Features = []string{}
	}
	return json.Marshal(w)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`

	// Sandbox names the active isolation backend, or "none".
	Sandbox string `json:"sandbox,omitempty"`
}
