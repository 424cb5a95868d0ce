// Package remote runs feature extraction sandboxes through the sandbox
// server REST API, on a static development URL or on pods acquired per
// run from a cluster.
package remote

// Extraction outcomes reported by the sandbox server.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// ExtractRequest is the request body for POST /extract on the sandbox
// server. KnownCBOR carries the encoded datasets; encoding/json
// transports it as base64.
type ExtractRequest struct {
	Script         string `json:"script"`
	KnownCBOR      []byte `json:"known_cbor"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ExtractResponse is the response from POST /extract on the sandbox
// server.
type ExtractResponse struct {
	Status          string `json:"status"`
	ResultsCBOR     []byte `json:"results_cbor,omitempty"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}
