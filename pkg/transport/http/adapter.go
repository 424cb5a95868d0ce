package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/api"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/script"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
	"github.com/cepheid-ml/cepheid/pkg/transport"
)

// Adapter serves the cepheid API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	extractor  transport.Extractor
	verifier   transport.Verifier    // nil when no isolation backend is configured
	store      transport.ScriptStore // nil when running without a registry
	gate       *transport.ExtractionGate
	mux        *http.ServeMux
	config     Config
	validation api.ValidationConfig
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	MaxExtractions  int
	ShutdownTimeout int // seconds

	// VerifyOnRegister runs the acceptance battery when a script is
	// registered, unless the request overrides it.
	VerifyOnRegister bool

	// Sandbox names the active isolation backend for health reporting.
	Sandbox string

	// Version is reported on /healthz.
	Version string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		MaxBodySize:      10 << 20, // 10 MB
		MaxExtractions:   4,
		ShutdownTimeout:  30,
		VerifyOnRegister: true,
	}
}

// NewAdapter creates an HTTP adapter with the given Extractor and options.
// The Verifier and ScriptStore are optional; when nil, the corresponding
// endpoints return an error indicating the operation is not available.
// Middleware is applied to the Extractor in the given order.
func NewAdapter(extractor transport.Extractor, verifier transport.Verifier, store transport.ScriptStore, cfg Config, middlewares ...transport.Middleware) *Adapter {
	// Apply middleware chain to the extractor.
	if len(middlewares) > 0 {
		extractor = transport.Chain(middlewares...)(extractor)
	}

	a := &Adapter{
		extractor:  extractor,
		verifier:   verifier,
		store:      store,
		gate:       transport.NewExtractionGate(cfg.MaxExtractions),
		mux:        http.NewServeMux(),
		config:     cfg,
		validation: api.DefaultValidationConfig(),
	}

	a.mux.HandleFunc("POST /v1/scripts", a.handleRegisterScript)
	a.mux.HandleFunc("GET /v1/scripts", a.handleListScripts)
	a.mux.HandleFunc("GET /v1/scripts/{id}", a.handleGetScript)
	a.mux.HandleFunc("DELETE /v1/scripts/{id}", a.handleDeleteScript)
	a.mux.HandleFunc("GET /v1/scripts/{id}/features", a.handleListFeatures)
	a.mux.HandleFunc("POST /v1/extractions", a.handleCreateExtraction)
	a.mux.HandleFunc("POST /v1/verifications", a.handleCreateVerification)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware is HTTP-level middleware that propagates the
// X-Request-ID header. If present in the request, it is forwarded to
// the response. After the handler runs, it checks the context for a
// request ID (set by the transport-level RequestID middleware) and adds
// it to the response headers if not already set.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If client sent X-Request-ID, propagate it into context.
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		// Use a response writer wrapper to capture and set the request ID
		// header before the first write.
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// decodeJSON validates the Content-Type, bounds the body size, and decodes
// the request body into dst. On failure it writes the error response and
// returns false.
func (a *Adapter) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return false
	}

	return true
}

// writeJSON serializes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeStoreUnavailable reports an operation that needs the registry when
// none is configured.
func writeStoreUnavailable(w http.ResponseWriter, op string) {
	transport.WriteErrorResponse(w,
		api.NewInvalidRequestError("", op+" is not available (no registry configured)"),
		http.StatusNotImplemented,
	)
}

// handleRegisterScript handles POST /v1/scripts.
func (a *Adapter) handleRegisterScript(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeStoreUnavailable(w, "script registration")
		return
	}

	var req api.RegisterScriptRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	if apiErr := api.ValidateRegisterScript(&req, a.validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	contracts, diags := script.Parse(req.Source)
	if len(contracts) == 0 {
		msg := "script declares no feature contracts"
		if len(diags) > 0 {
			msg += ": " + diags[0].Reason
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("source", msg))
		return
	}

	verified := false
	if a.shouldVerify(req.Verify) {
		if a.verifier == nil {
			transport.WriteAPIError(w,
				api.NewUnavailableError("verification is not available (no isolation backend configured)"))
			return
		}
		report := a.verifier.Verify(r.Context(), req.Source)
		verified = report.Verified
	}

	s := &api.Script{
		ID:        api.NewScriptID(),
		Object:    api.ObjectScript,
		Name:      req.Name,
		CreatedAt: time.Now().Unix(),
		Verified:  verified,
		Features:  contractsToAPI(contracts),
		Warnings:  diagnosticsToWarnings(diags),
		Source:    req.Source,
	}

	if err := a.store.SaveScript(r.Context(), s); err != nil {
		transport.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, s)
}

// shouldVerify decides whether registration runs the acceptance battery.
// An explicit request override wins; otherwise the server default applies,
// but only when a verifier is actually configured.
func (a *Adapter) shouldVerify(override *bool) bool {
	if override != nil {
		return *override
	}
	return a.config.VerifyOnRegister && a.verifier != nil
}

// handleGetScript handles GET /v1/scripts/{id}.
func (a *Adapter) handleGetScript(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeStoreUnavailable(w, "script retrieval")
		return
	}

	id := r.PathValue("id")
	if !api.ValidateScriptID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed script ID"))
		return
	}

	s, err := a.store.GetScript(r.Context(), id)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// handleListScripts handles GET /v1/scripts.
func (a *Adapter) handleListScripts(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeStoreUnavailable(w, "script listing")
		return
	}

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	result, err := a.store.ListScripts(r.Context(), opts)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleDeleteScript handles DELETE /v1/scripts/{id}.
func (a *Adapter) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeStoreUnavailable(w, "script deletion")
		return
	}

	id := r.PathValue("id")
	if !api.ValidateScriptID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed script ID"))
		return
	}

	if err := a.store.DeleteScript(r.Context(), id); err != nil {
		transport.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.DeletedScript{
		ID:      id,
		Object:  api.ObjectScriptDeleted,
		Deleted: true,
	})
}

// handleListFeatures handles GET /v1/scripts/{id}/features.
func (a *Adapter) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeStoreUnavailable(w, "feature listing")
		return
	}

	id := r.PathValue("id")
	if !api.ValidateScriptID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed script ID"))
		return
	}

	s, err := a.store.GetScript(r.Context(), id)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	data := s.Features
	if data == nil {
		data = []api.FeatureContract{}
	}
	writeJSON(w, http.StatusOK, transport.FeatureList{
		Object:   api.ObjectList,
		ScriptID: s.ID,
		Data:     data,
	})
}

// handleCreateExtraction handles POST /v1/extractions.
func (a *Adapter) handleCreateExtraction(w http.ResponseWriter, r *http.Request) {
	var req api.CreateExtractionRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	if apiErr := api.ValidateCreateExtraction(&req, a.validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	src, apiErr := a.resolveSource(r.Context(), req.ScriptID, req.Source)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	if !a.gate.TryAcquire() {
		transport.WriteAPIError(w,
			api.NewTooManyRequestsError("extraction capacity reached, retry later"))
		return
	}
	defer a.gate.Release()

	ctx := r.Context()
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	outcome, err := a.extractor.Extract(ctx, src, seriesToInputs(req.Series))
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.Extraction{
		ID:        api.NewExtractionID(),
		Object:    api.ObjectExtraction,
		ScriptID:  req.ScriptID,
		CreatedAt: time.Now().Unix(),
		Mode:      outcome.Mode,
		Results:   toFeatureSets(outcome.Features),
	})
}

// handleCreateVerification handles POST /v1/verifications.
func (a *Adapter) handleCreateVerification(w http.ResponseWriter, r *http.Request) {
	if a.verifier == nil {
		transport.WriteAPIError(w,
			api.NewUnavailableError("verification is not available (no isolation backend configured)"))
		return
	}

	var req api.CreateVerificationRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	if apiErr := api.ValidateCreateVerification(&req, a.validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	src, apiErr := a.resolveSource(r.Context(), req.ScriptID, req.Source)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	report := a.verifier.Verify(r.Context(), src)

	writeJSON(w, http.StatusOK, api.Verification{
		Object:   api.ObjectVerification,
		ScriptID: req.ScriptID,
		Verified: report.Verified,
		Reason:   report.Reason,
		Features: report.Features,
	})
}

// handleHealth handles GET /healthz.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:  "ok",
		Version: a.config.Version,
		Sandbox: a.config.Sandbox,
	}

	if a.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.store.HealthCheck(ctx); err != nil {
			resp.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// resolveSource returns the script body for a request that names either a
// registered script or an inline source. Validation has already ensured
// exactly one is set.
func (a *Adapter) resolveSource(ctx context.Context, scriptID, source string) (string, *api.APIError) {
	if scriptID == "" {
		return source, nil
	}

	if a.store == nil {
		return "", api.NewInvalidRequestError("script_id",
			"script references are not available (no registry configured)")
	}

	s, err := a.store.GetScript(ctx, scriptID)
	if err != nil {
		return "", transport.MapError(err)
	}
	return s.Source, nil
}

// parseListOptions extracts pagination parameters from the query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Order:  q.Get("order"),
	}

	if opts.After != "" && opts.Before != "" {
		return opts, api.NewInvalidRequestError("after", "cannot use both 'after' and 'before' cursors")
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'")
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}

	if verifiedStr := q.Get("verified"); verifiedStr != "" {
		verified, err := strconv.ParseBool(verifiedStr)
		if err != nil {
			return opts, api.NewInvalidRequestError("verified", "verified must be 'true' or 'false'")
		}
		opts.Verified = &verified
	}

	return opts, nil
}

// seriesToInputs converts wire-level series into engine inputs. Inline
// arrays become a pre-built feature set carrying the reserved keys; CSV
// text is passed through for the engine's parser.
func seriesToInputs(series []api.SeriesInput) []timeseries.Input {
	inputs := make([]timeseries.Input, len(series))
	for i, s := range series {
		known := feature.Set(s.Known).Clone()
		if s.CSV != "" {
			inputs[i] = timeseries.Input{Text: s.CSV, Known: known}
			continue
		}
		known[feature.KeyTime] = s.T
		known[feature.KeyMeasurement] = s.M
		if len(s.E) > 0 {
			known[feature.KeyError] = s.E
		}
		inputs[i] = timeseries.Input{Known: known}
	}
	return inputs
}

// toFeatureSets converts engine results to the wire representation.
func toFeatureSets(sets []feature.Set) []api.FeatureSet {
	out := make([]api.FeatureSet, len(sets))
	for i, s := range sets {
		out[i] = api.FeatureSet(s)
	}
	return out
}

// contractsToAPI converts parsed contracts to the wire representation.
func contractsToAPI(contracts script.Contracts) []api.FeatureContract {
	out := make([]api.FeatureContract, len(contracts))
	for i, c := range contracts {
		out[i] = api.FeatureContract{
			Function: c.Name,
			Requires: c.Requires,
			Provides: c.Provides,
		}
	}
	return out
}

// diagnosticsToWarnings converts parser diagnostics to the wire representation.
func diagnosticsToWarnings(diags []script.Diagnostic) []api.ParseWarning {
	if len(diags) == 0 {
		return nil
	}
	out := make([]api.ParseWarning, len(diags))
	for i, d := range diags {
		out[i] = api.ParseWarning{Line: d.Line, Reason: d.Reason}
	}
	return out
}
