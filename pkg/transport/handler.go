package transport

import (
	"context"

	"github.com/cepheid-ml/cepheid/pkg/api"
	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
	"github.com/cepheid-ml/cepheid/pkg/verify"
)

// Extractor runs a feature-definition script against a batch of time
// series. It is the primary handler contract; *engine.Engine satisfies it.
type Extractor interface {
	Extract(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error)
}

// ExtractorFunc is an adapter that allows using an ordinary function
// as an Extractor.
type ExtractorFunc func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error)

// Extract calls f(ctx, scriptSrc, inputs).
func (f ExtractorFunc) Extract(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
	return f(ctx, scriptSrc, inputs)
}

// Verifier runs a script against the acceptance battery before it is
// accepted into the registry. *verify.Verifier satisfies it.
type Verifier interface {
	Verify(ctx context.Context, scriptSrc string) verify.Report
}

// ListOptions controls pagination, filtering, and ordering for list operations.
type ListOptions struct {
	After    string // Cursor: return scripts after this ID.
	Before   string // Cursor: return scripts before this ID.
	Limit    int    // Maximum number of scripts to return (default 20, max 100).
	Verified *bool  // Filter by verification status when set.
	Order    string // Sort order: "asc" or "desc" (default "desc").
}

// ScriptList holds a paginated list of registered scripts. Source
// bodies are omitted from list entries.
type ScriptList struct {
	Object  string        `json:"object"`
	Data    []*api.Script `json:"data"`
	HasMore bool          `json:"has_more"`
	FirstID string        `json:"first_id"`
	LastID  string        `json:"last_id"`
}

// FeatureList holds the feature contracts declared by one script.
type FeatureList struct {
	Object   string                `json:"object"`
	ScriptID string                `json:"script_id"`
	Data     []api.FeatureContract `json:"data"`
}

// ScriptStore handles persistence, retrieval, and deletion of registered
// feature-definition scripts. Implementations scope all operations by
// the project in the context when one is set.
type ScriptStore interface {
	// SaveScript persists a script. Returns registry.ErrConflict when a
	// script with the same ID or name already exists.
	SaveScript(ctx context.Context, s *api.Script) error

	// GetScript retrieves a script by ID. Returns registry.ErrNotFound
	// if the script does not exist or has been deleted (soft delete).
	GetScript(ctx context.Context, id string) (*api.Script, error)

	// GetScriptByName retrieves a script by its registered name.
	GetScriptByName(ctx context.Context, name string) (*api.Script, error)

	// ListScripts returns a paginated list of stored scripts. Supports
	// cursor-based pagination, ordering, and verification filtering.
	ListScripts(ctx context.Context, opts ListOptions) (*ScriptList, error)

	// DeleteScript soft-deletes a script by ID.
	DeleteScript(ctx context.Context, id string) error

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases database connections and resources.
	Close() error
}
