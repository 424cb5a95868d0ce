// Package postgres provides a PostgreSQL implementation of transport.ScriptStore.
// It uses pgx/v5 for connection pooling and JSONB for feature contract storage.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cepheid-ml/cepheid/pkg/api"
	"github.com/cepheid-ml/cepheid/pkg/registry"
	"github.com/cepheid-ml/cepheid/pkg/transport"
)

// Store is a PostgreSQL-backed ScriptStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.ScriptStore at compile time.
var _ transport.ScriptStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveScript persists a registered script. A duplicate ID or a live
// script with the same name in the same project returns ErrConflict.
func (s *Store) SaveScript(ctx context.Context, sc *api.Script) error {
	projectID := registry.GetProject(ctx)

	featuresJSON, err := json.Marshal(sc.Features)
	if err != nil {
		return fmt.Errorf("marshaling features: %w", err)
	}

	var warningsJSON []byte
	if sc.Warnings != nil {
		warningsJSON, err = json.Marshal(sc.Warnings)
		if err != nil {
			return fmt.Errorf("marshaling warnings: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scripts (
			id, project_id, name, source, verified,
			features, warnings, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		sc.ID, projectID, sc.Name, sc.Source, sc.Verified,
		featuresJSON, nullJSON(warningsJSON), sc.CreatedAt,
	)

	if err != nil {
		if isDuplicateKey(err) {
			return registry.ErrConflict
		}
		return fmt.Errorf("inserting script: %w", err)
	}

	return nil
}

// GetScript retrieves a script by ID, excluding soft-deleted scripts.
func (s *Store) GetScript(ctx context.Context, id string) (*api.Script, error) {
	return s.getScript(ctx, "id", id)
}

// GetScriptByName retrieves a script by its registered name.
func (s *Store) GetScriptByName(ctx context.Context, name string) (*api.Script, error) {
	return s.getScript(ctx, "name", name)
}

// getScript is the internal retrieval implementation. column must be a
// trusted identifier ("id" or "name"), never user input.
func (s *Store) getScript(ctx context.Context, column, value string) (*api.Script, error) {
	projectID := registry.GetProject(ctx)

	query := fmt.Sprintf(`
		SELECT id, name, source, verified, features, warnings, created_at
		FROM scripts
		WHERE %s = $1 AND deleted_at IS NULL
	`, column)
	args := []any{value}

	if projectID != "" {
		query += " AND project_id = $2"
		args = append(args, projectID)
	}

	var sc api.Script
	var featuresJSON []byte
	var warningsJSON *[]byte

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sc.ID, &sc.Name, &sc.Source, &sc.Verified,
		&featuresJSON, &warningsJSON, &sc.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying script: %w", err)
	}

	sc.Object = api.ObjectScript

	if err := json.Unmarshal(featuresJSON, &sc.Features); err != nil {
		return nil, fmt.Errorf("unmarshaling features: %w", err)
	}
	if warningsJSON != nil {
		if err := json.Unmarshal(*warningsJSON, &sc.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshaling warnings: %w", err)
		}
	}

	return &sc, nil
}

// ListScripts returns a paginated list of stored scripts filtered by
// project and optionally by verification status. Source bodies are
// omitted from list entries.
func (s *Store) ListScripts(ctx context.Context, opts transport.ListOptions) (*transport.ScriptList, error) {
	projectID := registry.GetProject(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	asc := opts.Order == "asc"
	dir := "DESC"
	cmp := "<"
	if asc {
		dir = "ASC"
		cmp = ">"
	}

	query := `
		SELECT id, name, verified, features, warnings, created_at
		FROM scripts
		WHERE deleted_at IS NULL
	`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if projectID != "" {
		query += " AND project_id = " + arg(projectID)
	}
	if opts.Verified != nil {
		query += " AND verified = " + arg(*opts.Verified)
	}

	// Cursor pagination keys on (created_at, id) of the cursor row.
	cursor := opts.After
	cursorCmp := cmp
	if cursor == "" && opts.Before != "" {
		cursor = opts.Before
		// Before inverts the comparison but keeps the sort order.
		if asc {
			cursorCmp = "<"
		} else {
			cursorCmp = ">"
		}
	}
	if cursor != "" {
		query += fmt.Sprintf(
			" AND (created_at, id) %s (SELECT created_at, id FROM scripts WHERE id = %s)",
			cursorCmp, arg(cursor),
		)
	}

	query += fmt.Sprintf(" ORDER BY created_at %s, id %s LIMIT %s", dir, dir, arg(limit+1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*api.Script
	for rows.Next() {
		var sc api.Script
		var featuresJSON []byte
		var warningsJSON *[]byte

		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Verified, &featuresJSON, &warningsJSON, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning script: %w", err)
		}

		sc.Object = api.ObjectScript
		if err := json.Unmarshal(featuresJSON, &sc.Features); err != nil {
			return nil, fmt.Errorf("unmarshaling features: %w", err)
		}
		if warningsJSON != nil {
			if err := json.Unmarshal(*warningsJSON, &sc.Warnings); err != nil {
				return nil, fmt.Errorf("unmarshaling warnings: %w", err)
			}
		}

		scripts = append(scripts, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scripts: %w", err)
	}

	hasMore := len(scripts) > limit
	if hasMore {
		scripts = scripts[:limit]
	}

	result := &transport.ScriptList{
		Object:  api.ObjectList,
		Data:    scripts,
		HasMore: hasMore,
	}
	if len(scripts) > 0 {
		result.FirstID = scripts[0].ID
		result.LastID = scripts[len(scripts)-1].ID
	}
	if result.Data == nil {
		result.Data = []*api.Script{}
	}

	return result, nil
}

// DeleteScript soft-deletes a script by setting deleted_at.
func (s *Store) DeleteScript(ctx context.Context, id string) error {
	projectID := registry.GetProject(ctx)

	query := "UPDATE scripts SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL"
	args := []any{time.Now(), id}

	if projectID != "" {
		query += " AND project_id = $3"
		args = append(args, projectID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting script: %w", err)
	}

	if result.RowsAffected() == 0 {
		return registry.ErrNotFound
	}

	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && contains(err.Error(), "23505")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
