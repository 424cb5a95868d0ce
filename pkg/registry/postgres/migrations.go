package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migration is one embedded schema file, named NNN_description.sql.
type migration struct {
	version int
	name    string
}

// migrate brings the schema up to date. Applied versions are recorded
// in schema_migrations; files whose version is already recorded are
// skipped.
func (s *Store) migrate(ctx context.Context) error {
	pending, err := loadMigrations()
	if err != nil {
		return err
	}

	applied := s.appliedVersions(ctx)
	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// loadMigrations lists the embedded SQL files in version order. Files
// without a numeric version prefix are ignored.
func loadMigrations() ([]migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		out = append(out, migration{version: version, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// appliedVersions reads the schema_migrations table. On a fresh
// database the table does not exist yet; that reads as nothing
// applied, and the first migration creates it.
func (s *Store) appliedVersions(ctx context.Context) map[int]bool {
	rows, err := s.pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if rows.Scan(&v) == nil {
			applied[v] = true
		}
	}
	return applied
}

func (s *Store) apply(ctx context.Context, m migration) error {
	content, err := migrationFiles.ReadFile("migrations/" + m.name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", m.name, err)
	}

	slog.Info("applying migration", "file", m.name, "version", m.version)
	if _, err := s.pool.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("applying migration %s: %w", m.name, err)
	}
	if _, err := s.pool.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING",
		m.version,
	); err != nil {
		return fmt.Errorf("recording migration %s: %w", m.name, err)
	}
	return nil
}
