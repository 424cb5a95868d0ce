// Package memory provides an in-memory implementation of transport.ScriptStore
// for testing and lightweight deployments. Scripts are stored in memory and
// lost when the process restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/api"
	"github.com/cepheid-ml/cepheid/pkg/registry"
	"github.com/cepheid-ml/cepheid/pkg/transport"
)

// entry holds a stored script and its metadata.
type entry struct {
	script    *api.Script
	projectID string
	deletedAt *time.Time
	lruElem   *list.Element // position in LRU list
}

// Store is an in-memory ScriptStore with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements transport.ScriptStore at compile time.
var _ transport.ScriptStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the oldest entry is evicted when the
// limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveScript persists a script in memory. Names are unique within a
// project; saving a script whose name is already taken by a live
// script returns ErrConflict.
func (s *Store) SaveScript(ctx context.Context, sc *api.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[sc.ID]; exists {
		return registry.ErrConflict
	}

	projectID := registry.GetProject(ctx)

	for _, e := range s.entries {
		if e.deletedAt == nil && e.projectID == projectID && e.script.Name == sc.Name {
			return registry.ErrConflict
		}
	}

	// Evict if at capacity.
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(sc.ID)
	s.entries[sc.ID] = &entry{
		script:    sc,
		projectID: projectID,
		lruElem:   elem,
	}

	return nil
}

// GetScript retrieves a script by ID. Returns ErrNotFound if the script
// does not exist or has been soft-deleted. Scoped by project when a
// project is present in the context.
func (s *Store) GetScript(ctx context.Context, id string) (*api.Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return nil, registry.ErrNotFound
	}

	// Project scoping.
	projectID := registry.GetProject(ctx)
	if projectID != "" && e.projectID != projectID {
		return nil, registry.ErrNotFound
	}

	return e.script, nil
}

// GetScriptByName retrieves a script by its registered name, scoped by
// project when one is present in the context.
func (s *Store) GetScriptByName(ctx context.Context, name string) (*api.Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projectID := registry.GetProject(ctx)

	for _, e := range s.entries {
		if e.deletedAt != nil {
			continue
		}
		if projectID != "" && e.projectID != projectID {
			continue
		}
		if e.script.Name == name {
			return e.script, nil
		}
	}

	return nil, registry.ErrNotFound
}

// DeleteScript soft-deletes a script. The entry remains in memory until
// evicted, so IDs are never reused within a process lifetime.
func (s *Store) DeleteScript(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return registry.ErrNotFound
	}

	// Project scoping.
	projectID := registry.GetProject(ctx)
	if projectID != "" && e.projectID != projectID {
		return registry.ErrNotFound
	}

	now := time.Now()
	e.deletedAt = &now
	return nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// ListScripts returns a paginated list of stored scripts filtered by
// project and optionally by verification status, with cursor-based
// pagination. Source bodies are omitted from list entries.
func (s *Store) ListScripts(ctx context.Context, opts transport.ListOptions) (*transport.ScriptList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projectID := registry.GetProject(ctx)

	// Collect matching entries.
	var matches []*api.Script
	for _, e := range s.entries {
		if e.deletedAt != nil {
			continue
		}
		if projectID != "" && e.projectID != projectID {
			continue
		}
		if opts.Verified != nil && e.script.Verified != *opts.Verified {
			continue
		}
		matches = append(matches, listEntry(e.script))
	}

	// Sort by created_at. Default is desc (newest first).
	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		if asc {
			if matches[i].CreatedAt != matches[j].CreatedAt {
				return matches[i].CreatedAt < matches[j].CreatedAt
			}
			return matches[i].ID < matches[j].ID
		}
		if matches[i].CreatedAt != matches[j].CreatedAt {
			return matches[i].CreatedAt > matches[j].CreatedAt
		}
		return matches[i].ID > matches[j].ID
	})

	// Apply cursor-based pagination.
	if opts.After != "" {
		idx := -1
		for i, sc := range matches {
			if sc.ID == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	} else if opts.Before != "" {
		idx := -1
		for i, sc := range matches {
			if sc.ID == opts.Before {
				idx = i
				break
			}
		}
		if idx > 0 {
			matches = matches[:idx]
		} else {
			matches = nil
		}
	}

	// Apply limit.
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	result := &transport.ScriptList{
		Object:  api.ObjectList,
		Data:    matches,
		HasMore: hasMore,
	}
	if len(matches) > 0 {
		result.FirstID = matches[0].ID
		result.LastID = matches[len(matches)-1].ID
	}
	if result.Data == nil {
		result.Data = []*api.Script{}
	}

	return result, nil
}

// listEntry returns a shallow copy of the script with the source body
// stripped, for list responses.
func listEntry(sc *api.Script) *api.Script {
	cp := *sc
	cp.Source = ""
	return &cp
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
