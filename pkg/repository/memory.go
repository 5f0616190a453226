package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/stores"
)

// Memory is an in-process handle with the same write semantics as Local.
// It backs dry runs and tests.
type Memory struct {
	name string

	mu    sync.RWMutex
	byID  map[string]artifact.Node
	index map[string]string // identity key -> id
}

// NewMemory creates an empty in-memory handle.
func NewMemory(name string) *Memory {
	return &Memory{
		name:  name,
		byID:  make(map[string]artifact.Node),
		index: make(map[string]string),
	}
}

// Name implements Handle.
func (m *Memory) Name() string {
	return m.name
}

// Read implements Reader.
func (m *Memory) Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Node{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := ref.Key()
	if !ref.HasVersion() {
		var infos []stores.VersionInfo
		for _, n := range m.byID {
			if n.Reference.URL == ref.URL {
				infos = append(infos, stores.VersionInfo{Version: n.Reference.Version, Status: string(n.Status)})
			}
		}
		version, ok := CurrentVersion(infos)
		if !ok {
			return artifact.Node{}, artifact.NewNotFoundError(ref)
		}
		key = ref.WithVersion(version).Key()
	}

	id, ok := m.index[key]
	if !ok {
		return artifact.Node{}, artifact.NewNotFoundError(ref)
	}
	return m.byID[id].Clone(), nil
}

// Search implements Searcher. Results are ordered by url, version and id.
func (m *Memory) Search(ctx context.Context, q Query) (*Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var nodes []artifact.Node
	for _, n := range m.byID {
		if matches(n, q) {
			nodes = append(nodes, n.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Reference.URL != b.Reference.URL {
			return a.Reference.URL < b.Reference.URL
		}
		if a.Reference.Version != b.Reference.Version {
			return a.Reference.Version < b.Reference.Version
		}
		return a.ID < b.ID
	})
	return SliceIterator(ctx, nodes, q.pageSize()), nil
}

// Write implements Writer.
func (m *Memory) Write(ctx context.Context, node artifact.Node) (artifact.Node, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Node{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := node.Reference.Key()
	stored := node.Clone()
	stored.Source = m.name

	if node.ID == "" {
		if _, exists := m.index[key]; exists {
			return artifact.Node{}, artifact.NewConflictError("artifact already exists", nil).
				WithReference(node.Reference).WithOperation("write")
		}
		stored.ID = uuid.New().String()
		stored.Revision = 1
	} else {
		current, ok := m.byID[node.ID]
		if !ok {
			return artifact.Node{}, artifact.NewNotFoundError(node.Reference).WithOperation("write")
		}
		if current.Revision != node.Revision {
			return artifact.Node{}, artifact.NewConflictError("stale revision", nil).
				WithReference(node.Reference).WithOperation("write").
				WithDetail("expected", node.Revision).WithDetail("actual", current.Revision)
		}
		if owner, exists := m.index[key]; exists && owner != node.ID {
			return artifact.Node{}, artifact.NewConflictError("artifact already exists", nil).
				WithReference(node.Reference).WithOperation("write")
		}
		delete(m.index, current.Reference.Key())
		stored.Revision = current.Revision + 1
	}

	m.byID[stored.ID] = stored
	m.index[key] = stored.ID
	return stored.Clone(), nil
}

// Len returns the number of stored artifacts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func matches(n artifact.Node, q Query) bool {
	return (q.URL == "" || n.Reference.URL == q.URL) &&
		(q.Version == "" || n.Reference.Version == q.Version) &&
		(q.Type == "" || n.Reference.Type == q.Type) &&
		(q.Status == "" || string(n.Status) == q.Status)
}
