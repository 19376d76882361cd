// Package index maintains exact-match secondary indices over node properties.
//
// An index covers one (label, property) pair and maps each indexed value to
// the set of nodes carrying that label whose property equals it. Indices are
// maintained explicitly: callers index a node after creating it and deindex it
// before deleting it.
package index

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/orneryd/matrixgraph/pkg/storage"
)

var (
	ErrIndexExists   = errors.New("index already exists")
	ErrIndexNotFound = errors.New("index not found")
)

// Key identifies an index.
type Key struct {
	Label    storage.LabelID
	Property string
}

// Index is a single exact-match property index.
type Index struct {
	key     Key
	entries map[any]map[storage.NodeID]struct{}
}

func newIndex(key Key) *Index {
	return &Index{key: key, entries: make(map[any]map[storage.NodeID]struct{})}
}

// Key returns the (label, property) pair the index covers.
func (ix *Index) Key() Key { return ix.key }

// Len returns the number of indexed nodes.
func (ix *Index) Len() int {
	n := 0
	for _, ids := range ix.entries {
		n += len(ids)
	}
	return n
}

func (ix *Index) add(value any, id storage.NodeID) {
	set := ix.entries[value]
	if set == nil {
		set = make(map[storage.NodeID]struct{})
		ix.entries[value] = set
	}
	set[id] = struct{}{}
}

func (ix *Index) remove(value any, id storage.NodeID) bool {
	set := ix.entries[value]
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(ix.entries, value)
	}
	return true
}

// indexable reports whether v can be used as a map key.
func indexable(v any) bool {
	return v != nil && reflect.TypeOf(v).Comparable()
}

// Manager owns every index of one graph.
//
// Manager has its own lock, so lookups are safe without the graph lock; the
// graph-level ordering (deindex before delete) is the caller's job.
type Manager struct {
	mu      sync.RWMutex
	indices map[Key]*Index
}

// NewManager creates an empty index manager.
func NewManager() *Manager {
	return &Manager{indices: make(map[Key]*Index)}
}

// CreateIndex registers an index on (label, property) and populates it from
// nodes, which should hold every live node carrying label.
func (m *Manager) CreateIndex(label storage.LabelID, property string, nodes []*storage.Node) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{Label: label, Property: property}
	if _, ok := m.indices[key]; ok {
		return nil, fmt.Errorf("%w: label %d property %q", ErrIndexExists, label, property)
	}
	ix := newIndex(key)
	for _, n := range nodes {
		if v, ok := n.Properties[property]; ok && n.HasLabel(label) && indexable(v) {
			ix.add(v, n.ID)
		}
	}
	m.indices[key] = ix
	return ix, nil
}

// DropIndex removes an index.
func (m *Manager) DropIndex(label storage.LabelID, property string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{Label: label, Property: property}
	if _, ok := m.indices[key]; !ok {
		return fmt.Errorf("%w: label %d property %q", ErrIndexNotFound, label, property)
	}
	delete(m.indices, key)
	return nil
}

// Indices returns the keys of every index, sorted.
func (m *Manager) Indices() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, 0, len(m.indices))
	for k := range m.indices {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		return cmp.Or(cmp.Compare(a.Label, b.Label), cmp.Compare(a.Property, b.Property))
	})
	return keys
}

// Index adds n to every index covering one of its labels.
func (m *Manager) Index(n *storage.Node) {
	if n == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, ix := range m.indices {
		if !n.HasLabel(key.Label) {
			continue
		}
		if v, ok := n.Properties[key.Property]; ok && indexable(v) {
			ix.add(v, n.ID)
		}
	}
}

// Deindex removes n from every index. Returns the number of index entries
// removed; deindexing a node that was never indexed is a no-op.
func (m *Manager) Deindex(n *storage.Node) int {
	if n == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, ix := range m.indices {
		if !n.HasLabel(key.Label) {
			continue
		}
		if v, ok := n.Properties[key.Property]; ok && indexable(v) && ix.remove(v, n.ID) {
			removed++
		}
	}
	return removed
}

// Lookup returns the IDs of nodes with label whose property equals value,
// ascending.
func (m *Manager) Lookup(label storage.LabelID, property string, value any) ([]storage.NodeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ix, ok := m.indices[Key{Label: label, Property: property}]
	if !ok {
		return nil, fmt.Errorf("%w: label %d property %q", ErrIndexNotFound, label, property)
	}
	if !indexable(value) {
		return nil, nil
	}
	ids := make([]storage.NodeID, 0, len(ix.entries[value]))
	for id := range ix.entries[value] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
