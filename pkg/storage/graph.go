package storage

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/orneryd/matrixgraph/pkg/matrix"
)

const (
	// DefaultInitialCapacity is the matrix dimension of a new graph.
	DefaultInitialCapacity uint64 = 16

	// multiEdgeFlag marks a relation matrix entry that references a list of
	// parallel edges instead of a single edge ID.
	multiEdgeFlag uint64 = 1 << 63

	// labelMarker is the value stored on a label matrix diagonal.
	labelMarker uint64 = 1
)

// Options configures a Graph.
type Options struct {
	// InitialCapacity is the starting node capacity (matrix dimension).
	// Zero means DefaultInitialCapacity.
	InitialCapacity uint64

	// MaxCapacity caps node capacity growth. Zero means unlimited.
	MaxCapacity uint64

	// Logger receives allocator warnings and integrity diagnostics.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

type nodeEntry struct {
	labels []LabelID
	props  map[string]any
}

type edgeEntry struct {
	rel   RelationID
	src   NodeID
	dst   NodeID
	props map[string]any
}

// Graph is the matrix-backed graph store.
//
// All methods except the lock helpers assume the caller holds the graph lock:
// a read lock for lookups, the write lock for anything that mutates.
type Graph struct {
	mu          sync.RWMutex
	writeLocked atomic.Bool

	nodes   []*nodeEntry
	edges   []*edgeEntry
	nodeIDs *IDAllocator
	edgeIDs *IDAllocator

	labels        []*matrix.Matrix
	labelNames    []string
	labelIndex    map[string]LabelID
	relations     []*matrix.Matrix
	relationNames []string
	relationIndex map[string]RelationID

	// Parallel edge lists, referenced from relation matrix entries that carry
	// multiEdgeFlag.
	multiEdges map[uint64][]EdgeID
	multiIDs   *IDAllocator

	capacity    uint64
	maxCapacity uint64
	policy      matrix.Policy

	logger *slog.Logger
}

// NewGraph creates an empty graph.
func NewGraph(opts Options) *Graph {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := opts.InitialCapacity
	if capacity == 0 {
		capacity = DefaultInitialCapacity
	}
	if opts.MaxCapacity > 0 && capacity > opts.MaxCapacity {
		capacity = opts.MaxCapacity
	}
	return &Graph{
		nodeIDs:       NewIDAllocator("node", logger),
		edgeIDs:       NewIDAllocator("edge", logger),
		multiIDs:      NewIDAllocator("multi-edge list", logger),
		labelIndex:    make(map[string]LabelID),
		relationIndex: make(map[string]RelationID),
		multiEdges:    make(map[uint64][]EdgeID),
		capacity:      capacity,
		maxCapacity:   opts.MaxCapacity,
		logger:        logger,
	}
}

// ============================================================================
// Locking
// ============================================================================

// AcquireReadLock takes the graph lock for reading.
func (g *Graph) AcquireReadLock() {
	g.mu.RLock()
}

// AcquireWriteLock takes the graph lock exclusively.
func (g *Graph) AcquireWriteLock() {
	g.mu.Lock()
	g.writeLocked.Store(true)
}

// ReleaseLock releases whichever lock the caller holds.
func (g *Graph) ReleaseLock() {
	if g.writeLocked.CompareAndSwap(true, false) {
		g.mu.Unlock()
		return
	}
	g.mu.RUnlock()
}

// WithWriteLock runs fn under the write lock. The lock is released on every
// exit path; a panic inside fn is converted into an ErrInvariant error.
func (g *Graph) WithWriteLock(fn func() error) (err error) {
	g.AcquireWriteLock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvariant, r)
		}
		g.ReleaseLock()
	}()
	return fn()
}

// WithReadLock runs fn under the read lock.
func (g *Graph) WithReadLock(fn func() error) error {
	g.AcquireReadLock()
	defer g.ReleaseLock()
	return fn()
}

// ============================================================================
// Matrix policy and capacity
// ============================================================================

// SetMatrixPolicy applies p to every label and relation matrix. Restoring
// PolicyEager syncs all deferred mutations.
func (g *Graph) SetMatrixPolicy(p matrix.Policy) {
	for _, m := range g.labels {
		m.SetPolicy(p)
	}
	for _, m := range g.relations {
		m.SetPolicy(p)
	}
	g.policy = p
}

// MatrixPolicy returns the current policy.
func (g *Graph) MatrixPolicy() matrix.Policy {
	return g.policy
}

// Capacity returns the current node capacity (matrix dimension).
func (g *Graph) Capacity() uint64 {
	return g.capacity
}

// ensureCapacity grows every matrix so node index n-1 fits. Either all
// matrices grow or none do.
func (g *Graph) ensureCapacity(n uint64) error {
	if n <= g.capacity {
		return nil
	}
	if g.maxCapacity > 0 && n > g.maxCapacity {
		return fmt.Errorf("%w: need %d, max %d", ErrCapacityExceeded, n, g.maxCapacity)
	}
	newCap := max(g.capacity*2, n)
	if g.maxCapacity > 0 {
		newCap = min(newCap, g.maxCapacity)
	}
	for _, m := range g.labels {
		if err := m.Resize(newCap); err != nil {
			return err
		}
	}
	for _, m := range g.relations {
		if err := m.Resize(newCap); err != nil {
			return err
		}
	}
	g.capacity = newCap
	return nil
}

func (g *Graph) newMatrix() *matrix.Matrix {
	m := matrix.New(g.capacity)
	m.SetPolicy(g.policy)
	return m
}

// ============================================================================
// Schema registries
// ============================================================================

// AddLabel returns the ID of label name, creating its matrix if needed.
func (g *Graph) AddLabel(name string) LabelID {
	if id, ok := g.labelIndex[name]; ok {
		return id
	}
	id := LabelID(len(g.labels))
	g.labels = append(g.labels, g.newMatrix())
	g.labelNames = append(g.labelNames, name)
	g.labelIndex[name] = id
	return id
}

// LabelID looks up a label by name.
func (g *Graph) LabelID(name string) (LabelID, bool) {
	id, ok := g.labelIndex[name]
	return id, ok
}

// LabelName returns the name of label id, or "" if unknown.
func (g *Graph) LabelName(id LabelID) string {
	if id < 0 || int(id) >= len(g.labelNames) {
		return ""
	}
	return g.labelNames[id]
}

// LabelCount returns the number of registered labels.
func (g *Graph) LabelCount() int {
	return len(g.labels)
}

// AddRelation returns the ID of relation type name, creating its matrix if
// needed.
func (g *Graph) AddRelation(name string) RelationID {
	if id, ok := g.relationIndex[name]; ok {
		return id
	}
	id := RelationID(len(g.relations))
	g.relations = append(g.relations, g.newMatrix())
	g.relationNames = append(g.relationNames, name)
	g.relationIndex[name] = id
	return id
}

// RelationID looks up a relation type by name.
func (g *Graph) RelationID(name string) (RelationID, bool) {
	id, ok := g.relationIndex[name]
	return id, ok
}

// RelationName returns the name of relation id, or "" if unknown.
func (g *Graph) RelationName(id RelationID) string {
	if id < 0 || int(id) >= len(g.relationNames) {
		return ""
	}
	return g.relationNames[id]
}

// RelationCount returns the number of registered relation types.
func (g *Graph) RelationCount() int {
	return len(g.relations)
}

// LabelMatrix exposes the matrix of label l for inspection.
func (g *Graph) LabelMatrix(l LabelID) *matrix.Matrix {
	if l < 0 || int(l) >= len(g.labels) {
		return nil
	}
	return g.labels[l]
}

// RelationMatrix exposes the adjacency matrix of relation r for inspection.
func (g *Graph) RelationMatrix(r RelationID) *matrix.Matrix {
	if r < 0 || int(r) >= len(g.relations) {
		return nil
	}
	return g.relations[r]
}

// ============================================================================
// Counts
// ============================================================================

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() uint64 {
	return g.nodeIDs.Count()
}

// EdgeCount returns the number of live edges.
func (g *Graph) EdgeCount() uint64 {
	return g.edgeIDs.Count()
}
