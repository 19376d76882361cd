package graphctx

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/orneryd/matrixgraph/pkg/storage"
)

var (
	ErrGraphNotFound     = errors.New("graph not found")
	ErrGraphExists       = errors.New("graph already exists")
	ErrInvalidGraphName  = errors.New("invalid graph name")
	ErrMaxGraphsReached  = errors.New("maximum number of graphs reached")
	ErrCannotDropDefault = errors.New("cannot drop default graph")
)

// GraphInfo holds metadata about a registered graph.
type GraphInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	IsDefault bool      `json:"is_default"`
	NodeCount uint64    `json:"node_count"`
	EdgeCount uint64    `json:"edge_count"`
}

// RegistryConfig holds Registry configuration.
type RegistryConfig struct {
	// DefaultGraph is created on construction and used when no name is given.
	DefaultGraph string

	// MaxGraphs limits the number of graphs (0 = unlimited).
	MaxGraphs int

	// Graph options applied to every new graph.
	GraphOptions storage.Options
}

// Registry manages the named graphs of one process.
//
// Thread-safe: all operations are protected by mutex.
type Registry struct {
	mu      sync.RWMutex
	graphs  map[string]*GraphContext
	created map[string]time.Time
	config  RegistryConfig
	logger  *slog.Logger
}

// NewRegistry creates a registry holding the default graph.
func NewRegistry(config RegistryConfig, logger *slog.Logger) (*Registry, error) {
	if config.DefaultGraph == "" {
		config.DefaultGraph = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		graphs:  make(map[string]*GraphContext),
		created: make(map[string]time.Time),
		config:  config,
		logger:  logger,
	}
	if _, err := r.Create(config.DefaultGraph); err != nil {
		return nil, err
	}
	return r, nil
}

func validName(name string) bool {
	return name != "" && strings.TrimSpace(name) == name && !strings.ContainsAny(name, ":/")
}

// Create registers a new empty graph.
func (r *Registry) Create(name string) (*GraphContext, error) {
	if !validName(name) {
		return nil, ErrInvalidGraphName
	}
	opts := r.config.GraphOptions
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	return r.Attach(name, storage.NewGraph(opts))
}

// Attach registers an existing graph, e.g. one loaded from a snapshot.
func (r *Registry) Attach(name string, g *storage.Graph) (*GraphContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !validName(name) {
		return nil, ErrInvalidGraphName
	}
	if _, exists := r.graphs[name]; exists {
		return nil, ErrGraphExists
	}
	if r.config.MaxGraphs > 0 && len(r.graphs) >= r.config.MaxGraphs {
		return nil, ErrMaxGraphsReached
	}
	gc := New(name, g, nil, r.logger)
	r.graphs[name] = gc
	r.created[name] = time.Now()
	return gc, nil
}

// Replace swaps the graph stored under an existing name, e.g. after reloading
// it from a snapshot. The old graph's indices are discarded.
func (r *Registry) Replace(name string, g *storage.Graph) (*GraphContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.graphs[name]; !exists {
		return nil, ErrGraphNotFound
	}
	gc := New(name, g, nil, r.logger)
	r.graphs[name] = gc
	return gc, nil
}

// Get returns the named graph. An empty name selects the default graph.
func (r *Registry) Get(name string) (*GraphContext, error) {
	if name == "" {
		name = r.config.DefaultGraph
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	gc, ok := r.graphs[name]
	if !ok {
		return nil, ErrGraphNotFound
	}
	return gc, nil
}

// Default returns the default graph.
func (r *Registry) Default() *GraphContext {
	gc, _ := r.Get("")
	return gc
}

// Drop removes a graph. The default graph cannot be dropped.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.graphs[name]; !exists {
		return ErrGraphNotFound
	}
	if name == r.config.DefaultGraph {
		return ErrCannotDropDefault
	}
	delete(r.graphs, name)
	delete(r.created, name)
	return nil
}

// List returns metadata for every graph, sorted by name.
func (r *Registry) List() []*GraphInfo {
	r.mu.RLock()
	contexts := make([]*GraphContext, 0, len(r.graphs))
	for _, gc := range r.graphs {
		contexts = append(contexts, gc)
	}
	created := maps.Clone(r.created)
	r.mu.RUnlock()

	infos := make([]*GraphInfo, 0, len(contexts))
	for _, gc := range contexts {
		info := &GraphInfo{
			Name:      gc.Name,
			CreatedAt: created[gc.Name],
			IsDefault: gc.Name == r.config.DefaultGraph,
		}
		_ = gc.Graph.WithReadLock(func() error {
			info.NodeCount = gc.Graph.NodeCount()
			info.EdgeCount = gc.Graph.EdgeCount()
			return nil
		})
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b *GraphInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}
