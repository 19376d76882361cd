// Package graphctx binds a graph store to its secondary indices under a name.
//
// A GraphContext is handed to execution-plan operators when the plan is
// built, so operators never look up the "current" graph through shared
// global state.
package graphctx

import (
	"fmt"
	"log/slog"

	"github.com/orneryd/matrixgraph/pkg/index"
	"github.com/orneryd/matrixgraph/pkg/storage"
)

// GraphContext is one named graph and the indices kept over it.
type GraphContext struct {
	Name    string
	Graph   *storage.Graph
	Indices *index.Manager

	logger *slog.Logger
}

// New creates a context for g. A nil indices manager gets an empty one.
func New(name string, g *storage.Graph, indices *index.Manager, logger *slog.Logger) *GraphContext {
	if indices == nil {
		indices = index.NewManager()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphContext{
		Name:    name,
		Graph:   g,
		Indices: indices,
		logger:  logger.With("graph", name),
	}
}

// Logger returns the context's logger, tagged with the graph name.
func (gc *GraphContext) Logger() *slog.Logger {
	return gc.logger
}

// CreateNode creates a node with the named labels and adds it to every
// matching index, both under the write lock.
func (gc *GraphContext) CreateNode(labels []string, props map[string]any) (*storage.Node, error) {
	var n *storage.Node
	err := gc.Graph.WithWriteLock(func() error {
		ids := make([]storage.LabelID, len(labels))
		for i, name := range labels {
			ids[i] = gc.Graph.AddLabel(name)
		}
		var err error
		if n, err = gc.Graph.CreateNode(ids, props); err != nil {
			return err
		}
		gc.Indices.Index(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// CreateEdge creates an edge of the named relation type under the write lock.
func (gc *GraphContext) CreateEdge(relation string, src, dst storage.NodeID, props map[string]any) (*storage.Edge, error) {
	var e *storage.Edge
	err := gc.Graph.WithWriteLock(func() error {
		var err error
		e, err = gc.Graph.CreateEdge(gc.Graph.AddRelation(relation), src, dst, props)
		return err
	})
	return e, err
}

// CreateIndex builds an exact-match index on (label, property) from the
// current contents of the graph. The backfill runs under the write lock so
// no node can be deleted between the scan and the insert.
func (gc *GraphContext) CreateIndex(label, property string) (*index.Index, error) {
	var ix *index.Index
	err := gc.Graph.WithWriteLock(func() error {
		id := gc.Graph.AddLabel(label)
		var nodes []*storage.Node
		for _, nid := range gc.Graph.NodesByLabel(id) {
			if n, ok := gc.Graph.GetNode(nid); ok {
				nodes = append(nodes, n)
			}
		}
		var err error
		ix, err = gc.Indices.CreateIndex(id, property, nodes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", gc.Name, err)
	}
	gc.logger.Info("index created", "label", label, "property", property, "entries", ix.Len())
	return ix, nil
}

// DeleteNodeFromIndices removes n from every secondary index. The delete
// commit calls it under the graph write lock, just before n leaves the graph.
func (gc *GraphContext) DeleteNodeFromIndices(n *storage.Node) {
	gc.Indices.Deindex(n)
}
