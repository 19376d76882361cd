package execplan

import (
	"context"

	"github.com/orneryd/matrixgraph/pkg/graphctx"
	"github.com/orneryd/matrixgraph/pkg/storage"
)

// ExpandConfig configures an Expand operator.
type ExpandConfig struct {
	// SrcSlot holds the node to expand from.
	SrcSlot int
	// EdgeSlot receives each incident edge.
	EdgeSlot int
	// DstSlot receives the node at the other end; negative skips it.
	DstSlot int
	// Direction of traversal relative to the source node.
	Direction storage.Direction
	// Relation restricts the edge type; empty means any type.
	Relation string
}

type expansion struct {
	edge storage.Edge
	node *storage.Node
}

// Expand emits, for each child record, one record per edge incident to the
// node in SrcSlot. Records whose SrcSlot is empty are dropped.
type Expand struct {
	OpBase
	gc  *graphctx.GraphContext
	cfg ExpandConfig

	current *Record
	pending []expansion
	pos     int
}

// NewExpand creates an Expand over gc's graph.
func NewExpand(gc *graphctx.GraphContext, cfg ExpandConfig) *Expand {
	return &Expand{
		OpBase: newOpBase("Conditional Traverse"),
		gc:     gc,
		cfg:    cfg,
	}
}

func (e *Expand) Consume(ctx context.Context) (*Record, error) {
	for {
		if e.current != nil && e.pos < len(e.pending) {
			x := e.pending[e.pos]
			e.pos++
			r := e.current.Clone()
			edge := x.edge
			r.SetEdge(e.cfg.EdgeSlot, &edge)
			if e.cfg.DstSlot >= 0 {
				r.SetNode(e.cfg.DstSlot, x.node)
			}
			return r, nil
		}

		r, err := e.consumeChild(ctx)
		if err != nil || r == nil {
			e.current = nil
			return nil, err
		}
		src, ok := r.GetNode(e.cfg.SrcSlot)
		if !ok {
			continue
		}
		e.current, e.pos = r, 0
		e.load(src.ID)
	}
}

// load materializes the expansions of node under the read lock.
func (e *Expand) load(node storage.NodeID) {
	g := e.gc.Graph
	g.AcquireReadLock()
	defer g.ReleaseLock()

	rel := storage.AnyRelation
	if e.cfg.Relation != "" {
		id, ok := g.RelationID(e.cfg.Relation)
		if !ok {
			e.pending = e.pending[:0]
			return
		}
		rel = id
	}

	e.pending = e.pending[:0]
	for edge := range g.GetNodeEdges(node, e.cfg.Direction, rel) {
		x := expansion{edge: *edge}
		if e.cfg.DstSlot >= 0 {
			other, ok := g.GetNode(edge.Other(node))
			if !ok {
				continue
			}
			x.node = other
		}
		e.pending = append(e.pending, x)
	}
}

func (e *Expand) Reset() error {
	e.current, e.pending, e.pos = nil, e.pending[:0], 0
	return e.resetChildren()
}

func (e *Expand) Free(ctx context.Context) error {
	if !e.beginFree() {
		return nil
	}
	e.current, e.pending = nil, nil
	return e.freeChildren(ctx)
}
