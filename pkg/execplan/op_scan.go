package execplan

import (
	"context"

	"github.com/orneryd/matrixgraph/pkg/graphctx"
	"github.com/orneryd/matrixgraph/pkg/storage"
)

// nodeScan streams the nodes of a precomputed ID list. The list is taken on
// the first Consume; nodes deleted since are skipped.
type nodeScan struct {
	OpBase
	gc     *graphctx.GraphContext
	slot   int
	list   func(g *storage.Graph) []storage.NodeID
	ids    []storage.NodeID
	pos    int
	loaded bool
}

func (s *nodeScan) Consume(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := s.gc.Graph
	if !s.loaded {
		g.AcquireReadLock()
		s.ids = s.list(g)
		g.ReleaseLock()
		s.loaded = true
	}
	for s.pos < len(s.ids) {
		id := s.ids[s.pos]
		s.pos++
		g.AcquireReadLock()
		n, ok := g.GetNode(id)
		g.ReleaseLock()
		if !ok {
			continue
		}
		r := NewRecord(s.slot + 1)
		r.SetNode(s.slot, n)
		return r, nil
	}
	return nil, nil
}

func (s *nodeScan) Reset() error {
	s.ids, s.pos, s.loaded = nil, 0, false
	return s.resetChildren()
}

func (s *nodeScan) Free(ctx context.Context) error {
	if !s.beginFree() {
		return nil
	}
	s.ids = nil
	return s.freeChildren(ctx)
}

// AllNodeScan emits one record per live node, in ascending ID order, with
// the node in slot.
type AllNodeScan struct {
	nodeScan
}

// NewAllNodeScan creates a scan over every node of gc's graph.
func NewAllNodeScan(gc *graphctx.GraphContext, slot int) *AllNodeScan {
	return &AllNodeScan{nodeScan{
		OpBase: newOpBase("All Node Scan"),
		gc:     gc,
		slot:   slot,
		list:   (*storage.Graph).AllNodeIDs,
	}}
}

// LabelScan emits one record per node carrying label, read from the label
// matrix diagonal.
type LabelScan struct {
	nodeScan
	label string
}

// NewLabelScan creates a scan over the nodes labeled label. An unknown label
// yields no records.
func NewLabelScan(gc *graphctx.GraphContext, label string, slot int) *LabelScan {
	return &LabelScan{
		nodeScan: nodeScan{
			OpBase: newOpBase("Node By Label Scan"),
			gc:     gc,
			slot:   slot,
			list: func(g *storage.Graph) []storage.NodeID {
				id, ok := g.LabelID(label)
				if !ok {
					return nil
				}
				return g.NodesByLabel(id)
			},
		},
		label: label,
	}
}

// Label returns the scanned label name.
func (s *LabelScan) Label() string { return s.label }
