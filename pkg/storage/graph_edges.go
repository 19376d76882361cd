package storage

import (
	"fmt"
	"iter"
	"slices"

	"github.com/orneryd/matrixgraph/pkg/matrix"
)

// Edge Operations
// ============================================================================

// CreateEdge allocates an edge of relation type rel from src to dst.
//
// If an edge of the same type already connects src to dst, the matrix entry
// is turned into (or extended as) a parallel-edge list instead of being
// overwritten.
func (g *Graph) CreateEdge(rel RelationID, src, dst NodeID, props map[string]any) (*Edge, error) {
	m := g.RelationMatrix(rel)
	if m == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRelation, rel)
	}
	if !g.NodeExists(src) {
		return nil, fmt.Errorf("%w: source node %d", ErrNotFound, src)
	}
	if !g.NodeExists(dst) {
		return nil, fmt.Errorf("%w: destination node %d", ErrNotFound, dst)
	}

	id := EdgeID(g.edgeIDs.Allocate())
	if err := g.linkEdge(m, id, src, dst); err != nil {
		_ = g.edgeIDs.Release(uint64(id))
		return nil, err
	}

	entry := &edgeEntry{rel: rel, src: src, dst: dst, props: copyProps(props)}
	for uint64(len(g.edges)) <= uint64(id) {
		g.edges = append(g.edges, nil)
	}
	g.edges[id] = entry

	return g.edgeHandle(id, entry), nil
}

// linkEdge records id in the (src, dst) entry of m.
func (g *Graph) linkEdge(m *matrix.Matrix, id EdgeID, src, dst NodeID) error {
	i, j := uint64(src), uint64(dst)
	v, exists := m.Get(i, j)
	switch {
	case !exists:
		return m.Set(i, j, uint64(id))
	case v&multiEdgeFlag == 0:
		slot := g.multiIDs.Allocate()
		g.multiEdges[slot] = []EdgeID{EdgeID(v), id}
		return m.Set(i, j, slot|multiEdgeFlag)
	default:
		slot := v &^ multiEdgeFlag
		g.multiEdges[slot] = append(g.multiEdges[slot], id)
		return nil
	}
}

// unlinkEdge removes id from the (src, dst) entry of m. The matrix entry is
// cleared only when id was the last edge it referenced. Returns false if id
// was not referenced by the entry.
func (g *Graph) unlinkEdge(m *matrix.Matrix, id EdgeID, src, dst NodeID) bool {
	i, j := uint64(src), uint64(dst)
	v, exists := m.Get(i, j)
	if !exists {
		return false
	}
	if v&multiEdgeFlag == 0 {
		if EdgeID(v) != id {
			return false
		}
		m.Clear(i, j)
		return true
	}

	slot := v &^ multiEdgeFlag
	list := g.multiEdges[slot]
	pos := slices.Index(list, id)
	if pos < 0 {
		return false
	}
	list[pos] = list[len(list)-1]
	list = list[:len(list)-1]

	switch len(list) {
	case 0:
		m.Clear(i, j)
		g.freeMultiSlot(slot)
	case 1:
		// Collapse back to a single edge entry.
		_ = m.Set(i, j, uint64(list[0]))
		g.freeMultiSlot(slot)
	default:
		g.multiEdges[slot] = list
	}
	return true
}

func (g *Graph) freeMultiSlot(slot uint64) {
	delete(g.multiEdges, slot)
	_ = g.multiIDs.Release(slot)
}

// GetEdge returns a handle for edge id.
func (g *Graph) GetEdge(id EdgeID) (*Edge, bool) {
	entry := g.edgeEntry(id)
	if entry == nil {
		return nil, false
	}
	return g.edgeHandle(id, entry), true
}

// EdgeExists reports whether id refers to a live edge.
func (g *Graph) EdgeExists(id EdgeID) bool {
	return g.edgeEntry(id) != nil
}

// AllEdgeIDs returns the IDs of every live edge, ascending.
func (g *Graph) AllEdgeIDs() []EdgeID {
	ids := make([]EdgeID, 0, g.EdgeCount())
	for i, entry := range g.edges {
		if entry != nil {
			ids = append(ids, EdgeID(i))
		}
	}
	return ids
}

// EdgesConnecting returns every edge from src to dst of relation rel
// (AnyRelation for all types).
func (g *Graph) EdgesConnecting(src, dst NodeID, rel RelationID) []*Edge {
	var out []*Edge
	for r, m := range g.relations {
		if rel != AnyRelation && RelationID(r) != rel {
			continue
		}
		if v, ok := m.Get(uint64(src), uint64(dst)); ok {
			out = g.appendEntryEdges(out, v)
		}
	}
	return out
}

// GetNodeEdges returns the edges incident to node in direction dir, limited to
// relation rel (AnyRelation for all types).
//
// The sequence is lazy and finite: it scans the node's row and/or column of
// each selected relation matrix while it is ranged over. It is one-shot and
// must be consumed while the caller still holds the graph lock. With DirBoth
// a self loop is yielded once.
func (g *Graph) GetNodeEdges(node NodeID, dir Direction, rel RelationID) iter.Seq[*Edge] {
	return func(yield func(*Edge) bool) {
		for r, m := range g.relations {
			if rel != AnyRelation && RelationID(r) != rel {
				continue
			}
			stop := false
			if dir == DirOutgoing || dir == DirBoth {
				m.Row(uint64(node), func(_, v uint64) bool {
					stop = !g.yieldEntryEdges(v, yield)
					return !stop
				})
			}
			if stop {
				return
			}
			if dir == DirIncoming || dir == DirBoth {
				m.Col(uint64(node), func(row, v uint64) bool {
					if dir == DirBoth && row == uint64(node) {
						return true
					}
					stop = !g.yieldEntryEdges(v, yield)
					return !stop
				})
			}
			if stop {
				return
			}
		}
	}
}

// CollectNodeEdges appends the edges incident to node to dst and returns the
// extended slice.
func (g *Graph) CollectNodeEdges(dst []Edge, node NodeID, dir Direction, rel RelationID) []Edge {
	for e := range g.GetNodeEdges(node, dir, rel) {
		dst = append(dst, *e)
	}
	return dst
}

func (g *Graph) yieldEntryEdges(v uint64, yield func(*Edge) bool) bool {
	if v&multiEdgeFlag == 0 {
		if entry := g.edgeEntry(EdgeID(v)); entry != nil {
			return yield(g.edgeHandle(EdgeID(v), entry))
		}
		return true
	}
	for _, id := range g.multiEdges[v&^multiEdgeFlag] {
		if entry := g.edgeEntry(id); entry != nil {
			if !yield(g.edgeHandle(id, entry)) {
				return false
			}
		}
	}
	return true
}

func (g *Graph) appendEntryEdges(out []*Edge, v uint64) []*Edge {
	g.yieldEntryEdges(v, func(e *Edge) bool {
		out = append(out, e)
		return true
	})
	return out
}

// DeleteEdgeCascade removes e as part of deleting one of its endpoints.
//
// The caller guarantees e is live, appears once in the current deletion
// batch, and is referenced by nothing else, so no liveness or handle checks
// are made. It always reports a deletion.
func (g *Graph) DeleteEdgeCascade(e *Edge) bool {
	g.unlinkEdge(g.relations[e.Relation], e.ID, e.Src, e.Dst)
	g.edges[e.ID] = nil
	_ = g.edgeIDs.Release(uint64(e.ID))
	return true
}

// DeleteEdgeExplicit removes e after verifying it is still live and still
// matches the stored edge. When parallel edges of the same type connect the
// same endpoints only e is removed and the matrix entry survives.
//
// Returns false when nothing was deleted, e.g. the edge is already gone.
func (g *Graph) DeleteEdgeExplicit(e *Edge) bool {
	if e == nil {
		return false
	}
	entry := g.edgeEntry(e.ID)
	if entry == nil || entry.rel != e.Relation || entry.src != e.Src || entry.dst != e.Dst {
		return false
	}
	m := g.RelationMatrix(entry.rel)
	if m == nil || !g.unlinkEdge(m, e.ID, entry.src, entry.dst) {
		g.logger.Warn("live edge missing from relation matrix",
			"edge", e.ID, "relation", g.RelationName(entry.rel), "src", entry.src, "dst", entry.dst)
		return false
	}
	g.edges[e.ID] = nil
	// The edge is gone from the graph either way, so it counts as deleted.
	if err := g.edgeIDs.Release(uint64(e.ID)); err != nil {
		g.logger.Error("edge deleted but its ID was not released", "edge", e.ID, "error", err)
	}
	return true
}

func (g *Graph) edgeEntry(id EdgeID) *edgeEntry {
	if uint64(id) >= uint64(len(g.edges)) {
		return nil
	}
	return g.edges[id]
}

func (g *Graph) edgeHandle(id EdgeID, entry *edgeEntry) *Edge {
	return &Edge{
		ID:         id,
		Relation:   entry.rel,
		Src:        entry.src,
		Dst:        entry.dst,
		Properties: copyProps(entry.props),
	}
}
