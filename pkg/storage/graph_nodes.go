package storage

import (
	"fmt"
	"slices"
)

// Node Operations
// ============================================================================

// CreateNode allocates a node with the given labels and properties. The node
// capacity grows if the new ID does not fit; if growth would exceed the
// configured maximum the graph is left untouched and ErrCapacityExceeded is
// returned.
func (g *Graph) CreateNode(labels []LabelID, props map[string]any) (*Node, error) {
	for _, l := range labels {
		if l < 0 || int(l) >= len(g.labels) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownLabel, l)
		}
	}

	if err := g.ensureCapacity(g.nodeIDs.Peek() + 1); err != nil {
		return nil, err
	}
	id := NodeID(g.nodeIDs.Allocate())

	entry := &nodeEntry{
		labels: slices.Compact(slices.Sorted(slices.Values(labels))),
		props:  copyProps(props),
	}
	for uint64(len(g.nodes)) <= uint64(id) {
		g.nodes = append(g.nodes, nil)
	}
	g.nodes[id] = entry

	for _, l := range entry.labels {
		if err := g.labels[l].Set(uint64(id), uint64(id), labelMarker); err != nil {
			return nil, err
		}
	}

	return g.nodeHandle(id, entry), nil
}

// GetNode returns a handle for node id.
func (g *Graph) GetNode(id NodeID) (*Node, bool) {
	entry := g.nodeEntry(id)
	if entry == nil {
		return nil, false
	}
	return g.nodeHandle(id, entry), true
}

// NodeExists reports whether id refers to a live node.
func (g *Graph) NodeExists(id NodeID) bool {
	return g.nodeEntry(id) != nil
}

// NodesByLabel returns the IDs of every node carrying label l, ascending.
func (g *Graph) NodesByLabel(l LabelID) []NodeID {
	m := g.LabelMatrix(l)
	if m == nil {
		return nil
	}
	ids := make([]NodeID, 0, m.NVals())
	m.Each(func(row, _, _ uint64) bool {
		ids = append(ids, NodeID(row))
		return true
	})
	return ids
}

// AllNodeIDs returns the IDs of every live node, ascending.
func (g *Graph) AllNodeIDs() []NodeID {
	ids := make([]NodeID, 0, g.NodeCount())
	for i, entry := range g.nodes {
		if entry != nil {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// DeleteNode removes the node from every label matrix and reclaims its ID.
//
// The caller must have removed every incident edge first. A node that still
// has edges is NOT deleted and ErrDanglingEdges is returned; that signals a
// broken deletion order, not a runtime condition to retry.
//
// Deleting a node that no longer exists returns (false, nil).
func (g *Graph) DeleteNode(n *Node) (bool, error) {
	if n == nil {
		return false, nil
	}
	entry := g.nodeEntry(n.ID)
	if entry == nil {
		return false, nil
	}
	if g.hasIncidentEdges(n.ID) {
		return false, fmt.Errorf("%w: node %d", ErrDanglingEdges, n.ID)
	}

	for _, l := range entry.labels {
		g.labels[l].Clear(uint64(n.ID), uint64(n.ID))
	}
	g.nodes[n.ID] = nil
	if err := g.nodeIDs.Release(uint64(n.ID)); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	return true, nil
}

func (g *Graph) hasIncidentEdges(id NodeID) bool {
	for _, m := range g.relations {
		if !m.RowEmpty(uint64(id)) || !m.ColEmpty(uint64(id)) {
			return true
		}
	}
	return false
}

func (g *Graph) nodeEntry(id NodeID) *nodeEntry {
	if uint64(id) >= uint64(len(g.nodes)) {
		return nil
	}
	return g.nodes[id]
}

func (g *Graph) nodeHandle(id NodeID, entry *nodeEntry) *Node {
	return &Node{
		ID:         id,
		Labels:     slices.Clone(entry.labels),
		Properties: copyProps(entry.props),
	}
}
