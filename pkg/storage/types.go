// Package storage provides the matrix-backed graph store for matrixgraph.
//
// Topology lives in sparse matrices rather than pointer-linked records:
//   - one adjacency matrix per relation type, entry (src, dst) references the
//     edge (or a list of parallel edges) of that type from src to dst
//   - one label matrix per label, with a diagonal entry (n, n) for every node
//     carrying the label
//
// Nodes and edges are addressed by dense integer IDs handed out by an
// IDAllocator, which recycles the IDs freed by deletions.
//
// Locking:
//
// The Graph owns a single graph-wide read/write lock. Graph methods do NOT
// take the lock themselves; the caller brackets them with AcquireReadLock /
// AcquireWriteLock and ReleaseLock (or WithWriteLock). This lets a mutation
// pipeline run many primitives inside one critical section.
//
// Example Usage:
//
//	g := storage.NewGraph(storage.Options{})
//	g.AcquireWriteLock()
//	person := g.AddLabel("Person")
//	knows := g.AddRelation("KNOWS")
//	a, _ := g.CreateNode([]storage.LabelID{person}, nil)
//	b, _ := g.CreateNode([]storage.LabelID{person}, nil)
//	g.CreateEdge(knows, a.ID, b.ID, nil)
//	g.ReleaseLock()
package storage

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidData      = errors.New("invalid data")
	ErrUnknownLabel     = errors.New("unknown label")
	ErrUnknownRelation  = errors.New("unknown relation type")
	ErrCapacityExceeded = errors.New("node capacity exceeded")
	ErrIDNotAllocated   = errors.New("id not allocated")
	ErrSnapshotCorrupt  = errors.New("snapshot corrupt")

	// ErrInvariant marks a broken graph invariant. It is a programming error,
	// never a recoverable runtime condition.
	ErrInvariant = errors.New("graph invariant violated")

	// ErrDanglingEdges is returned when a node is deleted while edges still
	// reference it.
	ErrDanglingEdges = fmt.Errorf("%w: node still has incident edges", ErrInvariant)
)

// NodeID identifies a node. Unique among live nodes; reused after deletion.
type NodeID uint64

// EdgeID identifies an edge. Unique among live edges; reused after deletion.
type EdgeID uint64

// LabelID indexes a label matrix.
type LabelID int

// RelationID indexes a relation-type adjacency matrix.
type RelationID int

// AnyRelation matches every relation type in edge lookups.
const AnyRelation RelationID = -1

// Direction selects which incident edges a lookup returns.
type Direction int

const (
	// DirOutgoing returns edges whose source is the node.
	DirOutgoing Direction = iota
	// DirIncoming returns edges whose destination is the node.
	DirIncoming
	// DirBoth returns both, each edge once.
	DirBoth
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirOutgoing:
		return "outgoing"
	case DirIncoming:
		return "incoming"
	case DirBoth:
		return "both"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Node is a handle to a graph node. Handles are copies: mutating one does not
// change the stored node.
type Node struct {
	ID         NodeID
	Labels     []LabelID
	Properties map[string]any
}

// Edge is a handle to a graph edge.
type Edge struct {
	ID         EdgeID
	Relation   RelationID
	Src        NodeID
	Dst        NodeID
	Properties map[string]any
}

// HasLabel reports whether the node carries label l.
func (n *Node) HasLabel(l LabelID) bool {
	for _, have := range n.Labels {
		if have == l {
			return true
		}
	}
	return false
}

// Other returns the endpoint of e that is not id. For self loops it returns id.
func (e *Edge) Other(id NodeID) NodeID {
	if e.Src == id {
		return e.Dst
	}
	return e.Src
}

func copyProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
