package execplan

import (
	"fmt"
	"strings"

	"github.com/orneryd/matrixgraph/pkg/storage"
)

// Kind tags what a record slot holds.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindNode
	KindEdge
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	case KindScalar:
		return "scalar"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one record slot.
type Value struct {
	Kind   Kind
	Node   *storage.Node
	Edge   *storage.Edge
	Scalar any
}

// Record is one row flowing through a plan. Slots are addressed by an index
// fixed when the plan is built; setting a slot beyond the current length
// grows the record.
type Record struct {
	values []Value
}

// NewRecord creates a record with size empty slots.
func NewRecord(size int) *Record {
	return &Record{values: make([]Value, size)}
}

// Len returns the number of slots.
func (r *Record) Len() int { return len(r.values) }

func (r *Record) slot(idx int) *Value {
	if idx < 0 {
		panic(fmt.Sprintf("execplan: negative record slot %d", idx))
	}
	for len(r.values) <= idx {
		r.values = append(r.values, Value{})
	}
	return &r.values[idx]
}

// Get returns slot idx; out-of-range slots read as empty.
func (r *Record) Get(idx int) Value {
	if idx < 0 || idx >= len(r.values) {
		return Value{}
	}
	return r.values[idx]
}

// SetNode stores a node handle in slot idx.
func (r *Record) SetNode(idx int, n *storage.Node) {
	*r.slot(idx) = Value{Kind: KindNode, Node: n}
}

// GetNode returns the node in slot idx, if the slot holds one.
func (r *Record) GetNode(idx int) (*storage.Node, bool) {
	v := r.Get(idx)
	return v.Node, v.Kind == KindNode && v.Node != nil
}

// SetEdge stores an edge handle in slot idx.
func (r *Record) SetEdge(idx int, e *storage.Edge) {
	*r.slot(idx) = Value{Kind: KindEdge, Edge: e}
}

// GetEdge returns the edge in slot idx, if the slot holds one.
func (r *Record) GetEdge(idx int) (*storage.Edge, bool) {
	v := r.Get(idx)
	return v.Edge, v.Kind == KindEdge && v.Edge != nil
}

// SetScalar stores a plain value in slot idx.
func (r *Record) SetScalar(idx int, v any) {
	*r.slot(idx) = Value{Kind: KindScalar, Scalar: v}
}

// GetScalar returns the scalar in slot idx, if the slot holds one.
func (r *Record) GetScalar(idx int) (any, bool) {
	v := r.Get(idx)
	return v.Scalar, v.Kind == KindScalar
}

// Clone returns a copy of r. Entity handles are shared, not deep-copied.
func (r *Record) Clone() *Record {
	out := &Record{values: make([]Value, len(r.values))}
	copy(out.values, r.values)
	return out
}

func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range r.values {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch v.Kind {
		case KindNode:
			fmt.Fprintf(&sb, "(%d)", v.Node.ID)
		case KindEdge:
			fmt.Fprintf(&sb, "[%d]", v.Edge.ID)
		case KindScalar:
			fmt.Fprintf(&sb, "%v", v.Scalar)
		default:
			sb.WriteString("_")
		}
	}
	sb.WriteByte(']')
	return sb.String()
}
