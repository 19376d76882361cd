// Package execplan implements pull-based execution plans over a matrix graph.
//
// A plan is a tree of operators. The root pulls records from its children by
// calling Consume repeatedly until it returns a nil record; each operator in
// turn pulls from its own children. Operators never hold the graph lock
// between calls: every Consume takes the read lock briefly and copies the
// entity handles it needs into the record.
//
// Mutating operators such as Delete buffer their effects while records flow
// and apply them in Free, under a single write lock.
package execplan

import (
	"context"
	"errors"
)

// Operator is one node of an execution plan.
type Operator interface {
	// Name identifies the operator in plan descriptions and logs.
	Name() string

	// Consume returns the next record, or (nil, nil) once the operator is
	// depleted.
	Consume(ctx context.Context) (*Record, error)

	// Reset rewinds the operator and its children so the stream can be
	// consumed again.
	Reset() error

	// Free releases the operator's resources and those of its children and
	// applies any buffered side effects. Only the first call has effect.
	Free(ctx context.Context) error

	Children() []Operator
	AddChild(child Operator)
}

// OpBase carries the plumbing shared by every operator. Embed it and
// implement Consume, Reset and Free.
type OpBase struct {
	name     string
	children []Operator
	freed    bool
}

func newOpBase(name string) OpBase {
	return OpBase{name: name}
}

func (b *OpBase) Name() string { return b.name }

func (b *OpBase) Children() []Operator { return b.children }

func (b *OpBase) AddChild(child Operator) {
	b.children = append(b.children, child)
}

// child returns the first child, or nil for a leaf.
func (b *OpBase) child() Operator {
	if len(b.children) == 0 {
		return nil
	}
	return b.children[0]
}

// consumeChild pulls from the first child; a leaf is always depleted.
func (b *OpBase) consumeChild(ctx context.Context) (*Record, error) {
	c := b.child()
	if c == nil {
		return nil, nil
	}
	return c.Consume(ctx)
}

func (b *OpBase) resetChildren() error {
	var errs []error
	for _, c := range b.children {
		errs = append(errs, c.Reset())
	}
	return errors.Join(errs...)
}

// beginFree reports whether this is the first Free call.
func (b *OpBase) beginFree() bool {
	if b.freed {
		return false
	}
	b.freed = true
	return true
}

func (b *OpBase) freeChildren(ctx context.Context) error {
	var errs []error
	for _, c := range b.children {
		errs = append(errs, c.Free(ctx))
	}
	return errors.Join(errs...)
}

// Chain links operators so each is the child of the one before it and
// returns the first, e.g. Chain(results, del, scan).
func Chain(ops ...Operator) Operator {
	for i := 0; i+1 < len(ops); i++ {
		ops[i].AddChild(ops[i+1])
	}
	if len(ops) == 0 {
		return nil
	}
	return ops[0]
}
