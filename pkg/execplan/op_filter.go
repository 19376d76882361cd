package execplan

import (
	"context"
	"reflect"
)

// Predicate decides whether a record passes a Filter.
type Predicate func(r *Record) (bool, error)

// Filter forwards only the child records that satisfy a predicate.
type Filter struct {
	OpBase
	pred Predicate
}

func NewFilter(pred Predicate) *Filter {
	return &Filter{OpBase: newOpBase("Filter"), pred: pred}
}

func (f *Filter) Consume(ctx context.Context) (*Record, error) {
	for {
		r, err := f.consumeChild(ctx)
		if err != nil || r == nil {
			return nil, err
		}
		ok, err := f.pred(r)
		if err != nil {
			return nil, err
		}
		if ok {
			return r, nil
		}
	}
}

func (f *Filter) Reset() error { return f.resetChildren() }

func (f *Filter) Free(ctx context.Context) error {
	if !f.beginFree() {
		return nil
	}
	return f.freeChildren(ctx)
}

// PropertyEquals passes records whose node in slot has property key equal to
// value.
func PropertyEquals(slot int, key string, value any) Predicate {
	return func(r *Record) (bool, error) {
		n, ok := r.GetNode(slot)
		if !ok {
			return false, nil
		}
		v, ok := n.Properties[key]
		if !ok || !isComparable(v) || !isComparable(value) {
			return false, nil
		}
		return v == value, nil
	}
}

func isComparable(v any) bool {
	return v != nil && reflect.TypeOf(v).Comparable()
}
