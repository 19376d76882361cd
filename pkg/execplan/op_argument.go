package execplan

import "context"

// Argument is a leaf that emits a fixed list of records, e.g. rows bound by
// an outer query. Each record is cloned on emit so downstream operators
// cannot alter the list.
type Argument struct {
	OpBase
	rows []*Record
	pos  int
}

func NewArgument(rows ...*Record) *Argument {
	return &Argument{OpBase: newOpBase("Argument"), rows: rows}
}

func (a *Argument) Consume(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.pos >= len(a.rows) {
		return nil, nil
	}
	r := a.rows[a.pos]
	a.pos++
	return r.Clone(), nil
}

func (a *Argument) Reset() error {
	a.pos = 0
	return a.resetChildren()
}

func (a *Argument) Free(ctx context.Context) error {
	if !a.beginFree() {
		return nil
	}
	a.rows = nil
	return a.freeChildren(ctx)
}
