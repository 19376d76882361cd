package execplan

import "context"

// Results is the terminal sink of a plan: it pulls every child record and
// keeps a copy.
type Results struct {
	OpBase
	rows  []*Record
	limit int
}

// NewResults creates a sink keeping at most limit rows (0 = all). Rows past
// the limit are still pulled so upstream side effects happen.
func NewResults(limit int) *Results {
	return &Results{OpBase: newOpBase("Results"), limit: limit}
}

func (r *Results) Consume(ctx context.Context) (*Record, error) {
	rec, err := r.consumeChild(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	if r.limit == 0 || len(r.rows) < r.limit {
		r.rows = append(r.rows, rec.Clone())
	}
	return rec, nil
}

// Rows returns the collected records.
func (r *Results) Rows() []*Record { return r.rows }

func (r *Results) Reset() error {
	r.rows = r.rows[:0]
	return r.resetChildren()
}

func (r *Results) Free(ctx context.Context) error {
	if !r.beginFree() {
		return nil
	}
	return r.freeChildren(ctx)
}
