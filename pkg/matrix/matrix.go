// Package matrix provides the sparse matrix kernel used by the graph store.
//
// A Matrix is a square, sparse matrix of uint64 values addressed by
// (row, col). Relation-type adjacency matrices store edge references in their
// entries; label matrices store a marker on the diagonal.
//
// Synchronization Policy:
//
// Every matrix carries a policy that controls when internal restructuring
// happens:
//   - PolicyEager: each Set/Clear is applied to the compact row and column
//     maps immediately and empty rows are reclaimed on the spot.
//   - PolicyDeferred: mutations are recorded in a delta layer in O(1) and a
//     single Sync pass folds them into the compact maps. Reads merge the
//     compact maps with the delta layer, so every query returns exactly what
//     it would under PolicyEager.
//
// The policy is a performance knob only. Switching back to PolicyEager syncs
// the matrix.
//
// Thread Safety:
//
//	A Matrix is not safe for concurrent mutation. Readers may run concurrently
//	with each other as long as no writer is active; the graph store guarantees
//	this with its graph-wide read/write lock.
package matrix

import (
	"errors"
	"fmt"
	"slices"
)

// Errors returned by matrix operations.
var (
	ErrOutOfBounds = errors.New("matrix: index out of bounds")
	ErrShrink      = errors.New("matrix: cannot shrink dimension")
)

// Policy selects eager or deferred restructuring.
type Policy int

const (
	// PolicyEager applies every mutation to the compact storage immediately.
	PolicyEager Policy = iota
	// PolicyDeferred batches mutations until Sync.
	PolicyDeferred
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyEager:
		return "eager"
	case PolicyDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// pending is one deferred mutation: a new value or a tombstone.
type pending struct {
	val     uint64
	deleted bool
}

// Matrix is a square sparse matrix of uint64 values.
type Matrix struct {
	dim uint64

	// Compact storage. cols is the transpose index used for column scans.
	rows map[uint64]map[uint64]uint64
	cols map[uint64]map[uint64]struct{}

	// Delta layer, only populated under PolicyDeferred.
	drows map[uint64]map[uint64]pending
	dcols map[uint64]map[uint64]struct{}
	npend int

	nvals  uint64
	policy Policy
}

// New creates an empty dim x dim matrix using PolicyEager.
func New(dim uint64) *Matrix {
	return &Matrix{
		dim:   dim,
		rows:  make(map[uint64]map[uint64]uint64),
		cols:  make(map[uint64]map[uint64]struct{}),
		drows: make(map[uint64]map[uint64]pending),
		dcols: make(map[uint64]map[uint64]struct{}),
	}
}

// Dim returns the matrix dimension.
func (m *Matrix) Dim() uint64 { return m.dim }

// NVals returns the number of stored entries, including deferred ones.
func (m *Matrix) NVals() uint64 { return m.nvals }

// Pending returns the number of deferred mutations not yet synced.
func (m *Matrix) Pending() int { return m.npend }

// Policy returns the current synchronization policy.
func (m *Matrix) Policy() Policy { return m.policy }

// SetPolicy switches the synchronization policy. Moving to PolicyEager
// flushes any deferred mutations first.
func (m *Matrix) SetPolicy(p Policy) {
	if p == PolicyEager && m.npend > 0 {
		m.Sync()
	}
	m.policy = p
}

// Resize grows the matrix to dim. Storage is sparse, so growth never moves
// entries and cannot fail part way.
func (m *Matrix) Resize(dim uint64) error {
	if dim < m.dim {
		return fmt.Errorf("%w: %d -> %d", ErrShrink, m.dim, dim)
	}
	m.dim = dim
	return nil
}

func (m *Matrix) checkBounds(i, j uint64) error {
	if i >= m.dim || j >= m.dim {
		return fmt.Errorf("%w: (%d, %d) dim=%d", ErrOutOfBounds, i, j, m.dim)
	}
	return nil
}

// Get returns the value stored at (i, j).
func (m *Matrix) Get(i, j uint64) (uint64, bool) {
	if d, ok := m.drows[i][j]; ok {
		if d.deleted {
			return 0, false
		}
		return d.val, true
	}
	v, ok := m.rows[i][j]
	return v, ok
}

// Set stores v at (i, j), overwriting any previous value.
func (m *Matrix) Set(i, j, v uint64) error {
	if err := m.checkBounds(i, j); err != nil {
		return err
	}
	if _, exists := m.Get(i, j); !exists {
		m.nvals++
	}
	if m.policy == PolicyDeferred {
		m.record(i, j, pending{val: v})
		return nil
	}
	m.setCompact(i, j, v)
	return nil
}

// Clear removes the entry at (i, j). Returns false if there was none.
func (m *Matrix) Clear(i, j uint64) bool {
	if _, exists := m.Get(i, j); !exists {
		return false
	}
	m.nvals--
	if m.policy == PolicyDeferred {
		m.record(i, j, pending{deleted: true})
		return true
	}
	m.clearCompact(i, j)
	return true
}

// Row calls fn for every entry in row i, in ascending column order, until fn
// returns false.
func (m *Matrix) Row(i uint64, fn func(col, val uint64) bool) {
	base, delta := m.rows[i], m.drows[i]
	if len(base) == 0 && len(delta) == 0 {
		return
	}
	cols := make([]uint64, 0, len(base)+len(delta))
	for c := range base {
		cols = append(cols, c)
	}
	for c := range delta {
		if _, dup := base[c]; !dup {
			cols = append(cols, c)
		}
	}
	slices.Sort(cols)
	for _, c := range cols {
		if v, ok := m.Get(i, c); ok {
			if !fn(c, v) {
				return
			}
		}
	}
}

// Col calls fn for every entry in column j, in ascending row order, until fn
// returns false.
func (m *Matrix) Col(j uint64, fn func(row, val uint64) bool) {
	base, delta := m.cols[j], m.dcols[j]
	if len(base) == 0 && len(delta) == 0 {
		return
	}
	rows := make([]uint64, 0, len(base)+len(delta))
	for r := range base {
		rows = append(rows, r)
	}
	for r := range delta {
		if _, dup := base[r]; !dup {
			rows = append(rows, r)
		}
	}
	slices.Sort(rows)
	for _, r := range rows {
		if v, ok := m.Get(r, j); ok {
			if !fn(r, v) {
				return
			}
		}
	}
}

// RowEmpty reports whether row i has no entries.
func (m *Matrix) RowEmpty(i uint64) bool {
	empty := true
	m.Row(i, func(uint64, uint64) bool {
		empty = false
		return false
	})
	return empty
}

// ColEmpty reports whether column j has no entries.
func (m *Matrix) ColEmpty(j uint64) bool {
	empty := true
	m.Col(j, func(uint64, uint64) bool {
		empty = false
		return false
	})
	return empty
}

// Each calls fn for every entry in row-major ascending order until fn returns
// false.
func (m *Matrix) Each(fn func(row, col, val uint64) bool) {
	rows := make([]uint64, 0, len(m.rows)+len(m.drows))
	for r := range m.rows {
		rows = append(rows, r)
	}
	for r := range m.drows {
		if _, dup := m.rows[r]; !dup {
			rows = append(rows, r)
		}
	}
	slices.Sort(rows)
	stop := false
	for _, r := range rows {
		m.Row(r, func(c, v uint64) bool {
			if !fn(r, c, v) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}

// Sync folds all deferred mutations into the compact storage in one pass.
func (m *Matrix) Sync() {
	if m.npend == 0 {
		return
	}
	for i, row := range m.drows {
		for j, d := range row {
			if d.deleted {
				m.clearCompact(i, j)
			} else {
				m.setCompact(i, j, d.val)
			}
		}
	}
	clear(m.drows)
	clear(m.dcols)
	m.npend = 0
}

func (m *Matrix) record(i, j uint64, d pending) {
	row := m.drows[i]
	if row == nil {
		row = make(map[uint64]pending)
		m.drows[i] = row
	}
	if _, seen := row[j]; !seen {
		m.npend++
	}
	row[j] = d

	col := m.dcols[j]
	if col == nil {
		col = make(map[uint64]struct{})
		m.dcols[j] = col
	}
	col[i] = struct{}{}
}

func (m *Matrix) setCompact(i, j, v uint64) {
	row := m.rows[i]
	if row == nil {
		row = make(map[uint64]uint64)
		m.rows[i] = row
	}
	row[j] = v

	col := m.cols[j]
	if col == nil {
		col = make(map[uint64]struct{})
		m.cols[j] = col
	}
	col[i] = struct{}{}
}

func (m *Matrix) clearCompact(i, j uint64) {
	if row := m.rows[i]; row != nil {
		delete(row, j)
		if len(row) == 0 {
			delete(m.rows, i)
		}
	}
	if col := m.cols[j]; col != nil {
		delete(col, i)
		if len(col) == 0 {
			delete(m.cols, j)
		}
	}
}
