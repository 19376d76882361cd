package execplan

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/matrixgraph/pkg/graphctx"
	"github.com/orneryd/matrixgraph/pkg/logging"
	"github.com/orneryd/matrixgraph/pkg/storage"
)

func newTestContext(t *testing.T) *graphctx.GraphContext {
	t.Helper()
	return graphctx.New("test", storage.NewGraph(storage.Options{}), nil, logging.Discard())
}

func mustNode(t *testing.T, gc *graphctx.GraphContext, name string, labels ...string) *storage.Node {
	t.Helper()
	n, err := gc.CreateNode(labels, map[string]any{"name": name})
	require.NoError(t, err)
	return n
}

func mustEdge(t *testing.T, gc *graphctx.GraphContext, rel string, src, dst *storage.Node) *storage.Edge {
	t.Helper()
	e, err := gc.CreateEdge(rel, src.ID, dst.ID, nil)
	require.NoError(t, err)
	return e
}

// drain consumes op until depletion.
func drain(t *testing.T, op Operator) []*Record {
	t.Helper()
	var out []*Record
	for {
		r, err := op.Consume(context.Background())
		require.NoError(t, err)
		if r == nil {
			return out
		}
		out = append(out, r)
	}
}

func nodeIDsAt(t *testing.T, rows []*Record, slot int) []storage.NodeID {
	t.Helper()
	ids := make([]storage.NodeID, 0, len(rows))
	for _, r := range rows {
		n, ok := r.GetNode(slot)
		require.True(t, ok, "slot %d holds no node in %s", slot, r)
		ids = append(ids, n.ID)
	}
	slices.Sort(ids)
	return ids
}

func edgeIDsAt(t *testing.T, rows []*Record, slot int) []storage.EdgeID {
	t.Helper()
	ids := make([]storage.EdgeID, 0, len(rows))
	for _, r := range rows {
		e, ok := r.GetEdge(slot)
		require.True(t, ok, "slot %d holds no edge in %s", slot, r)
		ids = append(ids, e.ID)
	}
	slices.Sort(ids)
	return ids
}

func TestAllNodeScan(t *testing.T) {
	gc := newTestContext(t)
	a := mustNode(t, gc, "a", "Person")
	b := mustNode(t, gc, "b")
	c := mustNode(t, gc, "c", "City")

	scan := NewAllNodeScan(gc, 1)
	assert.Equal(t, "All Node Scan", scan.Name())

	rows := drain(t, scan)
	assert.Equal(t, []storage.NodeID{a.ID, b.ID, c.ID}, nodeIDsAt(t, rows, 1))

	t.Run("depleted stays depleted", func(t *testing.T) {
		assert.Empty(t, drain(t, scan))
	})

	t.Run("reset rescans", func(t *testing.T) {
		require.NoError(t, scan.Reset())
		assert.Len(t, drain(t, scan), 3)
	})

	t.Run("skips nodes deleted mid-scan", func(t *testing.T) {
		require.NoError(t, scan.Reset())
		first, err := scan.Consume(context.Background())
		require.NoError(t, err)
		require.NotNil(t, first)

		require.NoError(t, gc.Graph.WithWriteLock(func() error {
			_, err := gc.Graph.DeleteNode(b)
			return err
		}))
		rows := drain(t, scan)
		assert.Equal(t, []storage.NodeID{c.ID}, nodeIDsAt(t, rows, 1))
	})

	require.NoError(t, scan.Free(context.Background()))
}

func TestLabelScan(t *testing.T) {
	gc := newTestContext(t)
	a := mustNode(t, gc, "a", "Person")
	mustNode(t, gc, "b", "City")
	c := mustNode(t, gc, "c", "Person", "City")

	scan := NewLabelScan(gc, "Person", 0)
	assert.Equal(t, "Person", scan.Label())
	assert.Equal(t, []storage.NodeID{a.ID, c.ID}, nodeIDsAt(t, drain(t, scan), 0))

	assert.Empty(t, drain(t, NewLabelScan(gc, "Missing", 0)))
}

func TestScan_CanceledContext(t *testing.T) {
	gc := newTestContext(t)
	mustNode(t, gc, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAllNodeScan(gc, 0).Consume(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpand(t *testing.T) {
	gc := newTestContext(t)
	a := mustNode(t, gc, "a", "Person")
	b := mustNode(t, gc, "b", "Person")
	c := mustNode(t, gc, "c", "City")
	ab := mustEdge(t, gc, "KNOWS", a, b)
	ac := mustEdge(t, gc, "LIVES_IN", a, c)
	ca := mustEdge(t, gc, "KNOWS", c, a)
	self := mustEdge(t, gc, "KNOWS", a, a)

	tests := []struct {
		name      string
		dir       storage.Direction
		relation  string
		wantEdges []storage.EdgeID
	}{
		{"outgoing any", storage.DirOutgoing, "", []storage.EdgeID{ab.ID, ac.ID, self.ID}},
		{"incoming any", storage.DirIncoming, "", []storage.EdgeID{ca.ID, self.ID}},
		{"both any", storage.DirBoth, "", []storage.EdgeID{ab.ID, ac.ID, ca.ID, self.ID}},
		{"both knows", storage.DirBoth, "KNOWS", []storage.EdgeID{ab.ID, ca.ID, self.ID}},
		{"unknown relation", storage.DirBoth, "MISSING", []storage.EdgeID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewRecord(1)
			src.SetNode(0, a)
			exp := NewExpand(gc, ExpandConfig{
				SrcSlot:   0,
				EdgeSlot:  1,
				DstSlot:   2,
				Direction: tt.dir,
				Relation:  tt.relation,
			})
			Chain(exp, NewArgument(src))

			rows := drain(t, exp)
			assert.Equal(t, tt.wantEdges, edgeIDsAt(t, rows, 1))
			for _, r := range rows {
				e, _ := r.GetEdge(1)
				dst, ok := r.GetNode(2)
				require.True(t, ok)
				assert.Equal(t, e.Other(a.ID), dst.ID)
				from, _ := r.GetNode(0)
				assert.Equal(t, a.ID, from.ID, "source slot carried over")
			}
		})
	}

	t.Run("each source expanded", func(t *testing.T) {
		exp := NewExpand(gc, ExpandConfig{SrcSlot: 0, EdgeSlot: 1, DstSlot: -1, Direction: storage.DirOutgoing})
		Chain(exp, NewAllNodeScan(gc, 0))
		rows := drain(t, exp)
		assert.Equal(t, []storage.EdgeID{ab.ID, ac.ID, ca.ID, self.ID}, edgeIDsAt(t, rows, 1))
		for _, r := range rows {
			assert.Equal(t, KindEmpty, r.Get(2).Kind, "negative DstSlot leaves no node")
		}
	})

	t.Run("records without a source are dropped", func(t *testing.T) {
		empty := NewRecord(1)
		exp := NewExpand(gc, ExpandConfig{SrcSlot: 0, EdgeSlot: 1, DstSlot: -1, Direction: storage.DirBoth})
		Chain(exp, NewArgument(empty))
		assert.Empty(t, drain(t, exp))
	})

	t.Run("reset", func(t *testing.T) {
		src := NewRecord(1)
		src.SetNode(0, b)
		exp := NewExpand(gc, ExpandConfig{SrcSlot: 0, EdgeSlot: 1, DstSlot: 2, Direction: storage.DirIncoming})
		Chain(exp, NewArgument(src))
		assert.Len(t, drain(t, exp), 1)
		require.NoError(t, exp.Reset())
		assert.Len(t, drain(t, exp), 1)
		require.NoError(t, exp.Free(context.Background()))
	})
}

func TestFilter_PropertyEquals(t *testing.T) {
	gc := newTestContext(t)
	mustNode(t, gc, "a", "Person")
	b := mustNode(t, gc, "b", "Person")
	_, err := gc.CreateNode([]string{"Person"}, map[string]any{"name": []string{"b"}})
	require.NoError(t, err)

	f := NewFilter(PropertyEquals(0, "name", "b"))
	Chain(f, NewLabelScan(gc, "Person", 0))
	assert.Equal(t, []storage.NodeID{b.ID}, nodeIDsAt(t, drain(t, f), 0))

	pred := PropertyEquals(0, "name", []string{"b"})
	r := NewRecord(1)
	r.SetNode(0, b)
	ok, err := pred(r)
	require.NoError(t, err)
	assert.False(t, ok, "non-comparable values never match")

	ok, err = PropertyEquals(3, "name", "b")(r)
	require.NoError(t, err)
	assert.False(t, ok, "missing slot")
}

func TestFilter_PredicateError(t *testing.T) {
	boom := assert.AnError
	f := NewFilter(func(*Record) (bool, error) { return false, boom })
	Chain(f, NewArgument(NewRecord(1)))
	_, err := f.Consume(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestArgument(t *testing.T) {
	r := NewRecord(1)
	r.SetScalar(0, 1)
	arg := NewArgument(r)

	rows := drain(t, arg)
	require.Len(t, rows, 1)
	rows[0].SetScalar(0, 2)
	v, _ := r.GetScalar(0)
	assert.Equal(t, 1, v, "emitted records are copies")

	assert.Empty(t, drain(t, arg))
	require.NoError(t, arg.Reset())
	assert.Len(t, drain(t, arg), 1)
}

func TestResults(t *testing.T) {
	rows := make([]*Record, 5)
	for i := range rows {
		rows[i] = NewRecord(1)
		rows[i].SetScalar(0, i)
	}
	arg := NewArgument(rows...)
	res := NewResults(2)
	Chain(res, arg)

	assert.Len(t, drain(t, res), 5, "every record is pulled")
	assert.Len(t, res.Rows(), 2, "only limit rows kept")

	require.NoError(t, res.Reset())
	assert.Empty(t, res.Rows())
}

func TestChain(t *testing.T) {
	gc := newTestContext(t)
	res := NewResults(0)
	f := NewFilter(func(*Record) (bool, error) { return true, nil })
	scan := NewAllNodeScan(gc, 0)

	root := Chain(res, f, scan)
	assert.Same(t, res, root)
	assert.Equal(t, []Operator{f}, res.Children())
	assert.Equal(t, []Operator{scan}, f.Children())
	assert.Empty(t, scan.Children())
	assert.Nil(t, Chain())
}
