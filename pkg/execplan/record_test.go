package execplan

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/matrixgraph/pkg/storage"
)

func TestRecord_Slots(t *testing.T) {
	r := NewRecord(1)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, KindEmpty, r.Get(0).Kind)
	assert.Equal(t, KindEmpty, r.Get(7).Kind, "out of range reads as empty")

	n := &storage.Node{ID: 3}
	e := &storage.Edge{ID: 5}
	r.SetNode(0, n)
	r.SetEdge(2, e)
	r.SetScalar(3, "x")
	assert.Equal(t, 4, r.Len(), "setting past the end grows the record")

	got, ok := r.GetNode(0)
	require.True(t, ok)
	assert.Same(t, n, got)

	_, ok = r.GetNode(2)
	assert.False(t, ok, "edge slot is not a node")
	_, ok = r.GetEdge(1)
	assert.False(t, ok, "empty slot")

	ge, ok := r.GetEdge(2)
	require.True(t, ok)
	assert.Same(t, e, ge)

	s, ok := r.GetScalar(3)
	require.True(t, ok)
	assert.Equal(t, "x", s)

	assert.Equal(t, "[(3), _, [5], x]", r.String())
	assert.Panics(t, func() { r.SetNode(-1, n) })
}

func TestRecord_Clone(t *testing.T) {
	r := NewRecord(2)
	n := &storage.Node{ID: 1}
	r.SetNode(0, n)

	c := r.Clone()
	c.SetScalar(0, 42)
	c.SetScalar(1, 7)

	got, ok := r.GetNode(0)
	require.True(t, ok, "original slot untouched")
	assert.Same(t, n, got)
	assert.Equal(t, KindEmpty, r.Get(1).Kind)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "node", KindNode.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestBuffer_SwapRemove(t *testing.T) {
	b := NewBuffer[int](2)
	for i := range 5 {
		b.Append(i)
	}
	assert.Equal(t, 5, b.Len())

	b.SwapRemove(1)
	assert.Equal(t, []int{0, 4, 2, 3}, b.Items(), "last element moves into the hole")

	b.SwapRemove(3)
	assert.Equal(t, []int{0, 4, 2}, b.Items(), "removing the last element")

	*b.At(0) = 9
	assert.Equal(t, 9, b.Items()[0])

	b.Release()
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Items())
}

func TestResultSetStatistics(t *testing.T) {
	t.Run("counts", func(t *testing.T) {
		var s ResultSetStatistics
		s.AddNodesCreated(2)
		s.AddNodesDeleted(1)
		s.AddRelationshipsDeleted(3)
		s.AddRelationshipsDeleted(0)
		s.AddRelationshipsDeleted(-4)

		q := s.Snapshot()
		assert.Equal(t, QueryStats{NodesCreated: 2, NodesDeleted: 1, RelationshipsDeleted: 3}, q)
		assert.True(t, q.ContainsUpdates())
		assert.False(t, QueryStats{}.ContainsUpdates())
	})

	t.Run("nil receiver", func(t *testing.T) {
		var s *ResultSetStatistics
		assert.NotPanics(t, func() {
			s.AddNodesDeleted(1)
			s.AddRelationshipsDeleted(1)
			s.Merge(&ResultSetStatistics{})
		})
		assert.Equal(t, QueryStats{}, s.Snapshot())
	})

	t.Run("merge", func(t *testing.T) {
		var a, b ResultSetStatistics
		a.AddNodesDeleted(1)
		b.AddNodesDeleted(2)
		b.AddRelationshipsCreated(5)
		a.Merge(&b)
		a.Merge(nil)
		assert.Equal(t, QueryStats{NodesDeleted: 3, RelationshipsCreated: 5}, a.Snapshot())
	})

	t.Run("concurrent", func(t *testing.T) {
		var s ResultSetStatistics
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					s.AddRelationshipsDeleted(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(800), s.Snapshot().RelationshipsDeleted)
	})

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(QueryStats{NodesDeleted: 1})
		require.NoError(t, err)
		assert.JSONEq(t, `{"nodes_created":0,"nodes_deleted":1,"relationships_created":0,"relationships_deleted":0}`, string(data))
	})
}
