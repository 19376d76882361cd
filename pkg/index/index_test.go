package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/matrixgraph/pkg/storage"
)

const (
	person storage.LabelID = 0
	city   storage.LabelID = 1
)

func node(id storage.NodeID, label storage.LabelID, props map[string]any) *storage.Node {
	return &storage.Node{ID: id, Labels: []storage.LabelID{label}, Properties: props}
}

func TestManager_CreateIndex(t *testing.T) {
	m := NewManager()
	existing := []*storage.Node{
		node(0, person, map[string]any{"name": "Alice"}),
		node(1, person, map[string]any{"name": "Bob"}),
		node(2, city, map[string]any{"name": "Alice"}),
		node(3, person, map[string]any{"tags": []string{"x"}}),
	}

	ix, err := m.CreateIndex(person, "name", existing)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())
	assert.Equal(t, Key{Label: person, Property: "name"}, ix.Key())

	_, err = m.CreateIndex(person, "name", nil)
	assert.ErrorIs(t, err, ErrIndexExists)

	ids, err := m.Lookup(person, "name", "Alice")
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{0}, ids)
}

func TestManager_IndexDeindex(t *testing.T) {
	m := NewManager()
	_, err := m.CreateIndex(person, "name", nil)
	require.NoError(t, err)
	_, err = m.CreateIndex(person, "age", nil)
	require.NoError(t, err)

	a := node(4, person, map[string]any{"name": "Alice", "age": 30})
	b := node(2, person, map[string]any{"name": "Alice"})
	m.Index(a)
	m.Index(b)
	m.Index(nil)

	ids, err := m.Lookup(person, "name", "Alice")
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{2, 4}, ids)

	assert.Equal(t, 2, m.Deindex(a))
	assert.Equal(t, 0, m.Deindex(a), "second deindex is a no-op")
	assert.Equal(t, 0, m.Deindex(nil))

	ids, err = m.Lookup(person, "name", "Alice")
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{2}, ids)

	ids, err = m.Lookup(person, "age", 30)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestManager_Lookup(t *testing.T) {
	m := NewManager()

	t.Run("missing index", func(t *testing.T) {
		_, err := m.Lookup(city, "name", "Paris")
		assert.ErrorIs(t, err, ErrIndexNotFound)
	})

	t.Run("unhashable value", func(t *testing.T) {
		_, err := m.CreateIndex(city, "name", nil)
		require.NoError(t, err)
		ids, err := m.Lookup(city, "name", []any{"x"})
		assert.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestManager_DropIndex(t *testing.T) {
	m := NewManager()
	_, err := m.CreateIndex(person, "name", nil)
	require.NoError(t, err)
	_, err = m.CreateIndex(city, "name", nil)
	require.NoError(t, err)
	_, err = m.CreateIndex(person, "age", nil)
	require.NoError(t, err)

	assert.Equal(t, []Key{{person, "age"}, {person, "name"}, {city, "name"}}, m.Indices())

	require.NoError(t, m.DropIndex(person, "name"))
	assert.ErrorIs(t, m.DropIndex(person, "name"), ErrIndexNotFound)
	assert.Len(t, m.Indices(), 2)
}
