package storage

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSnapshot_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	g := newTestGraph(t, Options{InitialCapacity: 2})

	a, err := g.CreateNode([]LabelID{g.person}, map[string]any{"name": "Alice", "age": int64(30)})
	require.NoError(t, err)
	b := g.node(t, g.person)
	c := g.node(t, g.city)
	d := g.node(t)
	g.edge(t, g.knows, a, b)
	g.edge(t, g.knows, a, b)
	doomed := g.edge(t, g.lives, b, c)
	g.edge(t, g.lives, a, c)
	require.True(t, g.DeleteEdgeExplicit(doomed))
	_, err = g.DeleteNode(d)
	require.NoError(t, err)

	require.NoError(t, SaveSnapshot(db, g.Graph))

	loaded, err := LoadSnapshot(db, Options{})
	require.NoError(t, err)

	assert.Equal(t, g.AllNodeIDs(), loaded.AllNodeIDs())
	assert.Equal(t, g.AllEdgeIDs(), loaded.AllEdgeIDs())
	assert.Equal(t, g.Capacity(), loaded.Capacity())
	assert.Equal(t, "LIVES_IN", loaded.RelationName(g.lives))
	assert.NoError(t, loaded.CheckIntegrity())

	alice, ok := loaded.GetNode(a.ID)
	require.True(t, ok)
	assert.Equal(t, "Alice", alice.Properties["name"])
	assert.Equal(t, int64(30), alice.Properties["age"])
	assert.Len(t, loaded.EdgesConnecting(a.ID, b.ID, g.knows), 2)

	t.Run("free lists survive", func(t *testing.T) {
		n, err := loaded.CreateNode(nil, nil)
		require.NoError(t, err)
		assert.Equal(t, d.ID, n.ID)

		e, err := loaded.CreateEdge(g.knows, b.ID, a.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, doomed.ID, e.ID)
	})
}

func TestSnapshot_Empty(t *testing.T) {
	db := openTestDB(t)
	_, err := LoadSnapshot(db, Options{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshot_Overwrite(t *testing.T) {
	db := openTestDB(t)
	g := newTestGraph(t, Options{})
	g.node(t)
	g.node(t)
	require.NoError(t, SaveSnapshot(db, g.Graph))

	small := newTestGraph(t, Options{})
	small.node(t)
	require.NoError(t, SaveSnapshot(db, small.Graph))

	loaded, err := LoadSnapshot(db, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.NodeCount())
}

func TestSnapshot_Corrupt(t *testing.T) {
	db := openTestDB(t)
	g := newTestGraph(t, Options{})
	a := g.node(t)
	b := g.node(t)
	g.edge(t, g.knows, a, b)
	require.NoError(t, SaveSnapshot(db, g.Graph))

	// Drop a node record behind the digest's back.
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		head, ok, err := readHead(txn)
		if err != nil {
			return err
		}
		require.True(t, ok)
		return txn.Delete(head.nodeKey(b.ID))
	}))

	_, err := LoadSnapshot(db, Options{})
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
}

// generations lists the snapshot generations present in db.
func generations(t *testing.T, db *badger.DB) []generation {
	t.Helper()
	var gens []generation
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixGen}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			gen := generation(binary.BigEndian.Uint64(it.Item().Key()[1:9]))
			if !slices.Contains(gens, gen) {
				gens = append(gens, gen)
			}
		}
		return nil
	}))
	return gens
}

func TestSnapshot_Generations(t *testing.T) {
	db := openTestDB(t)
	g := newTestGraph(t, Options{})
	g.node(t)
	require.NoError(t, SaveSnapshot(db, g.Graph))
	assert.Equal(t, []generation{1}, generations(t, db))

	g.node(t)
	require.NoError(t, SaveSnapshot(db, g.Graph))
	assert.Equal(t, []generation{2}, generations(t, db), "previous generation dropped once the head moves")

	loaded, err := LoadSnapshot(db, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.NodeCount())
}

func TestSnapshot_InterruptedSaveKeepsPrevious(t *testing.T) {
	db := openTestDB(t)
	g := newTestGraph(t, Options{})
	g.node(t)
	g.node(t)
	require.NoError(t, SaveSnapshot(db, g.Graph))

	// A save that died after writing part of generation 2 but before moving
	// the head.
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		data, err := encode(snapshotMeta{Nodes: 99})
		if err != nil {
			return err
		}
		return txn.Set(generation(2).metaKey(), data)
	}))

	loaded, err := LoadSnapshot(db, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.NodeCount(), "head still names the complete snapshot")

	g.node(t)
	require.NoError(t, SaveSnapshot(db, g.Graph))
	loaded, err = LoadSnapshot(db, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), loaded.NodeCount())
	assert.Equal(t, []generation{2}, generations(t, db))
}

func TestSnapshot_CapacityLimit(t *testing.T) {
	db := openTestDB(t)
	g := newTestGraph(t, Options{})
	for range 5 {
		g.node(t)
	}
	require.NoError(t, SaveSnapshot(db, g.Graph))

	_, err := LoadSnapshot(db, Options{MaxCapacity: 2})
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestBadgerLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	bl := NewBadgerLogger(logger)

	bl.Infof("replaying %d entries\n", 3)
	assert.Empty(t, buf.String(), "info is demoted to debug")

	bl.Warningf("slow compaction: %s\n", "L0")
	assert.Contains(t, buf.String(), "slow compaction: L0")
	assert.Contains(t, buf.String(), "component=badger")

	db, err := OpenBadger(BadgerOptions{InMemory: true, Logger: bl})
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestSnapshot_BackupRestore(t *testing.T) {
	src := openTestDB(t)
	g := newTestGraph(t, Options{})
	a := g.node(t, g.person)
	b := g.node(t, g.city)
	g.edge(t, g.lives, a, b)
	require.NoError(t, SaveSnapshot(src, g.Graph))

	path := filepath.Join(t.TempDir(), "graph.bak")
	require.NoError(t, BackupSnapshot(src, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	dst := openTestDB(t)
	other := newTestGraph(t, Options{})
	other.node(t)
	other.node(t)
	other.node(t)
	require.NoError(t, SaveSnapshot(dst, other.Graph))

	restored, err := RestoreSnapshot(dst, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), restored.NodeCount(), "previous contents replaced")
	assert.Equal(t, uint64(1), restored.EdgeCount())
	assert.NoError(t, restored.CheckIntegrity())

	_, err = RestoreSnapshot(dst, filepath.Join(t.TempDir(), "missing.bak"), Options{})
	assert.Error(t, err)
}
