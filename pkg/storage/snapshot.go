package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"
)

// BadgerOptions configures the BadgerDB instance that holds graph snapshots.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// LowMemory reduces memtable and cache sizes.
	LowMemory bool

	// Logger for BadgerDB internal logging. If nil, Badger logging is silenced.
	Logger badger.Logger
}

// OpenBadger opens the snapshot database.
func OpenBadger(opts BadgerOptions) (*badger.DB, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	// A nil logger keeps Badger quiet.
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(8 << 20).
			WithValueLogFileSize(32 << 20).
			WithNumMemtables(1).
			WithNumLevelZeroTables(1).
			WithNumLevelZeroTablesStall(2).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return db, nil
}

// badgerLogger routes Badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

// NewBadgerLogger adapts logger for BadgerOptions.Logger. Badger's INFO
// chatter is logged at DEBUG.
func NewBadgerLogger(logger *slog.Logger) badger.Logger {
	return &badgerLogger{logger: logger.With("component", "badger")}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(trimf(format, args))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(trimf(format, args))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(trimf(format, args))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(trimf(format, args))
}

func trimf(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

// ============================================================================
// Key encoding helpers
// ============================================================================

// A snapshot is written under a fresh generation prefix and becomes visible
// only when headKey is switched to it, so an interrupted save leaves the
// previous generation readable.
const (
	prefixMeta byte = 0x01
	prefixGen  byte = 0x10
)

const (
	kindMeta   byte = 'm'
	kindDigest byte = 'd'
	kindNode   byte = 'n'
	kindEdge   byte = 'e'
)

var headKey = []byte{prefixMeta, 'h'}

// generation addresses the keys of one snapshot.
type generation uint64

func (gen generation) prefix() []byte {
	return binary.BigEndian.AppendUint64([]byte{prefixGen}, uint64(gen))
}

func (gen generation) key(kind byte) []byte {
	return append(gen.prefix(), kind)
}

func (gen generation) metaKey() []byte   { return gen.key(kindMeta) }
func (gen generation) digestKey() []byte { return gen.key(kindDigest) }

func (gen generation) nodeKey(id NodeID) []byte {
	return binary.BigEndian.AppendUint64(gen.key(kindNode), uint64(id))
}

func (gen generation) edgeKey(id EdgeID) []byte {
	return binary.BigEndian.AppendUint64(gen.key(kindEdge), uint64(id))
}

// readHead returns the generation headKey points at.
func readHead(txn *badger.Txn) (generation, bool, error) {
	item, err := txn.Get(headKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	if len(val) != 8 {
		return 0, false, fmt.Errorf("%w: head is %d bytes", ErrSnapshotCorrupt, len(val))
	}
	return generation(binary.BigEndian.Uint64(val)), true, nil
}

// pruneGenerations drops every generation except keep.
func pruneGenerations(db *badger.DB, keep generation) error {
	var stale [][]byte
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixGen}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); {
			key := it.Item().Key()
			if len(key) < 9 {
				it.Next()
				continue
			}
			gen := generation(binary.BigEndian.Uint64(key[1:9]))
			if gen != keep {
				stale = append(stale, gen.prefix())
			}
			if gen == generation(math.MaxUint64) {
				break
			}
			it.Seek((gen + 1).prefix())
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return err
	}
	return db.DropPrefix(stale...)
}

// ============================================================================
// Serialization helpers
// ============================================================================

type snapshotMeta struct {
	Capacity  uint64
	Labels    []string
	Relations []string
	Nodes     uint64
	Edges     uint64
}

type snapshotNode struct {
	ID         uint64
	Labels     []LabelID
	Properties map[string]any
}

type snapshotEdge struct {
	ID         uint64
	Relation   RelationID
	Src        uint64
	Dst        uint64
	Properties map[string]any
}

// encode serializes v using gob (preserves Go types like int64).
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func newDigest() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only fails for an oversized key; nil is always valid.
		panic(err)
	}
	return h
}

// ============================================================================
// Snapshot
// ============================================================================

// SaveSnapshot replaces the snapshot held in db with the current graph.
//
// Entity IDs are stored verbatim so a reload reproduces the same IDs and the
// same free lists. A BLAKE2b-256 digest over every written key/value pair is
// stored alongside and checked by LoadSnapshot. The new snapshot is written
// under the next generation and published by a single head update; until
// then LoadSnapshot keeps reading the previous one. The caller must hold at
// least the read lock.
func SaveSnapshot(db *badger.DB, g *Graph) error {
	var head generation
	if err := db.View(func(txn *badger.Txn) (err error) {
		head, _, err = readHead(txn)
		return err
	}); err != nil {
		return fmt.Errorf("failed to read snapshot head: %w", err)
	}
	// Leftovers of an interrupted save are dropped before reusing their
	// generation.
	if err := pruneGenerations(db, head); err != nil {
		return fmt.Errorf("failed to clear stale snapshots: %w", err)
	}
	next := head + 1

	wb := db.NewWriteBatch()
	defer wb.Cancel()

	digest := newDigest()
	put := func(key []byte, v any) error {
		data, err := encode(v)
		if err != nil {
			return fmt.Errorf("failed to encode %x: %w", key, err)
		}
		digest.Write(key)
		digest.Write(data)
		return wb.Set(key, data)
	}

	meta := snapshotMeta{
		Capacity:  g.capacity,
		Labels:    slices.Clone(g.labelNames),
		Relations: slices.Clone(g.relationNames),
		Nodes:     g.NodeCount(),
		Edges:     g.EdgeCount(),
	}
	if err := put(next.metaKey(), meta); err != nil {
		return err
	}
	for _, id := range g.AllNodeIDs() {
		entry := g.nodes[id]
		if err := put(next.nodeKey(id), snapshotNode{ID: uint64(id), Labels: entry.labels, Properties: entry.props}); err != nil {
			return err
		}
	}
	for _, id := range g.AllEdgeIDs() {
		entry := g.edges[id]
		rec := snapshotEdge{ID: uint64(id), Relation: entry.rel, Src: uint64(entry.src), Dst: uint64(entry.dst), Properties: entry.props}
		if err := put(next.edgeKey(id), rec); err != nil {
			return err
		}
	}
	if err := wb.Set(next.digestKey(), digest.Sum(nil)); err != nil {
		return err
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}

	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set(headKey, binary.BigEndian.AppendUint64(nil, uint64(next)))
	}); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	if err := pruneGenerations(db, next); err != nil {
		// The new snapshot is live; the old one is reclaimed by the next save.
		g.logger.Warn("failed to drop previous snapshot", "generation", uint64(head), "error", err)
	}
	return nil
}

// LoadSnapshot rebuilds a graph from db. Returns ErrNotFound if db holds no
// snapshot and ErrSnapshotCorrupt if the stored digest does not match.
func LoadSnapshot(db *badger.DB, opts Options) (*Graph, error) {
	var g *Graph
	err := db.View(func(txn *badger.Txn) error {
		gen, ok, err := readHead(txn)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		digest := newDigest()

		var meta snapshotMeta
		item, err := txn.Get(gen.metaKey())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: generation %d has no meta", ErrSnapshotCorrupt, gen)
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			digest.Write(gen.metaKey())
			digest.Write(val)
			return decode(val, &meta)
		}); err != nil {
			return fmt.Errorf("%w: meta: %w", ErrSnapshotCorrupt, err)
		}

		opts.InitialCapacity = max(opts.InitialCapacity, meta.Capacity)
		g = NewGraph(opts)
		for _, name := range meta.Labels {
			g.AddLabel(name)
		}
		for _, name := range meta.Relations {
			g.AddRelation(name)
		}

		var nodeIDs, edgeIDs []uint64
		err = scanPrefix(txn, gen.key(kindNode), digest, func(val []byte) error {
			var rec snapshotNode
			if err := decode(val, &rec); err != nil {
				return err
			}
			nodeIDs = append(nodeIDs, rec.ID)
			return g.restoreNode(NodeID(rec.ID), rec.Labels, rec.Properties)
		})
		if err != nil {
			return fmt.Errorf("%w: nodes: %w", ErrSnapshotCorrupt, err)
		}
		g.nodeIDs.Restore(nodeIDs)

		err = scanPrefix(txn, gen.key(kindEdge), digest, func(val []byte) error {
			var rec snapshotEdge
			if err := decode(val, &rec); err != nil {
				return err
			}
			edgeIDs = append(edgeIDs, rec.ID)
			return g.restoreEdge(EdgeID(rec.ID), rec.Relation, NodeID(rec.Src), NodeID(rec.Dst), rec.Properties)
		})
		if err != nil {
			return fmt.Errorf("%w: edges: %w", ErrSnapshotCorrupt, err)
		}
		g.edgeIDs.Restore(edgeIDs)

		stored, err := txn.Get(gen.digestKey())
		if err != nil {
			return fmt.Errorf("%w: missing digest", ErrSnapshotCorrupt)
		}
		want, err := stored.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(want, digest.Sum(nil)) {
			return fmt.Errorf("%w: digest mismatch", ErrSnapshotCorrupt)
		}
		if uint64(len(nodeIDs)) != meta.Nodes || uint64(len(edgeIDs)) != meta.Edges {
			return fmt.Errorf("%w: expected %d nodes/%d edges, found %d/%d",
				ErrSnapshotCorrupt, meta.Nodes, meta.Edges, len(nodeIDs), len(edgeIDs))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func scanPrefix(txn *badger.Txn, prefix []byte, digest hash.Hash, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		digest.Write(item.Key())
		if err := item.Value(func(val []byte) error {
			digest.Write(val)
			return fn(val)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) restoreNode(id NodeID, labels []LabelID, props map[string]any) error {
	for _, l := range labels {
		if l < 0 || int(l) >= len(g.labels) {
			return fmt.Errorf("%w: %d", ErrUnknownLabel, l)
		}
	}
	if err := g.ensureCapacity(uint64(id) + 1); err != nil {
		return err
	}
	for uint64(len(g.nodes)) <= uint64(id) {
		g.nodes = append(g.nodes, nil)
	}
	g.nodes[id] = &nodeEntry{labels: labels, props: props}
	for _, l := range labels {
		if err := g.labels[l].Set(uint64(id), uint64(id), labelMarker); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) restoreEdge(id EdgeID, rel RelationID, src, dst NodeID, props map[string]any) error {
	m := g.RelationMatrix(rel)
	if m == nil {
		return fmt.Errorf("%w: %d", ErrUnknownRelation, rel)
	}
	if !g.NodeExists(src) || !g.NodeExists(dst) {
		return fmt.Errorf("%w: edge %d endpoint", ErrNotFound, id)
	}
	if err := g.linkEdge(m, id, src, dst); err != nil {
		return err
	}
	for uint64(len(g.edges)) <= uint64(id) {
		g.edges = append(g.edges, nil)
	}
	g.edges[id] = &edgeEntry{rel: rel, src: src, dst: dst, props: props}
	return nil
}

// BackupSnapshot streams a full Badger backup of db to path. The file is a
// self-contained copy that RestoreSnapshot loads into another database.
func BackupSnapshot(db *badger.DB, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	buf := bufio.NewWriterSize(f, 1<<20)
	if _, err := db.Backup(buf, 0); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup: %w", err)
	}
	return nil
}

// RestoreSnapshot replaces the contents of db with the backup at path and
// verifies the restored snapshot loads. On a verification failure db holds
// the restored, unusable data and the error wraps ErrSnapshotCorrupt. An
// interrupted restore leaves db partial; the backup file is untouched and
// restoring it again repairs db.
func RestoreSnapshot(db *badger.DB, path string, opts Options) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	if err := db.DropAll(); err != nil {
		return nil, fmt.Errorf("failed to clear database: %w", err)
	}
	if err := db.Load(bufio.NewReaderSize(f, 1<<20), 256); err != nil {
		return nil, fmt.Errorf("restore failed: %w", err)
	}
	return LoadSnapshot(db, opts)
}
