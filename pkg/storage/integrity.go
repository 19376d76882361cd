package storage

import (
	"errors"
	"fmt"
)

// CheckIntegrity verifies the graph-wide invariants:
//   - every relation matrix entry references only live edges of that type
//     whose endpoints are the entry coordinates, and both endpoints are live
//   - every live edge is referenced by exactly one relation matrix entry
//   - label matrices hold exactly the diagonal entries of live labeled nodes
//
// All violations found are joined into one error wrapping ErrInvariant.
// The caller must hold at least the read lock.
func (g *Graph) CheckIntegrity() error {
	var errs []error
	violation := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...))
	}

	seen := make(map[EdgeID]int, g.EdgeCount())
	for r, m := range g.relations {
		rel := RelationID(r)
		m.Each(func(row, col, v uint64) bool {
			src, dst := NodeID(row), NodeID(col)
			if !g.NodeExists(src) {
				violation("relation %q entry (%d,%d) references deleted source node", g.relationNames[r], row, col)
			}
			if !g.NodeExists(dst) {
				violation("relation %q entry (%d,%d) references deleted destination node", g.relationNames[r], row, col)
			}
			ids := []EdgeID{EdgeID(v)}
			if v&multiEdgeFlag != 0 {
				ids = g.multiEdges[v&^multiEdgeFlag]
				if len(ids) < 2 {
					violation("relation %q entry (%d,%d) has parallel list of %d edges", g.relationNames[r], row, col, len(ids))
				}
			}
			for _, id := range ids {
				seen[id]++
				entry := g.edgeEntry(id)
				switch {
				case entry == nil:
					violation("relation %q entry (%d,%d) references deleted edge %d", g.relationNames[r], row, col, id)
				case entry.rel != rel || entry.src != src || entry.dst != dst:
					violation("edge %d stored as (%d)-[%d]->(%d) but found at %q (%d,%d)",
						id, entry.src, entry.rel, entry.dst, g.relationNames[r], row, col)
				}
			}
			return true
		})
	}
	for _, id := range g.AllEdgeIDs() {
		if n := seen[id]; n != 1 {
			violation("edge %d referenced by %d matrix entries", id, n)
		}
	}

	for l, m := range g.labels {
		m.Each(func(row, col, _ uint64) bool {
			entry := g.nodeEntry(NodeID(row))
			if row != col || entry == nil || !(&Node{Labels: entry.labels}).HasLabel(LabelID(l)) {
				violation("label %q has stray entry (%d,%d)", g.labelNames[l], row, col)
			}
			return true
		})
	}
	for id, entry := range g.nodes {
		if entry == nil {
			continue
		}
		for _, l := range entry.labels {
			if _, ok := g.labels[l].Get(uint64(id), uint64(id)); !ok {
				violation("node %d missing from label %q matrix", id, g.labelNames[l])
			}
		}
	}

	if len(errs) > 0 {
		g.logger.Error("graph integrity check failed", "violations", len(errs))
	}
	return errors.Join(errs...)
}
