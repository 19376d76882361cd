package execplan

import "sync/atomic"

// QueryStats is a point-in-time copy of ResultSetStatistics.
type QueryStats struct {
	NodesCreated         int64 `json:"nodes_created"`
	NodesDeleted         int64 `json:"nodes_deleted"`
	RelationshipsCreated int64 `json:"relationships_created"`
	RelationshipsDeleted int64 `json:"relationships_deleted"`
}

// ResultSetStatistics counts the mutations of one query. Counters only grow.
// Every method is safe on a nil receiver, in which case nothing is counted.
type ResultSetStatistics struct {
	nodesCreated         atomic.Int64
	nodesDeleted         atomic.Int64
	relationshipsCreated atomic.Int64
	relationshipsDeleted atomic.Int64
}

func (s *ResultSetStatistics) AddNodesCreated(n int64) {
	if s != nil && n > 0 {
		s.nodesCreated.Add(n)
	}
}

func (s *ResultSetStatistics) AddNodesDeleted(n int64) {
	if s != nil && n > 0 {
		s.nodesDeleted.Add(n)
	}
}

func (s *ResultSetStatistics) AddRelationshipsCreated(n int64) {
	if s != nil && n > 0 {
		s.relationshipsCreated.Add(n)
	}
}

func (s *ResultSetStatistics) AddRelationshipsDeleted(n int64) {
	if s != nil && n > 0 {
		s.relationshipsDeleted.Add(n)
	}
}

// Snapshot returns the current counter values.
func (s *ResultSetStatistics) Snapshot() QueryStats {
	if s == nil {
		return QueryStats{}
	}
	return QueryStats{
		NodesCreated:         s.nodesCreated.Load(),
		NodesDeleted:         s.nodesDeleted.Load(),
		RelationshipsCreated: s.relationshipsCreated.Load(),
		RelationshipsDeleted: s.relationshipsDeleted.Load(),
	}
}

// Merge adds the counts of other into s.
func (s *ResultSetStatistics) Merge(other *ResultSetStatistics) {
	o := other.Snapshot()
	s.AddNodesCreated(o.NodesCreated)
	s.AddNodesDeleted(o.NodesDeleted)
	s.AddRelationshipsCreated(o.RelationshipsCreated)
	s.AddRelationshipsDeleted(o.RelationshipsDeleted)
}

// ContainsUpdates reports whether any counter is non-zero.
func (q QueryStats) ContainsUpdates() bool {
	return q.NodesCreated+q.NodesDeleted+q.RelationshipsCreated+q.RelationshipsDeleted > 0
}
