package execplan

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/matrixgraph/pkg/graphctx"
	"github.com/orneryd/matrixgraph/pkg/matrix"
	"github.com/orneryd/matrixgraph/pkg/metrics"
	"github.com/orneryd/matrixgraph/pkg/storage"
	"github.com/orneryd/matrixgraph/pkg/telemetry"
)

type deleteState int

const (
	deleteCollecting deleteState = iota
	deleteCommitting
	deleteDone
)

func (s deleteState) String() string {
	switch s {
	case deleteCollecting:
		return "collecting"
	case deleteCommitting:
		return "committing"
	default:
		return "done"
	}
}

// DeleteConfig configures a Delete operator.
type DeleteConfig struct {
	// NodeSlots and EdgeSlots name the record slots whose entities are deleted.
	NodeSlots []int
	EdgeSlots []int

	// Stats receives the deletion counts. May be nil; NewPlan replaces it
	// with the plan's counter set.
	Stats *ResultSetStatistics

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// SlowCommitThreshold logs commits holding the write lock longer than
	// this at WARN. Zero disables.
	SlowCommitThreshold time.Duration
}

// Delete stages the nodes and edges named by each record and removes them
// from the graph when the operator is freed.
//
// Records pass through unchanged, so operators above Delete still see the
// staged entities; the graph is not touched until Free. Reset rewinds the
// child but keeps everything staged so far.
//
// The commit runs under one write lock and removes, in order: every edge
// incident to a staged node (the cascade), then the staged edges not already
// covered by the cascade, then the staged nodes. Nothing else can observe
// the graph between those steps.
type Delete struct {
	OpBase
	gc  *graphctx.GraphContext
	cfg DeleteConfig

	state deleteState
	nodes *Buffer[storage.Node]
	edges *Buffer[storage.Edge]
}

// NewDelete creates a Delete over gc's graph.
func NewDelete(gc *graphctx.GraphContext, cfg DeleteConfig) *Delete {
	return &Delete{
		OpBase: newOpBase("Delete"),
		gc:     gc,
		cfg:    cfg,
		nodes:  NewBuffer[storage.Node](32),
		edges:  NewBuffer[storage.Edge](32),
	}
}

func (op *Delete) statistics() *ResultSetStatistics { return op.cfg.Stats }

func (op *Delete) setStatistics(s *ResultSetStatistics) { op.cfg.Stats = s }

// Staged returns how many nodes and edges are waiting for the commit.
func (op *Delete) Staged() (nodes, edges int) {
	return op.nodes.Len(), op.edges.Len()
}

func (op *Delete) Consume(ctx context.Context) (*Record, error) {
	if op.state != deleteCollecting {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		op.discard(err)
		return nil, err
	}

	r, err := op.consumeChild(ctx)
	if err != nil {
		if ctx.Err() != nil {
			op.discard(err)
		}
		return nil, err
	}
	if r == nil {
		return nil, nil
	}

	for _, slot := range op.cfg.NodeSlots {
		if n, ok := r.GetNode(slot); ok {
			op.nodes.Append(*n)
		}
	}
	for _, slot := range op.cfg.EdgeSlots {
		if e, ok := r.GetEdge(slot); ok {
			op.edges.Append(*e)
		}
	}
	return r, nil
}

// discard drops everything staged; the graph was never touched.
func (op *Delete) discard(cause error) {
	nodes, edges := op.Staged()
	if nodes+edges > 0 {
		op.gc.Logger().Debug("delete canceled before commit",
			"staged_nodes", nodes, "staged_edges", edges, "cause", cause)
	}
	op.nodes.Release()
	op.edges.Release()
	op.state = deleteDone
}

func (op *Delete) Reset() error {
	return op.resetChildren()
}

// Free commits the staged deletions, then frees the children, which may hold
// the only other references to the staged entities. If ctx is already
// canceled the staged entities are discarded and the graph is untouched.
// Once the commit starts it runs to completion regardless of ctx.
func (op *Delete) Free(ctx context.Context) error {
	if !op.beginFree() {
		return nil
	}

	var commitErr error
	if op.state == deleteCollecting {
		if err := ctx.Err(); err != nil {
			op.discard(err)
		} else {
			commitErr = op.commit(context.WithoutCancel(ctx))
		}
	}
	op.state = deleteDone
	op.nodes.Release()
	op.edges.Release()

	return errors.Join(commitErr, op.freeChildren(ctx))
}

type deleteCounts struct {
	nodes    int64
	cascade  int64
	explicit int64
}

func (op *Delete) commit(ctx context.Context) (err error) {
	op.state = deleteCommitting
	g := op.gc.Graph
	logger := op.gc.Logger()

	nodes, edges := op.Staged()
	op.cfg.Metrics.ObserveStaged(nodes, edges)
	if nodes+edges == 0 {
		return nil
	}

	_, span := telemetry.Tracer().Start(ctx, "execplan.Delete.commit",
		trace.WithAttributes(
			attribute.String("graph", op.gc.Name),
			attribute.Int("staged_nodes", nodes),
			attribute.Int("staged_edges", edges),
		))
	defer span.End()

	waitStart := time.Now()
	g.AcquireWriteLock()
	start := time.Now()
	op.cfg.Metrics.ObserveLockWait(start.Sub(waitStart))
	g.SetMatrixPolicy(matrix.PolicyDeferred)

	var counts deleteCounts
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: delete commit: %v", storage.ErrInvariant, r)
		}
		g.SetMatrixPolicy(matrix.PolicyEager)
		g.ReleaseLock()
		held := time.Since(start)

		op.cfg.Stats.AddRelationshipsDeleted(counts.cascade + counts.explicit)
		op.cfg.Stats.AddNodesDeleted(counts.nodes)
		op.cfg.Metrics.ObserveCommit(held, counts.nodes, counts.cascade, counts.explicit)
		span.SetAttributes(
			attribute.Int64("nodes_deleted", counts.nodes),
			attribute.Int64("relationships_deleted", counts.cascade+counts.explicit),
		)

		attrs := []any{
			"nodes_deleted", counts.nodes,
			"cascade_edges", counts.cascade,
			"explicit_edges", counts.explicit,
			"lock_held", held,
		}
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("delete commit failed", append(attrs, "error", err)...)
		case op.cfg.SlowCommitThreshold > 0 && held > op.cfg.SlowCommitThreshold:
			logger.Warn("slow delete commit", attrs...)
		default:
			logger.Debug("delete committed", attrs...)
		}
	}()

	return op.deleteEntities(g, &counts)
}

// deleteEntities applies the staged deletions. The caller holds the write
// lock.
func (op *Delete) deleteEntities(g *storage.Graph, counts *deleteCounts) error {
	staged := op.nodes.Items()

	// Every edge touching a staged node goes with it.
	var inferred []storage.Edge
	for i := range staged {
		inferred = g.CollectNodeEdges(inferred, staged[i].ID, storage.DirBoth, storage.AnyRelation)
	}

	// An edge shared by two staged nodes appears once per node; sorting
	// makes those copies adjacent.
	slices.SortFunc(inferred, func(a, b storage.Edge) int { return cmp.Compare(a.ID, b.ID) })

	// Drop explicitly staged edges the cascade already covers.
	if len(inferred) > 0 {
		for i := 0; i < op.edges.Len(); {
			_, found := slices.BinarySearchFunc(inferred, op.edges.At(i).ID,
				func(e storage.Edge, id storage.EdgeID) int { return cmp.Compare(e.ID, id) })
			if found {
				// The swapped-in element is checked on the next pass.
				op.edges.SwapRemove(i)
				continue
			}
			i++
		}
	}

	for i := 0; i < len(inferred); i++ {
		for i+1 < len(inferred) && inferred[i+1].ID == inferred[i].ID {
			i++
		}
		if g.DeleteEdgeCascade(&inferred[i]) {
			counts.cascade++
		}
	}

	for i := 0; i < op.edges.Len(); i++ {
		if g.DeleteEdgeExplicit(op.edges.At(i)) {
			counts.explicit++
		}
	}

	for i := range staged {
		n := &staged[i]
		if !g.NodeExists(n.ID) {
			continue
		}
		op.gc.DeleteNodeFromIndices(n)
		deleted, err := g.DeleteNode(n)
		if err != nil {
			return err
		}
		if deleted {
			counts.nodes++
		}
	}
	return nil
}
