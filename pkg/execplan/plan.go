package execplan

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/orneryd/matrixgraph/pkg/logging"
	"github.com/orneryd/matrixgraph/pkg/metrics"
	"github.com/orneryd/matrixgraph/pkg/telemetry"
)

// Plan run outcomes reported to metrics.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// PlanOptions configures a Plan. Every field is optional.
type PlanOptions struct {
	Stats   *ResultSetStatistics
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Plan is an operator tree together with the statistics it reports into.
type Plan struct {
	ID    uuid.UUID
	Root  Operator
	Stats *ResultSetStatistics

	logger  *slog.Logger
	metrics *metrics.Metrics
	freed   bool
}

// statsReporter is implemented by operators that count the mutations they
// apply.
type statsReporter interface {
	statistics() *ResultSetStatistics
	setStatistics(*ResultSetStatistics)
}

// NewPlan wraps root and binds every mutating operator in the tree to the
// plan's counter set, so Plan.Stats always reflects what the tree applied.
// A nil Stats adopts the first counter set found on an operator, or a fresh
// one.
func NewPlan(root Operator, opts PlanOptions) *Plan {
	var reporters []statsReporter
	walk(root, func(op Operator) {
		if sr, ok := op.(statsReporter); ok {
			reporters = append(reporters, sr)
		}
	})
	for _, sr := range reporters {
		opts.Stats = cmp.Or(opts.Stats, sr.statistics())
	}
	if opts.Stats == nil {
		opts.Stats = &ResultSetStatistics{}
	}
	for _, sr := range reporters {
		sr.setStatistics(opts.Stats)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := uuid.New()
	return &Plan{
		ID:      id,
		Root:    root,
		Stats:   opts.Stats,
		logger:  opts.Logger.With("query_id", id.String()),
		metrics: opts.Metrics,
	}
}

// Run pulls records from the root until it is depleted, then frees the tree,
// which applies any buffered mutations. The tree is freed exactly once on
// every exit path. Returns the number of records the root produced.
func (p *Plan) Run(ctx context.Context) (rows int, err error) {
	ctx = logging.WithLogger(ctx, p.logger)
	ctx, span := telemetry.Tracer().Start(ctx, "plan.run")
	span.SetAttributes(attribute.String("query_id", p.ID.String()))
	defer span.End()

	start := time.Now()
	for {
		r, cerr := p.Root.Consume(ctx)
		if cerr != nil {
			err = cerr
			break
		}
		if r == nil {
			break
		}
		rows++
	}
	err = errors.Join(err, p.Free(ctx))

	status := StatusOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = StatusCanceled
	default:
		status = StatusError
	}
	p.metrics.PlanRun(status)

	stats := p.Stats.Snapshot()
	span.SetAttributes(
		attribute.Int("rows", rows),
		attribute.Int64("nodes_deleted", stats.NodesDeleted),
		attribute.Int64("relationships_deleted", stats.RelationshipsDeleted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("plan run failed", "status", status, "rows", rows, "error", err)
		return rows, err
	}
	p.logger.Debug("plan run complete",
		"rows", rows,
		"elapsed", time.Since(start),
		"nodes_deleted", stats.NodesDeleted,
		"relationships_deleted", stats.RelationshipsDeleted)
	return rows, nil
}

// Free releases the operator tree. Later calls do nothing.
func (p *Plan) Free(ctx context.Context) error {
	if p.freed || p.Root == nil {
		return nil
	}
	p.freed = true
	return p.Root.Free(ctx)
}

// Explain renders the operator tree, one operator per line, children
// indented under their parent.
func (p *Plan) Explain() string {
	var sb strings.Builder
	var render func(op Operator, depth int)
	render = func(op Operator, depth int) {
		fmt.Fprintf(&sb, "%s%s\n", strings.Repeat("    ", depth), op.Name())
		for _, c := range op.Children() {
			render(c, depth+1)
		}
	}
	if p.Root != nil {
		render(p.Root, 0)
	}
	return sb.String()
}

func walk(op Operator, fn func(Operator)) {
	if op == nil {
		return
	}
	fn(op)
	for _, c := range op.Children() {
		walk(c, fn)
	}
}
