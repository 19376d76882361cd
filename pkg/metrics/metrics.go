// Package metrics exposes Prometheus collectors for graph mutation.
//
// A nil *Metrics is valid and records nothing, so callers never need to check
// whether metrics are enabled.
package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Edge deletion paths, used as the "path" label.
const (
	PathCascade  = "cascade"
	PathExplicit = "explicit"
)

// Metrics holds the collectors of one process. Each instance has its own
// registry so tests do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	nodesDeleted         prometheus.Counter
	relationshipsDeleted *prometheus.CounterVec
	commitDuration       prometheus.Histogram
	lockWait             prometheus.Histogram
	stagedEntities       *prometheus.HistogramVec
	planRuns             *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		nodesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "matrixgraph_nodes_deleted_total",
			Help: "Total number of nodes removed by delete commits",
		}),
		relationshipsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixgraph_relationships_deleted_total",
			Help: "Total number of relationships removed by delete commits",
		}, []string{"path"}),
		commitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matrixgraph_delete_commit_duration_seconds",
			Help:    "Time the delete commit held the graph write lock",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.25, 1},
		}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matrixgraph_write_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the graph write lock",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		stagedEntities: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matrixgraph_delete_staged_entities",
			Help:    "Entities staged per delete commit",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"kind"}),
		planRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixgraph_plan_runs_total",
			Help: "Execution plan runs by outcome",
		}, []string{"status"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveStaged records how many nodes and edges a delete commit received.
func (m *Metrics) ObserveStaged(nodes, edges int) {
	if m == nil {
		return
	}
	m.stagedEntities.WithLabelValues("node").Observe(float64(nodes))
	m.stagedEntities.WithLabelValues("edge").Observe(float64(edges))
}

// ObserveLockWait records time spent blocked on the write lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// ObserveCommit records a finished delete commit.
func (m *Metrics) ObserveCommit(d time.Duration, nodes, cascade, explicit int64) {
	if m == nil {
		return
	}
	m.commitDuration.Observe(d.Seconds())
	m.nodesDeleted.Add(float64(nodes))
	m.relationshipsDeleted.WithLabelValues(PathCascade).Add(float64(cascade))
	m.relationshipsDeleted.WithLabelValues(PathExplicit).Add(float64(explicit))
}

// PlanRun counts a plan execution; status is "ok", "error" or "canceled".
func (m *Metrics) PlanRun(status string) {
	if m == nil {
		return
	}
	m.planRuns.WithLabelValues(status).Inc()
}

// Counters gathers every counter sample as "name{label=value}" -> value,
// for printing from the CLI.
func (m *Metrics) Counters() (map[string]float64, error) {
	if m == nil {
		return nil, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			c := metric.GetCounter()
			if c == nil {
				continue
			}
			name := mf.GetName()
			labels := metric.GetLabel()
			if len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, lp := range labels {
					parts = append(parts, lp.GetName()+"="+lp.GetValue())
				}
				sort.Strings(parts)
				name += "{" + strings.Join(parts, ",") + "}"
			}
			out[name] = c.GetValue()
		}
	}
	return out, nil
}
