package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/orneryd/matrixgraph/pkg/config"
	"github.com/orneryd/matrixgraph/pkg/execplan"
	"github.com/orneryd/matrixgraph/pkg/graphctx"
	"github.com/orneryd/matrixgraph/pkg/logging"
	"github.com/orneryd/matrixgraph/pkg/metrics"
	"github.com/orneryd/matrixgraph/pkg/storage"
	"github.com/orneryd/matrixgraph/pkg/telemetry"
)

// app holds the state shared by every command of one invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	graphName string

	closeLog      func() error
	shutdownTrace func(context.Context) error
}

// setup loads configuration and builds the logging, tracing and metrics
// stack. Flags win over the config file and environment.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Database.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	a.graphName, _ = cmd.Flags().GetString("graph")
	if a.graphName == "" {
		a.graphName = cfg.Database.DefaultGraph
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.logger, a.closeLog = logger, closeLog
	slog.SetDefault(logger)

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Tracing, version)
	if err != nil {
		return err
	}
	a.shutdownTrace = shutdown

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	logger.Debug("configuration loaded", "path", configPath, "config", cfg.String())
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	var errs []error
	if a.shutdownTrace != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdownTrace(ctx))
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}

func (a *app) graphOptions() storage.Options {
	return storage.Options{
		InitialCapacity: a.cfg.Database.InitialNodeCapacity,
		MaxCapacity:     a.cfg.Database.MaxNodeCapacity,
		Logger:          a.logger,
	}
}

// openDB opens the snapshot database of the selected graph.
func (a *app) openDB() (*badger.DB, error) {
	return storage.OpenBadger(storage.BadgerOptions{
		DataDir:    filepath.Join(a.cfg.Database.DataDir, a.graphName),
		InMemory:   a.cfg.Database.InMemory,
		SyncWrites: a.cfg.Database.SyncWrites,
		LowMemory:  a.cfg.Database.LowMemory,
		Logger:     storage.NewBadgerLogger(a.logger),
	})
}

// loadGraph opens the snapshot database and registers its graph. A missing
// snapshot is an error unless allowEmpty is set.
func (a *app) loadGraph(allowEmpty bool) (*badger.DB, *graphctx.GraphContext, error) {
	db, err := a.openDB()
	if err != nil {
		return nil, nil, err
	}
	registry, err := graphctx.NewRegistry(graphctx.RegistryConfig{
		DefaultGraph: a.graphName,
		MaxGraphs:    1,
		GraphOptions: a.graphOptions(),
	}, a.logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	g, err := storage.LoadSnapshot(db, a.graphOptions())
	switch {
	case errors.Is(err, storage.ErrNotFound) && allowEmpty:
		return db, registry.Default(), nil
	case errors.Is(err, storage.ErrNotFound):
		db.Close()
		return nil, nil, fmt.Errorf("graph %q has no snapshot in %s (run generate first)", a.graphName, a.cfg.Database.DataDir)
	case err != nil:
		db.Close()
		return nil, nil, fmt.Errorf("loading graph %q: %w", a.graphName, err)
	}

	gc, err := registry.Replace(a.graphName, g)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	a.logger.Debug("graph loaded", "graph", a.graphName, "nodes", g.NodeCount(), "edges", g.EdgeCount())
	return db, gc, nil
}

func (a *app) save(db *badger.DB, gc *graphctx.GraphContext) error {
	return gc.Graph.WithReadLock(func() error {
		return storage.SaveSnapshot(db, gc.Graph)
	})
}

func (a *app) runGenerate(cmd *cobra.Command, _ []string) error {
	numNodes, _ := cmd.Flags().GetInt("nodes")
	numEdges, _ := cmd.Flags().GetInt("edges")
	numLabels, _ := cmd.Flags().GetInt("labels")
	numRelations, _ := cmd.Flags().GetInt("relations")
	seed, _ := cmd.Flags().GetUint64("seed")
	if numNodes < 0 || numEdges < 0 || numLabels < 1 || numRelations < 1 {
		return fmt.Errorf("nodes and edges must be >= 0, labels and relations >= 1")
	}
	if numEdges > 0 && numNodes == 0 {
		return fmt.Errorf("cannot create edges without nodes")
	}

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	gc := graphctx.New(a.graphName, storage.NewGraph(a.graphOptions()), nil, a.logger)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	start := time.Now()
	ids := make([]storage.NodeID, 0, numNodes)
	for i := range numNodes {
		label := fmt.Sprintf("L%d", rng.IntN(numLabels))
		n, err := gc.CreateNode([]string{label}, map[string]any{"seq": int64(i)})
		if err != nil {
			return fmt.Errorf("creating node %d: %w", i, err)
		}
		ids = append(ids, n.ID)
	}
	for i := range numEdges {
		rel := fmt.Sprintf("R%d", rng.IntN(numRelations))
		src, dst := ids[rng.IntN(len(ids))], ids[rng.IntN(len(ids))]
		if _, err := gc.CreateEdge(rel, src, dst, map[string]any{"seq": int64(i)}); err != nil {
			return fmt.Errorf("creating edge %d: %w", i, err)
		}
	}

	if err := a.save(db, gc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Generated graph %q: %d nodes, %d relationships in %s\n",
		a.graphName, numNodes, numEdges, time.Since(start).Round(time.Millisecond))
	return nil
}

// buildDeletePlan assembles
//
//	Results <- Delete <- [Expand] <- [Filter] <- LabelScan
func (a *app) buildDeletePlan(gc *graphctx.GraphContext, label, relation, where string, stats *execplan.ResultSetStatistics) (*execplan.Plan, error) {
	const (
		nodeSlot = 0
		edgeSlot = 1
	)
	ops := []execplan.Operator{execplan.NewResults(0)}

	delCfg := execplan.DeleteConfig{
		Stats:               stats,
		Metrics:             a.metrics,
		SlowCommitThreshold: a.cfg.Logging.SlowCommitThreshold,
	}
	if relation != "" {
		delCfg.EdgeSlots = []int{edgeSlot}
	} else {
		delCfg.NodeSlots = []int{nodeSlot}
	}
	ops = append(ops, execplan.NewDelete(gc, delCfg))

	if relation != "" {
		ops = append(ops, execplan.NewExpand(gc, execplan.ExpandConfig{
			SrcSlot:   nodeSlot,
			EdgeSlot:  edgeSlot,
			DstSlot:   -1,
			Direction: storage.DirOutgoing,
			Relation:  relation,
		}))
	}
	if where != "" {
		key, value, ok := strings.Cut(where, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --where %q: expected key=value", where)
		}
		ops = append(ops, execplan.NewFilter(execplan.PropertyEquals(nodeSlot, key, parseValue(value))))
	}
	ops = append(ops, execplan.NewLabelScan(gc, label, nodeSlot))

	return execplan.NewPlan(execplan.Chain(ops...), execplan.PlanOptions{
		Stats:   stats,
		Logger:  a.logger,
		Metrics: a.metrics,
	}), nil
}

// parseValue reads a --where value as an integer, float or bool when it
// parses as one, and as a string otherwise.
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return strings.Trim(s, `"'`)
}

func (a *app) runDelete(cmd *cobra.Command, _ []string) error {
	label, _ := cmd.Flags().GetString("label")
	relation, _ := cmd.Flags().GetString("relation")
	where, _ := cmd.Flags().GetString("where")
	explain, _ := cmd.Flags().GetBool("explain")

	db, gc, err := a.loadGraph(false)
	if err != nil {
		return err
	}
	defer db.Close()

	stats := &execplan.ResultSetStatistics{}
	plan, err := a.buildDeletePlan(gc, label, relation, where, stats)
	if err != nil {
		return err
	}
	if explain {
		fmt.Fprint(cmd.OutOrStdout(), plan.Explain())
		return plan.Free(cmd.Context())
	}

	rows, err := plan.Run(cmd.Context())
	if err != nil {
		return err
	}
	if stats.Snapshot().ContainsUpdates() {
		if err := a.save(db, gc); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(struct {
		QueryID string              `json:"query_id"`
		Rows    int                 `json:"rows"`
		Stats   execplan.QueryStats `json:"stats"`
	}{plan.ID.String(), rows, stats.Snapshot()}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if a.metrics != nil {
		counters, err := a.metrics.Counters()
		if err != nil {
			return err
		}
		a.logger.Debug("metrics", "counters", counters)
	}
	return nil
}

func (a *app) runCheck(cmd *cobra.Command, _ []string) error {
	db, gc, err := a.loadGraph(false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := gc.Graph.WithReadLock(gc.Graph.CheckIntegrity); err != nil {
		return fmt.Errorf("graph %q: %w", gc.Name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Graph %q OK\n", gc.Name)
	return nil
}

func (a *app) runStats(cmd *cobra.Command, _ []string) error {
	db, gc, err := a.loadGraph(true)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	g := gc.Graph
	return g.WithReadLock(func() error {
		fmt.Fprintf(out, "Graph:         %s\n", gc.Name)
		fmt.Fprintf(out, "Nodes:         %d\n", g.NodeCount())
		fmt.Fprintf(out, "Relationships: %d\n", g.EdgeCount())
		fmt.Fprintf(out, "Capacity:      %d\n", g.Capacity())

		labels := make([]string, 0, g.LabelCount())
		for i := range g.LabelCount() {
			l := storage.LabelID(i)
			labels = append(labels, fmt.Sprintf("  :%s %d", g.LabelName(l), g.LabelMatrix(l).NVals()))
		}
		sort.Strings(labels)
		if len(labels) > 0 {
			fmt.Fprintln(out, "Labels:")
			fmt.Fprintln(out, strings.Join(labels, "\n"))
		}

		rels := make([]string, 0, g.RelationCount())
		for i := range g.RelationCount() {
			r := storage.RelationID(i)
			rels = append(rels, fmt.Sprintf("  [:%s] %d connected pairs", g.RelationName(r), g.RelationMatrix(r).NVals()))
		}
		sort.Strings(rels)
		if len(rels) > 0 {
			fmt.Fprintln(out, "Relationship types:")
			fmt.Fprintln(out, strings.Join(rels, "\n"))
		}
		return nil
	})
}

func (a *app) runBackup(cmd *cobra.Command, args []string) error {
	db, gc, err := a.loadGraph(false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.BackupSnapshot(db, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backed up graph %q to %s\n", gc.Name, args[0])
	return nil
}

func (a *app) runRestore(cmd *cobra.Command, args []string) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	g, err := storage.RestoreSnapshot(db, args[0], a.graphOptions())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored graph %q from %s: %d nodes, %d relationships\n",
		a.graphName, args[0], g.NodeCount(), g.EdgeCount())
	return nil
}
