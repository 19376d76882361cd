// Package main provides the matrixgraph CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "matrixgraph",
		Short: "matrixgraph - matrix-backed property graph tooling",
		Long: `matrixgraph stores property graphs as sparse adjacency matrices,
one per relationship type plus one per label, and persists them as
BadgerDB snapshots.

Commands operate on one named graph under the data directory.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: search standard locations)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config)")
	rootCmd.PersistentFlags().String("graph", "", "Graph name (default: database.default_graph)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "matrixgraph v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Generate command
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Build a random graph and persist it",
		RunE:  a.runGenerate,
	}
	generateCmd.Flags().Int("nodes", 1000, "Number of nodes")
	generateCmd.Flags().Int("edges", 5000, "Number of edges")
	generateCmd.Flags().Int("labels", 3, "Number of distinct labels")
	generateCmd.Flags().Int("relations", 2, "Number of distinct relationship types")
	generateCmd.Flags().Uint64("seed", 1, "Random seed")
	rootCmd.AddCommand(generateCmd)

	// Delete command
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete labeled nodes, or their outgoing relationships",
		Long: `Delete every node carrying --label together with all of its
relationships. With --relation, only the outgoing relationships of that
type are deleted and the nodes are kept.`,
		RunE: a.runDelete,
	}
	deleteCmd.Flags().String("label", "", "Label of the nodes to match (required)")
	deleteCmd.Flags().String("relation", "", "Delete outgoing relationships of this type instead of the nodes")
	deleteCmd.Flags().String("where", "", "Only match nodes whose property equals a value, as key=value")
	deleteCmd.Flags().Bool("explain", false, "Print the execution plan without running it")
	_ = deleteCmd.MarkFlagRequired("label")
	rootCmd.AddCommand(deleteCmd)

	// Check command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify the structural integrity of a persisted graph",
		RunE:  a.runCheck,
	})

	// Stats command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show node, relationship and label counts",
		RunE:  a.runStats,
	})

	// Backup and restore commands
	rootCmd.AddCommand(&cobra.Command{
		Use:   "backup [file]",
		Short: "Write a portable backup of a persisted graph",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runBackup,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "restore [file]",
		Short: "Replace a graph with the contents of a backup",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runRestore,
	})

	return rootCmd
}
