package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "callgraph-mcp",
		Short: "Call graph store and query server for Java projects",
		Long: `callgraph-mcp stores symbols and their call, inheritance and membership
relationships extracted by external analyzers, merges precomputed dependency
caches into a project store, and answers usage, callee and impact queries over
MCP stdio.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(verbose)
		},
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./.callgraph.yaml or ~/.config/callgraph-mcp/.callgraph.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging on stderr")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().Bool("watch", false, "Keep configured dependency packages indexed while serving")

	ingestCmd := &cobra.Command{
		Use:   "ingest [facts.jsonl|-]...",
		Short: "Ingest node, edge and usage facts",
		Long: `Ingest reads newline-delimited JSON facts (nodes, edges or usage records)
from files or stdin, and optionally asks the analyzers for facts directly.
Every batch is resolved against the symbol index and committed atomically.`,
		RunE: runIngest,
	}
	ingestCmd.Flags().Bool("update", false, "Let declarations replace existing nodes, promoting stubs")
	ingestCmd.Flags().Bool("no-stubs", false, "Do not create placeholder nodes for unseen edge endpoints")
	ingestCmd.Flags().StringSlice("classes-root", nil, "Compiled class roots to send to the bytecode analyzer")
	ingestCmd.Flags().StringSlice("source-file", nil, "Java source files to send to the source analyzer")

	mergeCmd := &cobra.Command{
		Use:   "merge [cache-dir|store]...",
		Short: "Merge dependency document caches into the project store",
		RunE:  runMerge,
	}
	mergeCmd.Flags().Int("limit", 0, "Copy at most this many documents per store (debugging)")

	indexCmd := &cobra.Command{
		Use:   "index-package [name dir]",
		Short: "Refresh the symbol index of changed dependency packages",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return cobra.ExactArgs(2)(cmd, args)
			}
			return nil
		},
		RunE: runIndexPackage,
	}

	rewriteCmd := &cobra.Command{
		Use:   "rewrite-uris [package]...",
		Short: "Point symbol URIs of project-built packages at the project sources",
		RunE:  runRewriteURIs,
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print graph and usage statistics as JSON",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
	statsCmd.Flags().String("module", "", "Restrict usage statistics to one module")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop all nodes and edges from the graph store",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}
	resetCmd.Flags().Bool("yes", false, "Confirm the reset")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd, ingestCmd, mergeCmd, indexCmd, rewriteCmd, statsCmd, resetCmd, configCmd)
	return rootCmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
