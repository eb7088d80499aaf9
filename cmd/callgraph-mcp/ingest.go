package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/DeusData/callgraph-mcp/internal/analyzer"
	"github.com/DeusData/callgraph-mcp/internal/ingest"
)

func runIngest(cmd *cobra.Command, args []string) error {
	classRoots, _ := cmd.Flags().GetStringSlice("classes-root")
	sourceFiles, _ := cmd.Flags().GetStringSlice("source-file")
	if len(args) == 0 && len(classRoots) == 0 && len(sourceFiles) == 0 {
		return fmt.Errorf("nothing to ingest: pass fact files, --classes-root or --source-file")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	update, _ := cmd.Flags().GetBool("update")
	noStubs, _ := cmd.Flags().GetBool("no-stubs")
	w := ingest.NewWriter(ingest.Config{
		Graph:          a.graph,
		Docs:           a.docs,
		BatchSize:      a.cfg.BatchSize,
		UpdateIfExists: update,
		NoStubs:        noStubs,
		Assigner: &ingest.Assigner{
			Resolver:       a.res,
			Allowed:        a.cfg.AllowedPackages,
			ProjectPackage: a.cfg.ProjectPackage,
		},
	})

	var producers []ingest.Producer
	for _, name := range args {
		if name == "-" {
			producers = append(producers, ingest.ReadJSONL(os.Stdin, "stdin"))
			continue
		}
		f, err := os.Open(name)
		if err != nil {
			_ = w.Close()
			return fmt.Errorf("open facts: %w", err)
		}
		defer f.Close()
		producers = append(producers, ingest.ReadJSONL(f, name))
	}
	if len(classRoots) > 0 {
		c := analyzer.New(a.cfg.Analyzers.BytecodeURL, a.cfg.Analyzers.Timeout)
		producers = append(producers, c.Producer(analyzer.AnalyzeRequest{PackageRoots: classRoots, Domains: a.cfg.Domains}))
	}
	if len(sourceFiles) > 0 {
		c := analyzer.New(a.cfg.Analyzers.SourceURL, a.cfg.Analyzers.Timeout)
		var repos []string
		if a.cfg.ProjectRoot != "" {
			repos = []string{a.cfg.ProjectRoot}
		}
		producers = append(producers, c.Producer(analyzer.AnalyzeRequest{Files: sourceFiles, Repos: repos}))
	}

	runErr := ingest.Run(cmd.Context(), w, producers...)
	closeErr := w.Close()
	st := w.Stats()
	slog.Info("ingest.done", "nodes", st.Nodes, "edges", st.Edges, "usages", st.Usages, "skipped", st.Skipped)
	if runErr != nil {
		return runErr
	}
	return closeErr
}
