package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/DeusData/callgraph-mcp/internal/analyzer"
	"github.com/DeusData/callgraph-mcp/internal/fingerprint"
	"github.com/DeusData/callgraph-mcp/internal/metrics"
	"github.com/DeusData/callgraph-mcp/internal/query"
	"github.com/DeusData/callgraph-mcp/internal/tools"
	"github.com/DeusData/callgraph-mcp/internal/watcher"
)

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Serve(a.cfg.MetricsAddr)

	if watch, _ := cmd.Flags().GetBool("watch"); watch && len(a.cfg.Packages) > 0 {
		idx := a.packageIndexer()
		packages := make([]watcher.Package, len(a.cfg.Packages))
		for i, p := range a.cfg.Packages {
			packages[i] = watcher.Package{Name: p.Name, Dir: p.Dir}
		}
		w := watcher.New(packages, fingerprint.DefaultExt, func(ctx context.Context, pkg, dir string) error {
			_, err := idx.IndexPackage(ctx, pkg, dir)
			return err
		})
		go w.Run(ctx)
	}

	srv := tools.NewServer(tools.Config{
		Store:   a.graph,
		Docs:    query.New(query.Documents{Backend: a.docs}, queryOptions(a.cfg)),
		Version: cmd.Root().Version,
	})
	return srv.MCPServer().Run(ctx, &mcp.StdioTransport{})
}

func (a *app) packageIndexer() *analyzer.PackageIndexer {
	return &analyzer.PackageIndexer{
		Client:   analyzer.New(a.cfg.Analyzers.BytecodeURL, a.cfg.Analyzers.Timeout),
		Resolver: a.res,
		Tracker:  fingerprint.NewTracker(a.res, fingerprint.DefaultExt),
		Domains:  a.cfg.Domains,
	}
}
