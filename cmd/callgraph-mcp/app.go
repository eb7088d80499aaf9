package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DeusData/callgraph-mcp/internal/config"
	"github.com/DeusData/callgraph-mcp/internal/docstore"
	"github.com/DeusData/callgraph-mcp/internal/merge"
	"github.com/DeusData/callgraph-mcp/internal/query"
	"github.com/DeusData/callgraph-mcp/internal/resolver"
	"github.com/DeusData/callgraph-mcp/internal/store"
)

// app holds the stores one command works on.
type app struct {
	cfg     *config.Config
	dataDir string
	graph   *store.Store
	res     *resolver.Resolver
	docs    docstore.Backend
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openApp opens the graph store, the resolver tables in the same file and the
// usage document store under the data dir.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		if dataDir, err = store.DataDir(); err != nil {
			return nil, err
		}
	}

	graph, err := store.OpenPath(filepath.Join(dataDir, "graph.db"))
	if err != nil {
		return nil, err
	}
	res, err := resolver.New(graph.DB())
	if err != nil {
		graph.Close()
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	docs, err := openDocs(cfg.Backend, filepath.Join(dataDir, "usages"), verbose)
	if err != nil {
		graph.Close()
		return nil, err
	}
	slog.Debug("app.open", "data_dir", dataDir, "backend", cfg.Backend)
	return &app{cfg: cfg, dataDir: dataDir, graph: graph, res: res, docs: docs}, nil
}

func (a *app) Close() error {
	return errors.Join(a.docs.Close(), a.graph.Close())
}

func openDocs(backend, base string, verbose bool) (docstore.Backend, error) {
	switch backend {
	case merge.BackendBadger:
		cfg := docstore.BadgerConfig{Path: base + ".badger"}
		if verbose {
			cfg.Logger = slog.Default()
		}
		return docstore.OpenBadger(cfg)
	case merge.BackendSQLite:
		return docstore.OpenSQLite(base + ".db")
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

// sourceOpener opens dependency caches read-only.
func sourceOpener(backend string) merge.Opener {
	if backend == merge.BackendBadger {
		return func(path string) (docstore.Backend, error) {
			return docstore.OpenBadger(docstore.BadgerConfig{Path: path, ReadOnly: true})
		}
	}
	return func(path string) (docstore.Backend, error) {
		return docstore.OpenSQLiteReadOnly(path)
	}
}

func (a *app) cacheDir() (*merge.CacheDir, error) {
	return merge.NewCacheDir(filepath.Join(a.dataDir, "cache"), a.cfg.Backend)
}

func queryOptions(cfg *config.Config) query.Options {
	return query.Options{
		CallType:           cfg.UsageTypes.Call,
		DeclarationType:    cfg.UsageTypes.Declaration,
		MaxFetch:           cfg.MaxFetch,
		MaxDepth:           cfg.MaxDepth,
		ImpactWidth:        cfg.ImpactWidth,
		CustomModulePrefix: cfg.CustomModulePrefix,
		GeneratedMarkers:   cfg.GeneratedMarkers,
		ExternalMarkers:    cfg.ExternalMarkers,
	}
}
