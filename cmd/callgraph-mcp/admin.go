package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DeusData/callgraph-mcp/internal/config"
	"github.com/DeusData/callgraph-mcp/internal/merge"
	"github.com/DeusData/callgraph-mcp/internal/query"
)

func runMerge(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	eng := merge.New(a.docs, sourceOpener(a.cfg.Backend), a.cfg.MergePageSize)

	if len(args) == 0 {
		dir, err := a.cacheDir()
		if err != nil {
			return err
		}
		args = []string{dir.Dir()}
	}

	copied := make(map[string]int)
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		// a directory is a cache dir unless it is itself a badger store
		if info.IsDir() && !isBadgerStore(path) {
			dir, err := merge.NewCacheDir(path, a.cfg.Backend)
			if err != nil {
				return err
			}
			result, err := eng.MergeAll(cmd.Context(), dir)
			for pkg, n := range result {
				copied[pkg] = n
			}
			if err != nil {
				return err
			}
			continue
		}
		n, err := eng.MergeFrom(cmd.Context(), path, limit)
		if err != nil {
			return err
		}
		copied[path] = n
	}
	return printJSON(cmd, copied)
}

func isBadgerStore(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "MANIFEST"))
	return err == nil
}

func runIndexPackage(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	packages := a.cfg.Packages
	if len(args) == 2 {
		packages = []config.Package{{Name: args[0], Dir: args[1]}}
	}
	if len(packages) == 0 {
		return fmt.Errorf("no packages: pass <name> <dir> or configure packages")
	}

	idx := a.packageIndexer()
	indexed := make(map[string]bool, len(packages))
	for _, p := range packages {
		ok, err := idx.IndexPackage(cmd.Context(), p.Name, p.Dir)
		if err != nil {
			slog.Warn("index.package.err", "package", p.Name, "err", err)
			continue
		}
		indexed[p.Name] = ok
	}
	return printJSON(cmd, indexed)
}

func runRewriteURIs(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.ProjectRoot == "" {
		return fmt.Errorf("project_root is not configured")
	}
	packages := args
	if len(packages) == 0 && a.cfg.ProjectPackage != "" {
		packages = []string{a.cfg.ProjectPackage}
	}
	n, err := a.res.RewriteLocalURIs(a.cfg.ProjectRoot, packages)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]int{"updated": n})
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	graph, err := a.graph.Stats()
	if err != nil {
		return err
	}
	module, _ := cmd.Flags().GetString("module")
	usages := query.New(query.Documents{Backend: a.docs}, queryOptions(a.cfg)).Stats(module)
	return printJSON(cmd, map[string]any{"graph": graph, "usages": usages})
}

func runReset(cmd *cobra.Command, _ []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return fmt.Errorf("reset drops every node and edge; pass --yes to confirm")
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.graph.Reset(); err != nil {
		return err
	}
	slog.Info("graph.reset", "path", a.graph.Path())
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.FileName
	if len(args) == 1 {
		path = args[0]
	}
	if force, _ := cmd.Flags().GetBool("force"); !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s exists; pass --force to overwrite", path)
		}
	}
	if err := config.Write(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
