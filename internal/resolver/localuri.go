package resolver

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

var versionSuffix = regexp.MustCompile(`^(.+?)-[\d.]+`)

// ModuleName strips the version suffix from a package id ("billing-8.2.9" -> "billing").
func ModuleName(pkg string) (string, bool) {
	m := versionSuffix.FindStringSubmatch(pkg)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RewriteLocalURIs points the entries of packages built from the project itself
// at the project's source tree instead of the dependency cache. Entries without
// a matching source file keep their URI. Returns the number of rows updated.
func (r *Resolver) RewriteLocalURIs(projectRoot string, localPackages []string) (int, error) {
	modulesDir := filepath.Join(projectRoot, "modules")
	if info, err := os.Stat(modulesDir); err != nil || !info.IsDir() {
		slog.Warn("resolver.rewrite.no_modules", "dir", modulesDir)
		return 0, nil
	}

	total := 0
	for _, pkg := range localPackages {
		name, ok := ModuleName(pkg)
		if !ok {
			slog.Warn("resolver.rewrite.bad_package", "package", pkg)
			continue
		}
		modulePath := filepath.Join(modulesDir, name)
		if _, err := os.Stat(modulePath); err != nil {
			slog.Warn("resolver.rewrite.no_module", "package", pkg, "path", modulePath)
			continue
		}
		n, err := r.rewritePackage(pkg, projectRoot, modulePath)
		if err != nil {
			return total, err
		}
		slog.Info("resolver.rewrite", "package", pkg, "module", name, "updated", n)
		total += n
	}
	return total, nil
}

func (r *Resolver) rewritePackage(pkg, projectRoot, modulePath string) (int, error) {
	entries, err := r.Entries(pkg)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var mu sync.Mutex
	updates := make(map[string]string)
	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for _, e := range entries {
		g.Go(func() error {
			uri := localURI(e.FQN, projectRoot, modulePath)
			if uri == "" || uri == e.URI {
				return nil
			}
			mu.Lock()
			updates[e.FQN] = uri
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	for fqn, uri := range updates {
		if _, err := tx.Exec("UPDATE symbol_index SET uri=? WHERE fqn=? AND package=?", uri, fqn, pkg); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("update uri: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(updates), nil
}

// classPath turns an FQN into the relative path of its declaring source file.
// A parameter list and a trailing lower-case member segment are dropped.
func classPath(fqn string) string {
	class := fqn
	if i := strings.IndexByte(class, '('); i >= 0 {
		class = class[:i]
	}
	if i := strings.LastIndexByte(class, '.'); i >= 0 {
		last := class[i+1:]
		if last != "" && last[0] >= 'a' && last[0] <= 'z' {
			class = class[:i]
		}
	}
	return filepath.FromSlash(strings.ReplaceAll(class, ".", "/") + ".java")
}

// localURI probes the canonical source layouts for fqn. Persistence models
// (".db." packages) are generated, so the generated-sources trees come first.
func localURI(fqn, projectRoot, modulePath string) string {
	rel := classPath(fqn)
	var candidates []string
	if strings.Contains(fqn, ".db.") {
		candidates = append(candidates,
			filepath.Join(projectRoot, "build", "src-gen", "java", rel),
			filepath.Join(modulePath, "build", "src-gen", "java", rel))
	}
	candidates = append(candidates, filepath.Join(modulePath, "src", "main", "java", rel))

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return fileURI(c)
		}
	}
	return ""
}

func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
